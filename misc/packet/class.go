package packet

// Class selects how a frame body is transformed on the wire.
type Class byte

const (
	SessionKey Class = iota // per-redirect session key
	DefaultKey              // key derived from the session seed
	Unencrypted
)

func (c Class) String() string {
	switch c {
	case Unencrypted:
		return "unencrypted"
	case DefaultKey:
		return "default-key"
	case SessionKey:
		return "session-key"
	}
	return "unknown"
}

// Classes maps every opcode to its encryption class. The zero value
// classifies everything as SessionKey.
type Classes [256]Class

// NewClasses builds a table from explicit unencrypted and default-key lists.
func NewClasses(unencrypted, defaultKey []byte) Classes {
	var c Classes
	for _, op := range defaultKey {
		c[op] = DefaultKey
	}
	for _, op := range unencrypted {
		c[op] = Unencrypted
	}
	return c
}

// Of returns the class of opcode.
func (c *Classes) Of(opcode byte) Class {
	return c[opcode]
}

// client -> server
var DefaultInbound = NewClasses(
	[]byte{0x00, 0x10, 0x45, 0x75},
	[]byte{0x02, 0x03, 0x04, 0x0B, 0x26, 0x2D, 0x3A, 0x42, 0x43, 0x4B, 0x57, 0x62, 0x68, 0x71, 0x73, 0x7B},
)

// server -> client
var DefaultOutbound = NewClasses(
	[]byte{0x00, 0x03, 0x3B, 0x40, 0x68, 0x7E},
	[]byte{0x01, 0x02, 0x0A, 0x56, 0x60, 0x62, 0x66, 0x6F},
)
