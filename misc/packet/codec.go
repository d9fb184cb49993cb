package packet

import (
	"encoding/binary"

	"github.com/hybrasyl/server-sub005/misc/crypto"
)

// Keys is the key material a codec needs from a session.
type Keys interface {
	Seed() byte
	Key() []byte
}

// Codec frames and encrypts messages for one direction pair.
type Codec struct {
	Inbound   Classes // applied by Decode
	Outbound  Classes // applied by Encode
	MaxLength int
}

// NewCodec returns a codec using the default opcode partition.
func NewCodec() *Codec {
	return &Codec{
		Inbound:   DefaultInbound,
		Outbound:  DefaultOutbound,
		MaxLength: DefaultMaxLength,
	}
}

func (c *Codec) maxLength() int {
	if c.MaxLength <= 0 || c.MaxLength > 0xFFFF {
		return 0xFFFF
	}
	return c.MaxLength
}

// Decode extracts the first frame of buf. It returns the frame and the
// number of bytes it occupied, ErrNeedMoreData when buf holds only a
// prefix (nothing is consumed), or a *MalformedError.
func (c *Codec) Decode(buf []byte, keys Keys) (*Frame, int, error) {
	if len(buf) == 0 {
		return nil, 0, ErrNeedMoreData
	}
	if buf[0] != Header {
		return nil, 0, malformed("bad header 0x%02X", buf[0])
	}
	if len(buf) < HeaderSize+1 {
		return nil, 0, ErrNeedMoreData
	}

	length := int(binary.BigEndian.Uint16(buf[1:3]))
	if length == 0 {
		return nil, 0, malformed("zero length")
	}
	if length > c.maxLength() {
		return nil, 0, malformed("length %d exceeds %d", length, c.maxLength())
	}

	opcode := buf[3]
	class := c.Inbound.Of(opcode)
	if class != Unencrypted && length < 2 {
		return nil, 0, malformed("encrypted opcode 0x%02X without ordinal", opcode)
	}

	total := HeaderSize + length + FooterSize
	if len(buf) < total {
		return nil, 0, ErrNeedMoreData
	}
	footer := buf[HeaderSize+length : total]
	if footer[0] != Footer[0] || footer[1] != Footer[1] || footer[2] != Footer[2] {
		return nil, 0, malformed("bad footer % X", footer)
	}

	f := &Frame{Opcode: opcode}
	payload := buf[HeaderSize+1 : HeaderSize+length]
	if class != Unencrypted {
		f.Ordinal = payload[0]
		payload = payload[1:]
	}
	f.Body = make([]byte, len(payload))
	copy(f.Body, payload)

	if class != Unencrypted {
		key, err := keyFor(class, keys)
		if err != nil {
			return nil, 0, err
		}
		crypto.Transform(f.Body, keys.Seed(), key, f.Ordinal)
	}
	return f, total, nil
}

// Encode serialises f, encrypting the body according to the outbound class
// of its opcode. f is not modified.
func (c *Codec) Encode(f *Frame, keys Keys) ([]byte, error) {
	class := c.Outbound.Of(f.Opcode)
	length := 1 + len(f.Body)
	if class != Unencrypted {
		length++
	}
	if length > c.maxLength() {
		return nil, malformed("length %d exceeds %d", length, c.maxLength())
	}

	out := make([]byte, HeaderSize+length+FooterSize)
	out[0] = Header
	binary.BigEndian.PutUint16(out[1:3], uint16(length))
	out[3] = f.Opcode
	body := out[4 : HeaderSize+length]
	if class != Unencrypted {
		body[0] = f.Ordinal
		body = body[1:]
	}
	copy(body, f.Body)
	copy(out[HeaderSize+length:], Footer[:])

	if class != Unencrypted {
		key, err := keyFor(class, keys)
		if err != nil {
			return nil, err
		}
		crypto.Transform(body, keys.Seed(), key, f.Ordinal)
	}
	return out, nil
}

// Encrypted reports whether opcode carries an ordinal when sent by the server.
func (c *Codec) Encrypted(opcode byte) bool {
	return c.Outbound.Of(opcode) != Unencrypted
}

func keyFor(class Class, keys Keys) ([]byte, error) {
	if keys == nil {
		return nil, malformed("encrypted frame without key material")
	}
	if class == DefaultKey {
		return crypto.DefaultKey(keys.Seed()), nil
	}
	key := keys.Key()
	if len(key) == 0 {
		return nil, malformed("session key not negotiated")
	}
	return key, nil
}
