package packet

import (
	"errors"
	"fmt"
)

const (
	Header           = 0xAA
	HeaderSize       = 3 // header byte + 16-bit length
	FooterSize       = 3
	DefaultMaxLength = 16384
)

// Footer terminates every frame.
var Footer = [FooterSize]byte{0x74, 0x24, 0x64}

// ErrNeedMoreData is returned by Decode when the buffer holds only a prefix of a frame.
var ErrNeedMoreData = errors.New("packet: need more data")

// MalformedError is fatal to the connection that produced it.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("packet: malformed frame: %s", e.Reason)
}

func malformed(format string, args ...interface{}) error {
	return &MalformedError{Reason: fmt.Sprintf(format, args...)}
}

// IsMalformed reports whether err is a MalformedError.
func IsMalformed(err error) bool {
	var m *MalformedError
	return errors.As(err, &m)
}

// Frame is one decoded protocol message. Body is always plaintext.
type Frame struct {
	Opcode  byte
	Ordinal byte
	Body    []byte
}

func (f *Frame) String() string {
	return fmt.Sprintf("0x%02X(ord=%d, %d bytes)", f.Opcode, f.Ordinal, len(f.Body))
}

// Reader returns a body reader positioned at the start of the body.
func (f *Frame) Reader() *Reader {
	return NewReader(f.Body)
}
