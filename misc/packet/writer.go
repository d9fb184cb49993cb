package packet

import "encoding/binary"

// Writer builds a frame body.
type Writer struct {
	data []byte
}

func NewWriter() *Writer {
	return &Writer{data: make([]byte, 0, 64)}
}

func (w *Writer) Data() []byte { return w.data }

func (w *Writer) WriteU8(v byte) {
	w.data = append(w.data, v)
}

func (w *Writer) WriteU16(v uint16) {
	w.data = binary.BigEndian.AppendUint16(w.data, v)
}

func (w *Writer) WriteU32(v uint32) {
	w.data = binary.BigEndian.AppendUint32(w.data, v)
}

func (w *Writer) WriteBytes(v []byte) {
	w.data = append(w.data, v...)
}

// WriteString8 writes a one byte length prefix; longer strings are truncated to 255 bytes.
func (w *Writer) WriteString8(s string) {
	if len(s) > 0xFF {
		s = s[:0xFF]
	}
	w.WriteU8(byte(len(s)))
	w.data = append(w.data, s...)
}

func (w *Writer) WriteString16(s string) {
	if len(s) > 0xFFFF {
		s = s[:0xFFFF]
	}
	w.WriteU16(uint16(len(s)))
	w.data = append(w.data, s...)
}

// Pack is a helper for messages that know how to serialise themselves.
type Packer interface {
	Pack(w *Writer)
}

// Pack serialises p into a new body.
func Pack(p Packer) []byte {
	w := NewWriter()
	p.Pack(w)
	return w.Data()
}
