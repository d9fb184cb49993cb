package packet

import (
	"encoding/binary"
	"errors"
)

var ErrShortBody = errors.New("packet: body too short")

// Reader reads big-endian fields from a frame body.
type Reader struct {
	data []byte
	pos  int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) Len() int { return len(r.data) - r.pos }

func (r *Reader) ReadU8() (byte, error) {
	if r.Len() < 1 {
		return 0, ErrShortBody
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *Reader) ReadU16() (uint16, error) {
	if r.Len() < 2 {
		return 0, ErrShortBody
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) ReadU32() (uint32, error) {
	if r.Len() < 4 {
		return 0, ErrShortBody
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadBytes returns a copy of the next n bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.Len() < n {
		return nil, ErrShortBody
	}
	b := make([]byte, n)
	copy(b, r.data[r.pos:])
	r.pos += n
	return b, nil
}

// ReadString8 reads a string prefixed by a one byte length.
func (r *Reader) ReadString8() (string, error) {
	n, err := r.ReadU8()
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(int(n))
	return string(b), err
}

// ReadString16 reads a string prefixed by a two byte length.
func (r *Reader) ReadString16() (string, error) {
	n, err := r.ReadU16()
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(int(n))
	return string(b), err
}
