// Package crypto implements the symmetric frame cipher and its key material.
package crypto

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"math/big"
)

const (
	SaltTables = 10
	SaltSize   = 256
	KeySize    = 9
)

var (
	salt        [SaltTables][SaltSize]byte
	defaultKeys [256][]byte
)

func init() {
	for s := 0; s < SaltTables; s++ {
		x := uint32(s)*0x9E3779B1 + 0x7F4A7C15
		for i := 0; i < SaltSize; i++ {
			x = x*1664525 + 1013904223
			salt[s][i] = byte(x >> 24)
		}
	}
	for s := 0; s < 256; s++ {
		defaultKeys[s] = deriveKey(byte(s))
	}
}

func deriveKey(seed byte) []byte {
	h := md5.Sum([]byte{seed})
	h = md5.Sum([]byte(hex.EncodeToString(h[:])))
	return []byte(hex.EncodeToString(h[:])[:KeySize])
}

// DefaultKey returns the key derived from seed. The slice is shared and must not be modified.
func DefaultKey(seed byte) []byte {
	return defaultKeys[seed]
}

// Transform encrypts or decrypts data in place. Applying it twice with the
// same parameters restores the input.
func Transform(data []byte, seed byte, key []byte, ordinal byte) {
	if len(key) == 0 {
		return
	}
	table := &salt[int(seed)%SaltTables]
	mask := table[ordinal]
	for i := range data {
		idx := (i / len(key)) % SaltSize
		data[i] ^= key[i%len(key)]
		data[i] ^= table[idx]
		if idx != int(ordinal) {
			data[i] ^= mask
		}
	}
}

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewKey returns a fresh random session key.
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	max := big.NewInt(int64(len(letters)))
	for i := range key {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return nil, err
		}
		key[i] = letters[n.Int64()]
	}
	return key, nil
}

// NewSeed returns a random salt table index.
func NewSeed() (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(SaltTables))
	if err != nil {
		return 0, err
	}
	return byte(n.Int64()), nil
}
