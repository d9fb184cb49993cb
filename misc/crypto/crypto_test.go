package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformIsSymmetric(t *testing.T) {
	key := []byte("UrkcnItnI")
	plain := bytes.Repeat([]byte("the quick brown fox "), 40)
	for seed := byte(0); seed < SaltTables; seed++ {
		for _, ord := range []byte{0, 1, 7, 255} {
			data := append([]byte(nil), plain...)
			Transform(data, seed, key, ord)
			assert.NotEqual(t, plain, data)
			Transform(data, seed, key, ord)
			assert.Equal(t, plain, data)
		}
	}
}

func TestTransformDependsOnKey(t *testing.T) {
	a := []byte("hello world")
	b := append([]byte(nil), a...)
	Transform(a, 3, []byte("UrkcnItnI"), 1)
	Transform(b, 3, []byte("UrkcnItnJ"), 1)
	assert.NotEqual(t, a, b)
}

func TestDefaultKey(t *testing.T) {
	k := DefaultKey(4)
	assert.Len(t, k, KeySize)
	assert.Equal(t, k, DefaultKey(4))
	assert.NotEqual(t, k, DefaultKey(5))
}

func TestNewKeyAndSeed(t *testing.T) {
	k, err := NewKey()
	require.NoError(t, err)
	assert.Len(t, k, KeySize)
	for _, c := range k {
		assert.Contains(t, letters, string(c))
	}
	for i := 0; i < 50; i++ {
		s, err := NewSeed()
		require.NoError(t, err)
		assert.Less(t, s, byte(SaltTables))
	}
}
