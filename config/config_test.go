package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybrasyl/server-sub005/types"
)

const table = `
throttles:
  - opcode: 6
    interval_ms: 150
    duration_ms: 1000
    disconnect_threshold: 20
  - opcode: 14
    interval_ms: 500
    duration_ms: 3000
    squelch:
      count: 3
      window_ms: 5000
      duration_ms: 10000
      disconnect_threshold: 4
`

func TestLoadThrottles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "throttles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(table), 0o600))

	p, err := LoadThrottles(path)
	require.NoError(t, err)
	require.Len(t, p, 2)

	walk := p[0x06]
	assert.Equal(t, 150*time.Millisecond, walk.Interval)
	assert.Equal(t, time.Second, walk.Duration)
	assert.Equal(t, 20, walk.DisconnectThreshold)
	assert.Nil(t, walk.Squelch)

	say := p[0x0E]
	require.NotNil(t, say.Squelch)
	assert.Equal(t, 3, say.Squelch.Count)
	assert.Equal(t, 5*time.Second, say.Squelch.Window)
	assert.Equal(t, 10*time.Second, say.Squelch.Duration)
	assert.Equal(t, 4, say.Squelch.DisconnectThreshold)
}

func TestParseThrottlesRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"range":     "throttles:\n  - opcode: 256\n",
		"duplicate": "throttles:\n  - opcode: 1\n  - opcode: 1\n",
		"negative":  "throttles:\n  - opcode: 1\n    interval_ms: -5\n",
		"squelch":   "throttles:\n  - opcode: 1\n    squelch:\n      count: 0\n",
		"unknown":   "throttles:\n  - opcode: 1\n    intervall: 5\n",
	} {
		_, err := ParseThrottles([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestAdvertised(t *testing.T) {
	c := Default()
	ip, port, err := c.Advertised(types.Login)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ip.String())
	assert.Equal(t, uint16(2611), port)

	c.AdvertiseHost = "::1"
	_, _, err = c.Advertised(types.Login)
	assert.Error(t, err)
}
