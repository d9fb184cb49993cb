// Package config holds gateway settings and the per-opcode throttle table.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/hybrasyl/server-sub005/misc/packet"
	"github.com/hybrasyl/server-sub005/throttle"
	"github.com/hybrasyl/server-sub005/types"
)

type Config struct {
	ListenAddrs   map[types.Role]string
	AdvertiseHost string // IPv4 address written into redirect packets

	WebsocketAddr string
	WebsocketRole types.Role
	KCP           bool
	MaxConns      int // per role, 0 is unlimited

	RPSLimit float64 // frames per second per session, 0 disables
	RPSBurst int

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	FlushInterval  time.Duration
	SweepInterval  time.Duration
	MaxFrameLength int

	HeartbeatInterval time.Duration
	HeartbeatReap     time.Duration
	IdleAfter         time.Duration
	IdleDisconnect    time.Duration // 0 disables
	RedirectTTL       time.Duration
	SaveInterval      time.Duration

	Throttles map[byte]throttle.Policy

	MetricsAddr string
	HealthAddr  string
	LogLevel    string
}

func Default() Config {
	return Config{
		ListenAddrs: map[types.Role]string{
			types.Lobby: ":2610",
			types.Login: ":2611",
			types.World: ":2612",
		},
		AdvertiseHost:     "127.0.0.1",
		WebsocketRole:     types.Lobby,
		RPSLimit:          60,
		RPSBurst:          120,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      10 * time.Second,
		FlushInterval:     50 * time.Millisecond,
		SweepInterval:     time.Second,
		MaxFrameLength:    packet.DefaultMaxLength,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatReap:     2 * time.Minute,
		IdleAfter:         5 * time.Minute,
		RedirectTTL:       30 * time.Second,
		SaveInterval:      5 * time.Minute,
		Throttles:         DefaultThrottles(),
		LogLevel:          "info",
	}
}

// Advertised returns the ip and port a client should dial to reach role.
func (c *Config) Advertised(role types.Role) (net.IP, uint16, error) {
	_, portStr, err := net.SplitHostPort(c.ListenAddrs[role])
	if err != nil {
		return nil, 0, fmt.Errorf("listen address of %s: %w", role, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, 0, fmt.Errorf("listen port of %s: %w", role, err)
	}
	ip := net.ParseIP(c.AdvertiseHost).To4()
	if ip == nil {
		return nil, 0, fmt.Errorf("advertise host %q is not an IPv4 address", c.AdvertiseHost)
	}
	return ip, uint16(port), nil
}

// DefaultThrottles is used when no throttle file is configured.
func DefaultThrottles() map[byte]throttle.Policy {
	return map[byte]throttle.Policy{
		// walk
		0x06: {Interval: 100 * time.Millisecond, Duration: time.Second, DisconnectThreshold: 50},
		// say
		0x0E: {
			Interval:            500 * time.Millisecond,
			Duration:            3 * time.Second,
			DisconnectThreshold: 20,
			Squelch: &throttle.SquelchPolicy{
				Count:               3,
				Window:              5 * time.Second,
				Duration:            10 * time.Second,
				DisconnectThreshold: 10,
			},
		},
		// assail
		0x13: {Interval: 300 * time.Millisecond, Duration: 2 * time.Second, DisconnectThreshold: 30},
		// whisper
		0x19: {
			Interval:            500 * time.Millisecond,
			Duration:            3 * time.Second,
			DisconnectThreshold: 20,
			Squelch: &throttle.SquelchPolicy{
				Count:    3,
				Window:   5 * time.Second,
				Duration: 10 * time.Second,
			},
		},
		// refresh
		0x38: {Interval: time.Second, Duration: 5 * time.Second, DisconnectThreshold: 10},
	}
}

type squelchEntry struct {
	Count               int `json:"count"`
	WindowMS            int `json:"window_ms"`
	DurationMS          int `json:"duration_ms"`
	DisconnectThreshold int `json:"disconnect_threshold"`
}

type throttleEntry struct {
	Opcode              int           `json:"opcode"`
	IntervalMS          int           `json:"interval_ms"`
	DurationMS          int           `json:"duration_ms"`
	DisconnectThreshold int           `json:"disconnect_threshold"`
	Squelch             *squelchEntry `json:"squelch,omitempty"`
}

type throttleFile struct {
	Throttles []throttleEntry `json:"throttles"`
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// ParseThrottles decodes a YAML throttle table.
func ParseThrottles(data []byte) (map[byte]throttle.Policy, error) {
	var f throttleFile
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("throttle table: %w", err)
	}
	out := make(map[byte]throttle.Policy, len(f.Throttles))
	for i, e := range f.Throttles {
		if e.Opcode < 0 || e.Opcode > 0xFF {
			return nil, fmt.Errorf("throttle table entry %d: opcode %d out of range", i, e.Opcode)
		}
		if e.IntervalMS < 0 || e.DurationMS < 0 || e.DisconnectThreshold < 0 {
			return nil, fmt.Errorf("throttle table entry %d: negative value", i)
		}
		op := byte(e.Opcode)
		if _, dup := out[op]; dup {
			return nil, fmt.Errorf("throttle table entry %d: duplicate opcode 0x%02X", i, op)
		}
		p := throttle.Policy{
			Interval:            ms(e.IntervalMS),
			Duration:            ms(e.DurationMS),
			DisconnectThreshold: e.DisconnectThreshold,
		}
		if s := e.Squelch; s != nil {
			if s.Count <= 0 {
				return nil, fmt.Errorf("throttle table entry %d: squelch count must be positive", i)
			}
			p.Squelch = &throttle.SquelchPolicy{
				Count:               s.Count,
				Window:              ms(s.WindowMS),
				Duration:            ms(s.DurationMS),
				DisconnectThreshold: s.DisconnectThreshold,
			}
		}
		out[op] = p
	}
	return out, nil
}

// LoadThrottles reads a YAML throttle table from path.
func LoadThrottles(path string) (map[byte]throttle.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseThrottles(data)
}
