package types

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/hybrasyl/server-sub005/misc/packet"
	"github.com/hybrasyl/server-sub005/throttle"
)

const (
	SESS_ENCRYPT     = 0x1  // seed and key issued
	SESS_AUTHORIZED  = 0x2  // joined through a redirect
	SESS_REDIRECTING = 0x4  // redirect issued, source transport may close
	SESS_KICKED_OUT  = 0x8  // kicked out
	SESS_IDLE        = 0x10 // no activity within the idle window
)

type Session struct {
	ID          uint32
	IP          net.IP
	ConnectTime time.Time
	Die         chan struct{} // closed when the session is destroyed

	Throttle *throttle.Table
	Limiter  *rate.Limiter // nil disables the flood guard

	// Session flags
	flag atomic.Int32

	PacketCount atomic.Uint32 // frames received over the session lifetime

	lastReceived atomic.Int64 // unix nanos, any frame
	lastActive   atomic.Int64 // unix nanos, non-heartbeat frame
	lastSent     atomic.Int64

	mu       sync.Mutex
	role     Role
	conn     net.Conn
	seed     byte
	key      []byte
	name     string
	hbA, hbB byte
	hbTick   uint32

	recvMu sync.Mutex
	recv   []byte

	sendMu   sync.Mutex
	outbound [][]byte
	ordinal  byte
	flushing atomic.Bool

	dieOnce sync.Once
}

func NewSession(id uint32, role Role, conn net.Conn, now time.Time) *Session {
	s := &Session{
		ID:          id,
		ConnectTime: now,
		Die:         make(chan struct{}),
		Throttle:    throttle.NewTable(),
		role:        role,
		conn:        conn,
	}
	if conn != nil {
		if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
			s.IP = addr.IP
		} else if addr, ok := conn.RemoteAddr().(*net.UDPAddr); ok {
			s.IP = addr.IP
		}
	}
	s.lastReceived.Store(now.UnixNano())
	s.lastActive.Store(now.UnixNano())
	return s
}

// Flags
func (s *Session) Flag() int32      { return s.flag.Load() }
func (s *Session) Has(f int32) bool { return s.flag.Load()&f != 0 }
func (s *Session) Set(f int32)      { s.modFlag(func(v int32) int32 { return v | f }) }
func (s *Session) Clear(f int32)    { s.modFlag(func(v int32) int32 { return v &^ f }) }

func (s *Session) modFlag(fn func(int32) int32) {
	for {
		old := s.flag.Load()
		if s.flag.CompareAndSwap(old, fn(old)) {
			return
		}
	}
}

// Seed and Key make the session usable as packet.Keys.
func (s *Session) Seed() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seed
}

func (s *Session) Key() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// SetKeys installs new key material.
func (s *Session) SetKeys(seed byte, key []byte) {
	s.mu.Lock()
	s.seed = seed
	s.key = append([]byte(nil), key...)
	s.mu.Unlock()
	s.Set(SESS_ENCRYPT)
}

func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *Session) SetName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

// Conn returns the current transport, nil while detached.
func (s *Session) Conn() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Attach moves the session onto a new transport under role. Buffered input
// and unsent output belonging to the previous transport are discarded.
func (s *Session) Attach(conn net.Conn, role Role) {
	s.mu.Lock()
	s.recvMu.Lock()
	s.conn = conn
	s.role = role
	s.recv = nil
	s.recvMu.Unlock()
	s.mu.Unlock()
	s.DiscardOutbound()
}

// Detach forgets the transport if it is still conn.
func (s *Session) Detach(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return false
	}
	s.conn = nil
	return true
}

// Feed appends bytes read from the transport.
func (s *Session) Feed(b []byte) {
	if len(b) == 0 {
		return
	}
	s.recvMu.Lock()
	s.recv = append(s.recv, b...)
	s.recvMu.Unlock()
}

// FeedFrom appends bytes read from conn unless the session has moved to
// another transport.
func (s *Session) FeedFrom(conn net.Conn, b []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return false
	}
	s.Feed(b)
	return true
}

// NextFrame decodes the next complete frame from the receive buffer.
func (s *Session) NextFrame(codec *packet.Codec) (*packet.Frame, error) {
	s.mu.Lock()
	keys := keySnapshot{seed: s.seed, key: s.key}
	s.mu.Unlock()

	s.recvMu.Lock()
	defer s.recvMu.Unlock()
	f, n, err := codec.Decode(s.recv, keys)
	if err != nil {
		return nil, err
	}
	s.recv = s.recv[n:]
	if len(s.recv) == 0 {
		s.recv = nil
	}
	return f, nil
}

// keySnapshot lets a frame be decoded without holding the session lock.
type keySnapshot struct {
	seed byte
	key  []byte
}

func (k keySnapshot) Seed() byte  { return k.seed }
func (k keySnapshot) Key() []byte { return k.key }

// TakeBuffered removes and returns the undecoded bytes.
func (s *Session) TakeBuffered() []byte {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()
	b := s.recv
	s.recv = nil
	return b
}

// Buffered returns the number of undecoded bytes.
func (s *Session) Buffered() int {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()
	return len(s.recv)
}

// Enqueue encodes a frame and appends it to the outbound queue.
func (s *Session) Enqueue(codec *packet.Codec, opcode byte, body []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	f := &packet.Frame{Opcode: opcode, Body: body}
	if codec.Encrypted(opcode) {
		f.Ordinal = s.ordinal
	}
	raw, err := codec.Encode(f, s)
	if err != nil {
		return err
	}
	if codec.Encrypted(opcode) {
		s.ordinal++
	}
	s.outbound = append(s.outbound, raw)
	return nil
}

// Pending returns the number of queued frames.
func (s *Session) Pending() int {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return len(s.outbound)
}

// TakeOutbound removes and returns every queued frame in order.
func (s *Session) TakeOutbound() [][]byte {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	out := s.outbound
	s.outbound = nil
	return out
}

func (s *Session) DiscardOutbound() {
	s.sendMu.Lock()
	s.outbound = nil
	s.sendMu.Unlock()
}

// BeginFlush claims the flush slot; EndFlush releases it.
func (s *Session) BeginFlush() bool { return s.flushing.CompareAndSwap(false, true) }
func (s *Session) EndFlush()        { s.flushing.Store(false) }

// Touch records an inbound frame. Heartbeat replies do not count as activity.
func (s *Session) Touch(now time.Time, heartbeat bool) {
	s.lastReceived.Store(now.UnixNano())
	if !heartbeat {
		s.lastActive.Store(now.UnixNano())
		s.Clear(SESS_IDLE)
	}
	s.PacketCount.Add(1)
}

func (s *Session) MarkSent(now time.Time) { s.lastSent.Store(now.UnixNano()) }

func (s *Session) LastReceived() time.Time { return time.Unix(0, s.lastReceived.Load()) }
func (s *Session) LastActive() time.Time   { return time.Unix(0, s.lastActive.Load()) }
func (s *Session) LastSent() time.Time     { return time.Unix(0, s.lastSent.Load()) }

// ExpectByteHeartbeat records the values the client must echo.
func (s *Session) ExpectByteHeartbeat(a, b byte) {
	s.mu.Lock()
	s.hbA, s.hbB = a, b
	s.mu.Unlock()
}

func (s *Session) ByteHeartbeatMatches(a, b byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hbA == a && s.hbB == b
}

func (s *Session) ExpectTickHeartbeat(tick uint32) {
	s.mu.Lock()
	s.hbTick = tick
	s.mu.Unlock()
}

func (s *Session) TickHeartbeatMatches(tick uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hbTick == tick
}

// Close destroys the session and its current transport. It is idempotent.
func (s *Session) Close() {
	s.dieOnce.Do(func() {
		close(s.Die)
		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		s.DiscardOutbound()
	})
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	select {
	case <-s.Die:
		return true
	default:
		return false
	}
}
