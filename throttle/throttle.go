// Package throttle implements per-opcode admission control with an optional
// squelch policy for repeated content.
package throttle

import (
	"strings"
	"sync"
	"time"
)

type Result int

const (
	OK Result = iota
	Throttled
	ThrottleEnding
	Squelched
	SquelchEnding
	Disconnect
)

func (r Result) String() string {
	switch r {
	case OK:
		return "ok"
	case Throttled:
		return "throttled"
	case ThrottleEnding:
		return "throttle-ending"
	case Squelched:
		return "squelched"
	case SquelchEnding:
		return "squelch-ending"
	case Disconnect:
		return "disconnect"
	}
	return "unknown"
}

// Admitted reports whether a frame with this result should be dispatched.
func (r Result) Admitted() bool {
	return r == OK || r == ThrottleEnding || r == SquelchEnding
}

// SquelchPolicy limits repeated identical content. Count identical subjects
// seen no more than Window apart start a squelch lasting Duration.
type SquelchPolicy struct {
	Count               int
	Window              time.Duration
	Duration            time.Duration
	DisconnectThreshold int // 0 disables
}

// Policy is the throttle configuration of one opcode.
type Policy struct {
	Interval            time.Duration
	Duration            time.Duration
	DisconnectThreshold int // 0 disables
	Squelch             *SquelchPolicy
	// Subject extracts the content compared by the squelch policy.
	// Defaults to the trimmed, lower-cased body.
	Subject func(body []byte) string
}

func defaultSubject(body []byte) string {
	return strings.ToLower(strings.TrimSpace(string(body)))
}

// State is a snapshot of the counters kept for one (connection, opcode) pair.
type State struct {
	PreviousReceived time.Time
	LastReceived     time.Time
	PreviousAccepted time.Time
	LastAccepted     time.Time

	TotalReceived  uint64
	TotalAccepted  uint64
	TotalThrottled uint64
	TotalSquelched uint64

	Throttled  bool
	Squelched  bool
	Violations int // throttled packets in the current episode
}

type state struct {
	mu sync.Mutex
	State

	seen              map[string]*seenSubject
	squelched         map[string]time.Time // subject -> squelch start
	squelchViolations int
}

// seenSubject counts repeats of one subject inside the squelch window.
type seenSubject struct {
	count int
	last  time.Time
}

// Table holds the throttle state of one connection. It survives redirects
// together with its session.
type Table struct {
	mu     sync.Mutex
	states map[byte]*state
}

func NewTable() *Table {
	return &Table{states: make(map[byte]*state)}
}

func (t *Table) get(opcode byte) *state {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[opcode]
	if !ok {
		st = &state{}
		t.states[opcode] = st
	}
	return st
}

// Snapshot returns a copy of the state for opcode.
func (t *Table) Snapshot(opcode byte) (State, bool) {
	t.mu.Lock()
	st, ok := t.states[opcode]
	t.mu.Unlock()
	if !ok {
		return State{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.State, true
}

// Engine applies a static policy table. It holds no per-connection state
// and is safe for concurrent use.
type Engine struct {
	policies map[byte]Policy
	now      func() time.Time
}

func NewEngine(policies map[byte]Policy) *Engine {
	p := make(map[byte]Policy, len(policies))
	for op, pol := range policies {
		if pol.Subject == nil {
			pol.Subject = defaultSubject
		}
		p[op] = pol
	}
	return &Engine{policies: p, now: time.Now}
}

// SetClock replaces the time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Policy returns the policy configured for opcode.
func (e *Engine) Policy(opcode byte) (Policy, bool) {
	p, ok := e.policies[opcode]
	return p, ok
}

// Admit decides whether a frame may be dispatched. Opcodes without a policy
// are always admitted and keep no state.
func (e *Engine) Admit(t *Table, opcode byte, payload []byte) Result {
	p, ok := e.policies[opcode]
	if !ok {
		return OK
	}
	st := t.get(opcode)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := e.now()
	acceptedInterval := now.Sub(st.LastAccepted)
	st.PreviousReceived = st.LastReceived
	st.LastReceived = now
	st.TotalReceived++

	squelchEnded := false
	if p.Squelch != nil {
		var res Result
		var done bool
		res, done, squelchEnded = st.squelch(p.Squelch, p.Subject(payload), now)
		if done {
			return res
		}
	}

	if st.Throttled {
		if acceptedInterval >= p.Duration && acceptedInterval >= p.Interval {
			st.Throttled = false
			st.Violations = 0
			st.accept(now)
			return ThrottleEnding
		}
		return st.violate(p)
	}

	if !st.LastAccepted.IsZero() && acceptedInterval < p.Interval {
		st.Throttled = true
		return st.violate(p)
	}

	st.accept(now)
	if squelchEnded {
		return SquelchEnding
	}
	return OK
}

func (st *state) accept(now time.Time) {
	st.PreviousAccepted = st.LastAccepted
	st.LastAccepted = now
	st.TotalAccepted++
}

func (st *state) violate(p Policy) Result {
	st.Violations++
	st.TotalThrottled++
	if p.DisconnectThreshold > 0 && st.Violations > p.DisconnectThreshold {
		return Disconnect
	}
	return Throttled
}

// squelch returns done=true when the frame is rejected by the squelch
// policy. ended reports that a squelch expired with this frame. Every
// subject is counted on its own.
func (st *state) squelch(sp *SquelchPolicy, subject string, now time.Time) (res Result, done, ended bool) {
	ended = st.liftExpired(sp, now) > 0
	if subject == "" {
		return OK, false, ended
	}
	if _, ok := st.squelched[subject]; ok {
		return st.squelchViolation(sp), true, false
	}

	if st.seen == nil {
		st.seen = make(map[string]*seenSubject)
	}
	seen, ok := st.seen[subject]
	if ok && now.Sub(seen.last) <= sp.Window {
		seen.count++
	} else {
		seen = &seenSubject{count: 1}
		st.seen[subject] = seen
	}
	seen.last = now

	if sp.Count > 0 && seen.count >= sp.Count {
		if st.squelched == nil {
			st.squelched = make(map[string]time.Time)
		}
		st.squelched[subject] = now
		st.Squelched = true
		return st.squelchViolation(sp), true, false
	}
	return OK, false, ended
}

func (st *state) squelchViolation(sp *SquelchPolicy) Result {
	st.squelchViolations++
	st.TotalSquelched++
	if sp.DisconnectThreshold > 0 && st.squelchViolations > sp.DisconnectThreshold {
		return Disconnect
	}
	return Squelched
}

// liftExpired ends squelches older than the policy duration and returns how
// many were lifted. The violation count resets once nothing is squelched.
func (st *state) liftExpired(sp *SquelchPolicy, now time.Time) int {
	lifted := 0
	for subject, at := range st.squelched {
		if now.Sub(at) >= sp.Duration {
			delete(st.squelched, subject)
			delete(st.seen, subject)
			lifted++
		}
	}
	if len(st.squelched) == 0 {
		st.Squelched = false
		st.squelchViolations = 0
	}
	return lifted
}

// pruneSeen forgets subjects not repeated within the window.
func (st *state) pruneSeen(sp *SquelchPolicy, now time.Time) {
	for subject, seen := range st.seen {
		if _, squelched := st.squelched[subject]; squelched {
			continue
		}
		if now.Sub(seen.last) > sp.Window {
			delete(st.seen, subject)
		}
	}
}

// Sweep lifts squelches whose duration has elapsed and forgets stale
// content. It returns the opcodes whose squelch was lifted.
func (e *Engine) Sweep(t *Table) []byte {
	now := e.now()
	t.mu.Lock()
	states := make(map[byte]*state, len(t.states))
	for op, st := range t.states {
		states[op] = st
	}
	t.mu.Unlock()

	var lifted []byte
	for op, st := range states {
		p, ok := e.policies[op]
		if !ok || p.Squelch == nil {
			continue
		}
		st.mu.Lock()
		if st.liftExpired(p.Squelch, now) > 0 {
			lifted = append(lifted, op)
		}
		st.pruneSeen(p.Squelch, now)
		st.mu.Unlock()
	}
	return lifted
}
