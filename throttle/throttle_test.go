package throttle

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Unix(1700000000, 0)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

const walk = 0x06

func newEngine(c *clock, p Policy) *Engine {
	e := NewEngine(map[byte]Policy{walk: p})
	e.SetClock(c.Now)
	return e
}

func TestSlowSenderAlwaysAccepted(t *testing.T) {
	c := newClock()
	e := newEngine(c, Policy{Interval: 100 * time.Millisecond, Duration: time.Second, DisconnectThreshold: 5})
	tbl := NewTable()
	for i := 0; i < 20; i++ {
		require.Equal(t, OK, e.Admit(tbl, walk, nil), "packet %d", i)
		c.Advance(200 * time.Millisecond)
	}
	st, ok := tbl.Snapshot(walk)
	require.True(t, ok)
	assert.Equal(t, uint64(20), st.TotalAccepted)
	assert.Zero(t, st.TotalThrottled)
}

func TestFastSenderThrottledUntilDuration(t *testing.T) {
	c := newClock()
	e := newEngine(c, Policy{Interval: 100 * time.Millisecond, Duration: 500 * time.Millisecond})
	tbl := NewTable()

	require.Equal(t, OK, e.Admit(tbl, walk, nil))
	for elapsed := 10 * time.Millisecond; elapsed < 500*time.Millisecond; elapsed += 10 * time.Millisecond {
		c.Advance(10 * time.Millisecond)
		require.Equal(t, Throttled, e.Admit(tbl, walk, nil), "at %v", elapsed)
	}
	c.Advance(10 * time.Millisecond)
	assert.Equal(t, ThrottleEnding, e.Admit(tbl, walk, nil))

	st, _ := tbl.Snapshot(walk)
	assert.False(t, st.Throttled)
	assert.Zero(t, st.Violations)
	assert.Equal(t, uint64(2), st.TotalAccepted)
	assert.True(t, !st.LastAccepted.After(st.LastReceived))

	c.Advance(200 * time.Millisecond)
	assert.Equal(t, OK, e.Admit(tbl, walk, nil))
}

func TestDisconnectEscalation(t *testing.T) {
	c := newClock()
	e := newEngine(c, Policy{Interval: 100 * time.Millisecond, Duration: 10 * time.Second, DisconnectThreshold: 5})
	tbl := NewTable()

	require.Equal(t, OK, e.Admit(tbl, walk, nil))
	for i := 1; i <= 5; i++ {
		c.Advance(10 * time.Millisecond)
		require.Equal(t, Throttled, e.Admit(tbl, walk, nil), "throttled packet %d", i)
	}
	c.Advance(10 * time.Millisecond)
	assert.Equal(t, Disconnect, e.Admit(tbl, walk, nil))
}

func TestUnconfiguredOpcodeAlwaysAdmitted(t *testing.T) {
	c := newClock()
	e := newEngine(c, Policy{Interval: time.Second})
	tbl := NewTable()
	for i := 0; i < 10; i++ {
		assert.Equal(t, OK, e.Admit(tbl, 0x0E, nil))
	}
	_, ok := tbl.Snapshot(0x0E)
	assert.False(t, ok)
}

func TestSquelchRepeatedContent(t *testing.T) {
	c := newClock()
	e := newEngine(c, Policy{
		Interval: 100 * time.Millisecond,
		Duration: time.Second,
		Squelch: &SquelchPolicy{
			Count:               3,
			Window:              5 * time.Second,
			Duration:            10 * time.Second,
			DisconnectThreshold: 4,
		},
	})
	tbl := NewTable()
	say := func(s string) Result {
		c.Advance(time.Second)
		return e.Admit(tbl, walk, []byte(s))
	}

	assert.Equal(t, OK, say("buy gold"))
	assert.Equal(t, OK, say("BUY GOLD "))
	assert.Equal(t, Squelched, say("buy gold"))
	assert.Equal(t, OK, say("hello"), "different content passes")
	assert.Equal(t, Squelched, say("buy gold"))

	st, _ := tbl.Snapshot(walk)
	assert.True(t, st.Squelched)
	assert.Equal(t, uint64(2), st.TotalSquelched)
	assert.Zero(t, st.TotalThrottled)

	c.Advance(10 * time.Second)
	assert.Equal(t, SquelchEnding, e.Admit(tbl, walk, []byte("buy gold")))
}

func TestSquelchCountsEachSubject(t *testing.T) {
	c := newClock()
	e := newEngine(c, Policy{
		Interval: 100 * time.Millisecond,
		Duration: time.Second,
		Squelch:  &SquelchPolicy{Count: 3, Window: 5 * time.Second, Duration: 10 * time.Second},
	})
	tbl := NewTable()
	say := func(s string) Result {
		c.Advance(time.Second)
		return e.Admit(tbl, walk, []byte(s))
	}

	assert.Equal(t, OK, say("buy gold A"))
	assert.Equal(t, OK, say("buy gold B"))
	assert.Equal(t, OK, say("buy gold A"))
	assert.Equal(t, OK, say("buy gold B"))
	assert.Equal(t, Squelched, say("buy gold A"))
	assert.Equal(t, Squelched, say("buy gold B"))
	assert.Equal(t, Squelched, say("buy gold A"))
	assert.Equal(t, OK, say("hello"))

	st, _ := tbl.Snapshot(walk)
	assert.True(t, st.Squelched)
	assert.Equal(t, uint64(3), st.TotalSquelched)

	// A was squelched first and is lifted first
	c.Advance(7 * time.Second)
	assert.Equal(t, []byte{walk}, e.Sweep(tbl))
	st, _ = tbl.Snapshot(walk)
	assert.True(t, st.Squelched, "B is still squelched")
	c.Advance(time.Second)
	assert.Equal(t, []byte{walk}, e.Sweep(tbl))
	st, _ = tbl.Snapshot(walk)
	assert.False(t, st.Squelched)
}

func TestSquelchDisconnect(t *testing.T) {
	c := newClock()
	e := newEngine(c, Policy{
		Squelch: &SquelchPolicy{Count: 2, Window: time.Minute, Duration: time.Minute, DisconnectThreshold: 2},
	})
	tbl := NewTable()
	assert.Equal(t, OK, e.Admit(tbl, walk, []byte("spam")))
	assert.Equal(t, Squelched, e.Admit(tbl, walk, []byte("spam")))
	assert.Equal(t, Squelched, e.Admit(tbl, walk, []byte("spam")))
	assert.Equal(t, Disconnect, e.Admit(tbl, walk, []byte("spam")))
}

func TestSweepLiftsSquelch(t *testing.T) {
	c := newClock()
	e := newEngine(c, Policy{
		Squelch: &SquelchPolicy{Count: 2, Window: time.Minute, Duration: time.Minute},
	})
	tbl := NewTable()
	e.Admit(tbl, walk, []byte("spam"))
	require.Equal(t, Squelched, e.Admit(tbl, walk, []byte("spam")))

	assert.Empty(t, e.Sweep(tbl))
	c.Advance(time.Minute)
	assert.Equal(t, []byte{walk}, e.Sweep(tbl))
	st, _ := tbl.Snapshot(walk)
	assert.False(t, st.Squelched)
}

func TestConcurrentSessionIsolation(t *testing.T) {
	c := newClock()
	e := newEngine(c, Policy{Interval: 100 * time.Millisecond, Duration: 10 * time.Second, DisconnectThreshold: 5})
	abusive := []*Table{NewTable(), NewTable()}
	polite := NewTable()

	var wg sync.WaitGroup
	results := make([][]Result, len(abusive))
	for i, tbl := range abusive {
		wg.Add(1)
		go func(i int, tbl *Table) {
			defer wg.Done()
			for n := 0; n < 7; n++ {
				results[i] = append(results[i], e.Admit(tbl, walk, nil))
			}
		}(i, tbl)
	}
	wg.Wait()

	for i := range abusive {
		assert.Equal(t, OK, results[i][0])
		assert.Equal(t, Disconnect, results[i][6])
	}
	assert.Equal(t, OK, e.Admit(polite, walk, nil))
	st, _ := polite.Snapshot(walk)
	assert.False(t, st.Throttled)
	assert.Zero(t, st.TotalThrottled)
}
