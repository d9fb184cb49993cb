package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func runBus(t *testing.T, b *Bus) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestDispatchInOrder(t *testing.T) {
	b := NewBus(8)
	var mu sync.Mutex
	var got []uint32
	done := make(chan struct{})
	b.Handle(SaveSession, func(_ context.Context, msg Message) {
		mu.Lock()
		got = append(got, msg.Subject)
		n := len(got)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
	})
	stop := runBus(t, b)
	defer stop()

	for i := uint32(1); i <= 3; i++ {
		require.True(t, b.Post(Message{Opcode: SaveSession, Subject: i}))
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("messages not dispatched")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint32{1, 2, 3}, got)
}

func TestUnhandledIsDropped(t *testing.T) {
	b := NewBus(8)
	handled := make(chan Message, 1)
	b.Handle(CleanupConnection, func(_ context.Context, msg Message) { handled <- msg })
	stop := runBus(t, b)
	defer stop()

	require.True(t, b.Post(Message{Opcode: HeartbeatTick, Subject: 9}))
	require.True(t, b.Post(Message{Opcode: CleanupConnection, Subject: 10}))

	select {
	case msg := <-handled:
		assert.Equal(t, uint32(10), msg.Subject)
		assert.False(t, msg.Enqueued.IsZero())
	case <-time.After(time.Second):
		t.Fatal("handled message not dispatched")
	}
}

func TestPostAfterStop(t *testing.T) {
	b := NewBus(1)
	stop := runBus(t, b)
	stop()
	assert.False(t, b.Post(Message{Opcode: SaveSession}))
	assert.False(t, b.Post(Message{Opcode: SaveSession}))
}

func TestOpcodeString(t *testing.T) {
	assert.Equal(t, "redirect-timeout", RedirectTimeout.String())
	assert.Equal(t, "opcode-200", Opcode(200).String())
}
