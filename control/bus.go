// Package control serialises session-affecting actions requested by timers
// and the simulation layer through a single consumer.
package control

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hybrasyl/server-sub005/metrics"
)

type Opcode byte

const (
	CleanupConnection Opcode = iota
	SaveSession
	DisconnectIdle
	HeartbeatTick
	RedirectTimeout
)

var opcodeNames = map[Opcode]string{
	CleanupConnection: "cleanup-connection",
	SaveSession:       "save-session",
	DisconnectIdle:    "disconnect-idle",
	HeartbeatTick:     "heartbeat-tick",
	RedirectTimeout:   "redirect-timeout",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("opcode-%d", byte(op))
}

// Message is an internal instruction. Subject is a connection id, or a
// redirect id for RedirectTimeout.
type Message struct {
	Opcode   Opcode
	Subject  uint32
	Payload  interface{}
	Enqueued time.Time
}

type Handler func(ctx context.Context, msg Message)

const DefaultQueueSize = 1024

type Bus struct {
	queue    chan Message
	handlers [256]Handler
	stopped  chan struct{}
}

func NewBus(size int) *Bus {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Bus{
		queue:   make(chan Message, size),
		stopped: make(chan struct{}),
	}
}

// Handle registers h for op. The table must be complete before Run.
func (b *Bus) Handle(op Opcode, h Handler) {
	b.handlers[op] = h
}

// Post enqueues msg. It blocks while the queue is full and returns false
// once the consumer has stopped.
func (b *Bus) Post(msg Message) bool {
	if msg.Enqueued.IsZero() {
		msg.Enqueued = time.Now()
	}
	select {
	case <-b.stopped:
		return false
	default:
	}
	select {
	case b.queue <- msg:
		return true
	case <-b.stopped:
		return false
	}
}

// Len returns the number of queued messages.
func (b *Bus) Len() int { return len(b.queue) }

// Run consumes messages until ctx is cancelled. Messages still queued at
// that point are dropped.
func (b *Bus) Run(ctx context.Context) {
	defer close(b.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.queue:
			b.dispatch(ctx, msg)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, msg Message) {
	h := b.handlers[msg.Opcode]
	if h == nil {
		metrics.ControlMessages.WithLabelValues(msg.Opcode.String(), "unhandled").Inc()
		log.WithFields(log.Fields{
			"opcode":  msg.Opcode.String(),
			"subject": msg.Subject,
		}).Warn("unhandled control message")
		return
	}
	metrics.ControlMessages.WithLabelValues(msg.Opcode.String(), "handled").Inc()
	h(ctx, msg)
}
