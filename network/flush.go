package network

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hybrasyl/server-sub005/metrics"
	"github.com/hybrasyl/server-sub005/types"
)

const maxWriteBatch = 65535

// flushLoop drains every session's outbound queue each tick. A session is
// written by at most one goroutine at a time.
func (s *Server) flushLoop(ctx context.Context) {
	interval := s.cfg.FlushInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sess := range s.reg.Sessions() {
				if sess.Pending() == 0 || sess.Conn() == nil || !sess.BeginFlush() {
					continue
				}
				s.flushers.Add(1)
				go func(sess *types.Session) {
					defer s.flushers.Done()
					defer sess.EndFlush()
					s.flush(sess)
				}(sess)
			}
		}
	}
}

// flushNow writes sess's queue on the calling goroutine unless a flush is
// already running, in which case the next tick picks it up.
func (s *Server) flushNow(sess *types.Session) {
	if !sess.BeginFlush() {
		return
	}
	defer sess.EndFlush()
	s.flush(sess)
}

// flushWait is flushNow for callers about to close the transport: it waits
// for a running flush to finish so nothing queued is lost.
func (s *Server) flushWait(sess *types.Session) {
	wait := s.cfg.WriteTimeout
	if wait <= 0 {
		wait = time.Second
	}
	deadline := time.Now().Add(wait)
	for !sess.BeginFlush() {
		if sess.Closed() || time.Now().After(deadline) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	defer sess.EndFlush()
	s.flush(sess)
}

func (s *Server) flush(sess *types.Session) {
	conn := sess.Conn()
	if conn == nil {
		return
	}
	frames := sess.TakeOutbound()
	if len(frames) == 0 {
		return
	}

	batch := make([]byte, 0, maxWriteBatch)
	write := func() bool {
		if len(batch) == 0 {
			return true
		}
		if s.cfg.WriteTimeout > 0 {
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		}
		n, err := conn.Write(batch)
		metrics.BytesSent.Add(float64(n))
		if err != nil {
			log.WithField("conn", sess.ID).Warn("write: ", err)
			conn.Close()
			return false
		}
		batch = batch[:0]
		return true
	}
	for _, f := range frames {
		if len(batch)+len(f) > maxWriteBatch && !write() {
			return
		}
		batch = append(batch, f...)
	}
	if write() {
		sess.MarkSent(time.Now())
	}
}
