package network

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hybrasyl/server-sub005/control"
	"github.com/hybrasyl/server-sub005/metrics"
	"github.com/hybrasyl/server-sub005/types"
)

func (s *Server) sweepLoop(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

// sweep checks heartbeat, idle, squelch and redirect expiry. It never
// closes anything itself; expired sessions are reported on the control bus.
func (s *Server) sweep(now time.Time) {
	heartbeat := false
	if s.cfg.HeartbeatInterval > 0 {
		s.hbMu.Lock()
		if now.Sub(s.lastHeartbeat) >= s.cfg.HeartbeatInterval {
			s.lastHeartbeat = now
			heartbeat = true
		}
		s.hbMu.Unlock()
	}

	for _, sess := range s.reg.Sessions() {
		if sess.Conn() == nil {
			continue
		}
		inWorld := sess.Role() == types.World && sess.Has(types.SESS_AUTHORIZED)
		// only world players are sent heartbeats
		if inWorld && s.cfg.HeartbeatReap > 0 && now.Sub(sess.LastReceived()) > s.cfg.HeartbeatReap {
			s.bus.Post(control.Message{Opcode: control.CleanupConnection, Subject: sess.ID, Payload: "heartbeat expired"})
			continue
		}
		idleFor := now.Sub(sess.LastActive())
		if s.cfg.IdleAfter > 0 && idleFor > s.cfg.IdleAfter && !sess.Has(types.SESS_IDLE) {
			sess.Set(types.SESS_IDLE)
			log.WithField("conn", sess.ID).Debug("session idle")
		}
		if s.cfg.IdleDisconnect > 0 && sess.Has(types.SESS_IDLE) && idleFor > s.cfg.IdleDisconnect {
			s.bus.Post(control.Message{Opcode: control.DisconnectIdle, Subject: sess.ID})
			continue
		}
		if heartbeat && inWorld {
			s.bus.Post(control.Message{Opcode: control.HeartbeatTick, Subject: sess.ID})
		}
		for _, op := range s.engine.Sweep(sess.Throttle) {
			log.WithFields(log.Fields{
				"conn":   sess.ID,
				"opcode": opcodeField(op),
			}).Info("squelch lifted")
		}
	}

	if s.cfg.RedirectTTL > 0 {
		for _, rd := range s.reg.ExpiredRedirects(s.cfg.RedirectTTL) {
			s.bus.Post(control.Message{Opcode: control.RedirectTimeout, Subject: rd.ID})
		}
	}
	metrics.Sessions.Set(float64(s.reg.Count()))
}
