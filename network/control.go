package network

import (
	"context"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hybrasyl/server-sub005/client_handler"
	"github.com/hybrasyl/server-sub005/control"
	"github.com/hybrasyl/server-sub005/metrics"
	"github.com/hybrasyl/server-sub005/misc/packet"
	"github.com/hybrasyl/server-sub005/types"
)

func (s *Server) registerControlHandlers() {
	s.bus.Handle(control.CleanupConnection, s.onCleanupConnection)
	s.bus.Handle(control.SaveSession, s.onSaveSession)
	s.bus.Handle(control.DisconnectIdle, s.onDisconnectIdle)
	s.bus.Handle(control.HeartbeatTick, s.onHeartbeatTick)
	s.bus.Handle(control.RedirectTimeout, s.onRedirectTimeout)
}

func (s *Server) onCleanupConnection(_ context.Context, msg control.Message) {
	sess, ok := s.reg.Lookup(msg.Subject)
	if !ok {
		return
	}
	reason, _ := msg.Payload.(string)
	if reason == "" {
		reason = "cleanup"
	}
	s.destroy(sess, reason)
}

func (s *Server) onSaveSession(ctx context.Context, msg control.Message) {
	sess, ok := s.reg.Lookup(msg.Subject)
	if !ok || s.saver == nil {
		return
	}
	if err := s.saver.Save(ctx, sess); err != nil {
		log.WithFields(log.Fields{
			"conn": sess.ID,
			"name": sess.Name(),
		}).Error("save: ", err)
	}
}

func (s *Server) onDisconnectIdle(_ context.Context, msg control.Message) {
	sess, ok := s.reg.Lookup(msg.Subject)
	if !ok || !sess.Has(types.SESS_IDLE) {
		return
	}
	s.destroy(sess, "idle")
}

func (s *Server) onHeartbeatTick(_ context.Context, msg control.Message) {
	sess, ok := s.reg.Lookup(msg.Subject)
	if !ok || sess.Conn() == nil {
		return
	}
	a, b := byte(rand.Intn(256)), byte(rand.Intn(256))
	sess.ExpectByteHeartbeat(a, b)
	if err := s.Send(sess, client_handler.BYTE_HEARTBEAT, packet.Pack(client_handler.S_byte_heartbeat{F_a: a, F_b: b})); err != nil {
		log.WithField("conn", sess.ID).Error("byte heartbeat: ", err)
		return
	}
	tick := uint32(time.Now().Unix())
	sess.ExpectTickHeartbeat(tick)
	if err := s.Send(sess, client_handler.TICK_HEARTBEAT, packet.Pack(client_handler.S_tick_heartbeat{F_tick: tick})); err != nil {
		log.WithField("conn", sess.ID).Error("tick heartbeat: ", err)
	}
}

// onRedirectTimeout drops an unclaimed redirect. A session whose source
// transport already closed has nowhere to go and is destroyed.
func (s *Server) onRedirectTimeout(_ context.Context, msg control.Message) {
	rd, ok := s.reg.CancelRedirect(msg.Subject)
	if !ok {
		return
	}
	metrics.Redirects.WithLabelValues("expired").Inc()
	sess := rd.Session
	log.WithFields(log.Fields{
		"conn": sess.ID,
		"id":   rd.ID,
	}).Info("redirect expired")
	sess.Clear(types.SESS_REDIRECTING)
	if sess.Conn() == nil {
		s.destroy(sess, "redirect timeout")
	}
}
