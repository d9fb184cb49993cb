package main

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hybrasyl/server-sub005/control"
	"github.com/hybrasyl/server-sub005/network"
	. "github.com/hybrasyl/server-sub005/types"
)

// timer_work periodically asks for every player in the world to be saved.
func timer_work(ctx context.Context, srv *network.Server, interval time.Duration) {
	defer wg.Done()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count := 0
			for _, sess := range srv.Registry().Sessions() {
				if sess.Role() != World || !sess.Has(SESS_AUTHORIZED) {
					continue
				}
				if srv.Post(control.Message{Opcode: control.SaveSession, Subject: sess.ID}) {
					count++
				}
			}
			log.WithField("sessions", count).Debug("checkpoint")
		}
	}
}

// logSaver records checkpoints; persistence is provided by the embedding application.
type logSaver struct{}

func (logSaver) Save(_ context.Context, sess *Session) error {
	log.WithFields(log.Fields{
		"conn":    sess.ID,
		"name":    sess.Name(),
		"packets": sess.PacketCount.Load(),
	}).Debug("save")
	return nil
}
