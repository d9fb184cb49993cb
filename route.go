package main

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/hybrasyl/server-sub005/network"
)

// route drains world traffic until ctx ends. Game logic lives outside this
// process; here frames are only accounted for.
func route(ctx context.Context, srv *network.Server) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-srv.Inbox():
			switch in.Kind {
			case network.Joined:
				log.WithFields(log.Fields{"conn": in.ConnID, "name": in.Name}).Info("player entered world")
			case network.Departed:
				log.WithFields(log.Fields{"conn": in.ConnID, "name": in.Name}).Info("player left world")
			default:
				log.WithFields(log.Fields{
					"conn":   in.ConnID,
					"opcode": in.Frame.Opcode,
				}).Debugf("no handler for protocol: %v", in.Frame.Opcode)
			}
		}
	}
}

// openAuth accepts any non-empty name; credential storage is not part of the gateway.
type openAuth struct{}

func (openAuth) Authenticate(name, password string) error {
	if name == "" {
		return errEmptyName
	}
	return nil
}
