package client_handler

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/hybrasyl/server-sub005/misc/crypto"
	"github.com/hybrasyl/server-sub005/misc/packet"
	. "github.com/hybrasyl/server-sub005/types"
)

// Greeting sent by the lobby as soon as a transport is accepted
func Greeting() []byte {
	return append([]byte{0x1B}, "CONNECTED SERVER\n"...)
}

// Version check and key exchange.
// The lobby hands out a fresh seed and key in clear text; every later
// encrypted frame of this session uses them.
func P_version_req(ctx *Context, reader *packet.Reader) error {
	tbl, err := PKT_version_info(reader)
	if err != nil {
		return fmt.Errorf("version request: %w", err)
	}
	seed, err := crypto.NewSeed()
	if err != nil {
		return err
	}
	key, err := crypto.NewKey()
	if err != nil {
		return err
	}
	sess := ctx.Session
	sess.SetKeys(seed, key)
	log.WithFields(log.Fields{
		"conn":    sess.ID,
		"version": tbl.F_version,
	}).Debug("client version")
	return ctx.Gate.Send(sess, ENCRYPTION_ACK, packet.Pack(S_encryption_info{F_seed: seed, F_key: key}))
}

// Server table request: either send the table or move the client to login
func P_server_table_req(ctx *Context, reader *packet.Reader) error {
	tbl, err := PKT_server_table_req(reader)
	if err != nil {
		return fmt.Errorf("server table request: %w", err)
	}
	if tbl.F_mismatch == 1 {
		return ctx.Gate.Send(ctx.Session, SERVER_TABLE_ACK, packet.Pack(S_server_table{F_entries: ctx.Gate.ServerTable()}))
	}
	return ctx.Gate.Redirect(ctx.Session, Login, "socket")
}

// New transport presenting a redirect.
// On success the read loop continues with the resumed session.
func P_join_req(ctx *Context, reader *packet.Reader) error {
	if ctx.Joined {
		return fmt.Errorf("second join on session %d", ctx.Session.ID)
	}
	tbl, err := PKT_join_info(reader)
	if err != nil {
		return fmt.Errorf("join request: %w", err)
	}
	sess, err := ctx.Gate.Join(ctx.Session, tbl.F_id, tbl.F_name, tbl.F_seed, tbl.F_key)
	if err != nil {
		return err
	}
	ctx.Session = sess
	ctx.Joined = true
	if ctx.Role == World {
		sess.Set(SESS_AUTHORIZED)
	}
	log.WithFields(log.Fields{
		"conn": sess.ID,
		"role": ctx.Role.String(),
		"name": sess.Name(),
	}).Info("session joined")
	return nil
}

// Player login
func P_login_req(ctx *Context, reader *packet.Reader) error {
	if !ctx.Joined {
		return ErrNotJoined
	}
	sess := ctx.Session
	tbl, err := PKT_login_info(reader)
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	if err := ctx.Gate.Authenticate(tbl.F_name, tbl.F_password); err != nil {
		log.WithFields(log.Fields{
			"conn": sess.ID,
			"name": tbl.F_name,
		}).Warn("login failed: ", err)
		return ctx.Gate.Send(sess, LOGIN_RESULT_ACK, packet.Pack(S_login_result{F_code: 0x05, F_msg: err.Error()}))
	}
	sess.SetName(tbl.F_name)
	if err := ctx.Gate.Send(sess, LOGIN_RESULT_ACK, packet.Pack(S_login_result{F_msg: "\x00"})); err != nil {
		return err
	}
	return ctx.Gate.Redirect(sess, World, tbl.F_name)
}

// Leaving the world returns the client to login
func P_logoff_req(ctx *Context, reader *packet.Reader) error {
	sess := ctx.Session
	if !sess.Has(SESS_AUTHORIZED) {
		return ErrNotJoined
	}
	sess.Clear(SESS_AUTHORIZED)
	return ctx.Gate.Redirect(sess, Login, sess.Name())
}

func P_byte_heartbeat_ack(ctx *Context, reader *packet.Reader) error {
	tbl, err := PKT_byte_heartbeat(reader)
	if err != nil {
		return fmt.Errorf("byte heartbeat: %w", err)
	}
	if !ctx.Session.ByteHeartbeatMatches(tbl.F_a, tbl.F_b) {
		log.WithField("conn", ctx.Session.ID).Warn("byte heartbeat mismatch")
	}
	return nil
}

func P_tick_heartbeat_ack(ctx *Context, reader *packet.Reader) error {
	tbl, err := PKT_tick_heartbeat_ack(reader)
	if err != nil {
		return fmt.Errorf("tick heartbeat: %w", err)
	}
	if !ctx.Session.TickHeartbeatMatches(tbl.F_server_tick) {
		log.WithField("conn", ctx.Session.ID).Warn("tick heartbeat mismatch")
	}
	return nil
}
