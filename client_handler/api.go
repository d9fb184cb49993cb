package client_handler

import (
	"errors"

	"github.com/hybrasyl/server-sub005/misc/packet"
	. "github.com/hybrasyl/server-sub005/types"
)

// client -> server
const (
	VERSION_REQ        = 0x00
	LOGIN_REQ          = 0x03
	LOGOFF_REQ         = 0x0B
	JOIN_REQ           = 0x10
	BYTE_HEARTBEAT_ACK = 0x45
	SERVER_TABLE_REQ   = 0x57
	TICK_HEARTBEAT_ACK = 0x75
)

// server -> client
const (
	ENCRYPTION_ACK   = 0x00
	LOGIN_RESULT_ACK = 0x02
	REDIRECT_ACK     = 0x03
	SYSTEM_MESSAGE   = 0x0A
	BYTE_HEARTBEAT   = 0x3B
	SERVER_TABLE_ACK = 0x56
	TICK_HEARTBEAT   = 0x68
	GREETING_ACK     = 0x7E
)

// system message types
const (
	MSG_SYSTEM_OVERHEAD = 0x03
)

// DisconnectNotice is sent to a client right before it is kicked for abuse.
const DisconnectNotice = "You have been automatically disconnected due to server abuse. Goodbye!"

var (
	ErrUnauthenticated = errors.New("join rejected: no matching redirect")
	ErrNotJoined       = errors.New("opcode requires a joined session")
)

// Gate is what handlers may do to sessions besides reading them.
type Gate interface {
	// Send queues a frame for sess.
	Send(sess *Session, opcode byte, body []byte) error
	// Redirect issues a redirect to role and tells the client where to go.
	Redirect(sess *Session, to Role, name string) error
	// Join resumes the session owning redirect id on the transport of
	// provisional and returns it.
	Join(provisional *Session, id uint32, name string, seed byte, key []byte) (*Session, error)
	// Authenticate checks player credentials.
	Authenticate(name, password string) error
	// ServerTable lists the login servers offered by the lobby.
	ServerTable() []S_server_entry
}

// Context is carried by one transport's read loop. A join handler replaces
// Session with the resumed session.
type Context struct {
	Gate    Gate
	Role    Role
	Session *Session
	Joined  bool
}

// A Handler returning an error closes the transport.
type Handler func(ctx *Context, reader *packet.Reader) error

var lobbyHandlers = [256]Handler{
	VERSION_REQ:      P_version_req,
	SERVER_TABLE_REQ: P_server_table_req,
}

var loginHandlers = [256]Handler{
	JOIN_REQ:  P_join_req,
	LOGIN_REQ: P_login_req,
}

var worldHandlers = [256]Handler{
	JOIN_REQ:           P_join_req,
	LOGOFF_REQ:         P_logoff_req,
	BYTE_HEARTBEAT_ACK: P_byte_heartbeat_ack,
	TICK_HEARTBEAT_ACK: P_tick_heartbeat_ack,
}

// Lookup returns the inline handler of opcode under role, or nil.
func Lookup(role Role, opcode byte) Handler {
	switch role {
	case Lobby:
		return lobbyHandlers[opcode]
	case Login:
		return loginHandlers[opcode]
	case World:
		return worldHandlers[opcode]
	}
	return nil
}

// IsHeartbeat reports whether opcode is a heartbeat reply.
func IsHeartbeat(opcode byte) bool {
	return opcode == BYTE_HEARTBEAT_ACK || opcode == TICK_HEARTBEAT_ACK
}
