package client_handler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybrasyl/server-sub005/misc/packet"
	. "github.com/hybrasyl/server-sub005/types"
)

type sent struct {
	opcode byte
	body   []byte
}

type redirected struct {
	to   Role
	name string
}

type fakeGate struct {
	sent      []sent
	redirects []redirected
	joinTo    *Session
	joinErr   error
	authErr   error
}

func (g *fakeGate) Send(_ *Session, opcode byte, body []byte) error {
	g.sent = append(g.sent, sent{opcode, body})
	return nil
}

func (g *fakeGate) Redirect(_ *Session, to Role, name string) error {
	g.redirects = append(g.redirects, redirected{to, name})
	return nil
}

func (g *fakeGate) Join(_ *Session, _ uint32, _ string, _ byte, _ []byte) (*Session, error) {
	return g.joinTo, g.joinErr
}

func (g *fakeGate) Authenticate(name, password string) error { return g.authErr }

func (g *fakeGate) ServerTable() []S_server_entry { return nil }

func newContext(role Role) (*Context, *fakeGate) {
	g := &fakeGate{}
	return &Context{Gate: g, Role: role, Session: NewSession(1, role, nil, time.Now())}, g
}

func reader(p packet.Packer) *packet.Reader {
	return packet.NewReader(packet.Pack(p))
}

func TestVersionIssuesKeys(t *testing.T) {
	ctx, g := newContext(Lobby)
	require.NoError(t, P_version_req(ctx, reader(S_version_info{F_version: 741})))
	require.Len(t, g.sent, 1)
	assert.Equal(t, byte(ENCRYPTION_ACK), g.sent[0].opcode)

	info, err := PKT_encryption_info(packet.NewReader(g.sent[0].body))
	require.NoError(t, err)
	assert.Equal(t, ctx.Session.Seed(), info.F_seed)
	assert.Equal(t, ctx.Session.Key(), info.F_key)
	assert.True(t, ctx.Session.Has(SESS_ENCRYPT))
}

func TestServerTableRequest(t *testing.T) {
	ctx, g := newContext(Lobby)
	require.NoError(t, P_server_table_req(ctx, reader(S_server_table_req{F_mismatch: 1})))
	require.Len(t, g.sent, 1)
	assert.Equal(t, byte(SERVER_TABLE_ACK), g.sent[0].opcode)
	assert.Empty(t, g.redirects)

	require.NoError(t, P_server_table_req(ctx, reader(S_server_table_req{F_mismatch: 0})))
	assert.Equal(t, []redirected{{Login, "socket"}}, g.redirects)
}

func TestJoin(t *testing.T) {
	ctx, g := newContext(World)
	target := NewSession(7, Login, nil, time.Now())
	g.joinTo = target

	join := S_join_info{F_seed: 1, F_key: []byte("abcdefghi"), F_name: "Aisling", F_id: 3}
	require.NoError(t, P_join_req(ctx, reader(join)))
	assert.Same(t, target, ctx.Session)
	assert.True(t, ctx.Joined)
	assert.True(t, target.Has(SESS_AUTHORIZED))

	assert.Error(t, P_join_req(ctx, reader(join)), "second join")
}

func TestJoinRejected(t *testing.T) {
	ctx, g := newContext(Login)
	g.joinErr = ErrUnauthenticated
	provisional := ctx.Session
	err := P_join_req(ctx, reader(S_join_info{F_name: "socket"}))
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Same(t, provisional, ctx.Session)
	assert.False(t, ctx.Joined)
}

func TestLogin(t *testing.T) {
	ctx, g := newContext(Login)
	assert.ErrorIs(t, P_login_req(ctx, reader(S_login_info{F_name: "Aisling"})), ErrNotJoined)

	ctx.Joined = true
	g.authErr = errors.New("bad password")
	require.NoError(t, P_login_req(ctx, reader(S_login_info{F_name: "Aisling", F_password: "x"})))
	require.Len(t, g.sent, 1)
	res, err := PKT_login_result(packet.NewReader(g.sent[0].body))
	require.NoError(t, err)
	assert.NotZero(t, res.F_code)
	assert.Empty(t, g.redirects)

	g.authErr = nil
	require.NoError(t, P_login_req(ctx, reader(S_login_info{F_name: "Aisling", F_password: "y"})))
	assert.Equal(t, "Aisling", ctx.Session.Name())
	assert.Equal(t, []redirected{{World, "Aisling"}}, g.redirects)
}

func TestLogoff(t *testing.T) {
	ctx, g := newContext(World)
	assert.ErrorIs(t, P_logoff_req(ctx, packet.NewReader(nil)), ErrNotJoined)

	ctx.Session.Set(SESS_AUTHORIZED)
	ctx.Session.SetName("Aisling")
	require.NoError(t, P_logoff_req(ctx, packet.NewReader(nil)))
	assert.False(t, ctx.Session.Has(SESS_AUTHORIZED))
	assert.Equal(t, []redirected{{Login, "Aisling"}}, g.redirects)
}

func TestHeartbeats(t *testing.T) {
	ctx, _ := newContext(World)
	ctx.Session.ExpectByteHeartbeat(4, 2)
	ctx.Session.ExpectTickHeartbeat(99)
	assert.NoError(t, P_byte_heartbeat_ack(ctx, reader(S_byte_heartbeat{F_a: 4, F_b: 2})))
	assert.NoError(t, P_tick_heartbeat_ack(ctx, reader(S_tick_heartbeat_ack{F_server_tick: 99, F_client_tick: 5})))
	assert.Error(t, P_byte_heartbeat_ack(ctx, packet.NewReader([]byte{1})))
	assert.True(t, IsHeartbeat(BYTE_HEARTBEAT_ACK))
	assert.False(t, IsHeartbeat(JOIN_REQ))
}

func TestRedirectInfoLayout(t *testing.T) {
	body := packet.Pack(S_redirect_info{
		F_ip:   []byte{10, 0, 0, 1},
		F_port: 2611,
		F_seed: 4,
		F_key:  []byte("abcdefghi"),
		F_name: "socket",
		F_id:   77,
	})
	assert.Equal(t, []byte{1, 0, 0, 10}, body[:4])
	assert.Equal(t, byte(1+1+9+1+6+4), body[6])

	got, err := PKT_redirect_info(packet.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", got.F_ip.String())
	assert.Equal(t, uint16(2611), got.F_port)
	assert.Equal(t, byte(4), got.F_seed)
	assert.Equal(t, []byte("abcdefghi"), got.F_key)
	assert.Equal(t, "socket", got.F_name)
	assert.Equal(t, uint32(77), got.F_id)
}

func TestLookup(t *testing.T) {
	assert.NotNil(t, Lookup(Lobby, VERSION_REQ))
	assert.Nil(t, Lookup(Lobby, JOIN_REQ))
	assert.NotNil(t, Lookup(Login, JOIN_REQ))
	assert.NotNil(t, Lookup(World, TICK_HEARTBEAT_ACK))
	assert.Nil(t, Lookup(World, 0x0E))
}
