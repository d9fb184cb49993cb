package network

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybrasyl/server-sub005/client_handler"
	"github.com/hybrasyl/server-sub005/misc/packet"
	"github.com/hybrasyl/server-sub005/types"
)

func TestWebsocketTransport(t *testing.T) {
	srv := NewServer(testConfig(), allowAll{}, nil)
	ts := httptest.NewServer(srv.WebsocketHandler(context.Background(), types.Lobby, nil))
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)

	codec := packet.NewCodec()
	codec.Inbound, codec.Outbound = packet.DefaultOutbound, packet.DefaultInbound

	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	mt, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	f, _, err := codec.Decode(data, nil)
	require.NoError(t, err)
	assert.Equal(t, byte(client_handler.GREETING_ACK), f.Opcode)
	assert.Equal(t, 1, srv.Registry().Count())

	// a frame split across two messages is reassembled
	raw, err := codec.Encode(&packet.Frame{
		Opcode: client_handler.VERSION_REQ,
		Body:   packet.Pack(client_handler.S_version_info{F_version: 741}),
	}, nil)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, raw[:3]))
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, raw[3:]))

	require.Eventually(t, func() bool {
		for _, s := range srv.Registry().Sessions() {
			if s.Pending() > 0 {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)

	ws.Close()
	require.Eventually(t, func() bool { return srv.Registry().Count() == 0 }, 3*time.Second, 10*time.Millisecond)
}
