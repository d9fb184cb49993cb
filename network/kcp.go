package network

import (
	"net"

	"github.com/xtaci/kcp-go"
)

// ListenKCP opens a KCP listener with forward error correction (10 data,
// 3 parity shards) and no block cipher; frames carry their own encryption.
func ListenKCP(addr string) (net.Listener, error) {
	ln, err := kcp.ListenWithOptions(addr, nil, 10, 3)
	if err != nil {
		return nil, err
	}
	return ln, nil
}

// tuneKCP applies stream mode and low-latency settings to KCP sessions.
func tuneKCP(conn net.Conn) {
	sess, ok := conn.(*kcp.UDPSession)
	if !ok {
		return
	}
	sess.SetStreamMode(true)
	sess.SetWindowSize(32, 32)
	sess.SetNoDelay(1, 20, 1, 1)
	sess.SetMtu(1280)
	sess.SetACKNoDelay(true)
}
