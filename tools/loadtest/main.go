// Command loadtest opens many lobby connections and measures the latency of
// the version handshake.
package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtaci/kcp-go"

	"github.com/hybrasyl/server-sub005/client_handler"
	"github.com/hybrasyl/server-sub005/misc/packet"
)

var (
	server   = flag.String("server", "localhost:2610", "lobby address")
	useKCP   = flag.Bool("kcp", false, "dial KCP instead of TCP")
	clients  = flag.Int("clients", 100, "concurrent clients")
	requests = flag.Int("requests", 100, "version requests per client")
	interval = flag.Duration("interval", 50*time.Millisecond, "delay between requests")
	timeout  = flag.Duration("timeout", 5*time.Second, "per request timeout")

	connected  int64
	errorCount int64

	latencyMu sync.Mutex
	latencies []time.Duration
)

// client side of the codec: what the server decodes we encode and vice versa
func clientCodec() *packet.Codec {
	c := packet.NewCodec()
	c.Inbound, c.Outbound = packet.DefaultOutbound, packet.DefaultInbound
	return c
}

func main() {
	flag.Parse()
	fmt.Printf("connecting %d clients to %s, %d requests each\n", *clients, *server, *requests)

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := runClient(id); err != nil {
				atomic.AddInt64(&errorCount, 1)
				fmt.Printf("[client %d] %v\n", id, err)
			}
		}(i)
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()
	showResults(time.Since(start))
}

func dial() (net.Conn, error) {
	if *useKCP {
		sess, err := kcp.DialWithOptions(*server, nil, 10, 3)
		if err != nil {
			return nil, err
		}
		sess.SetStreamMode(true)
		sess.SetWindowSize(32, 32)
		sess.SetNoDelay(1, 20, 1, 1)
		sess.SetMtu(1280)
		return sess, nil
	}
	return net.DialTimeout("tcp", *server, *timeout)
}

type conn struct {
	net.Conn
	codec *packet.Codec
	buf   []byte
}

// next blocks until one complete frame is available.
func (c *conn) next() (*packet.Frame, error) {
	tmp := make([]byte, 4096)
	for {
		f, n, err := c.codec.Decode(c.buf, nil)
		if err == nil {
			c.buf = c.buf[n:]
			return f, nil
		}
		if !errors.Is(err, packet.ErrNeedMoreData) {
			return nil, err
		}
		c.SetReadDeadline(time.Now().Add(*timeout))
		r, err := c.Read(tmp)
		if err != nil {
			return nil, err
		}
		c.buf = append(c.buf, tmp[:r]...)
	}
}

func runClient(id int) error {
	nc, err := dial()
	if err != nil {
		return err
	}
	defer nc.Close()
	atomic.AddInt64(&connected, 1)
	c := &conn{Conn: nc, codec: clientCodec()}

	greeting, err := c.next()
	if err != nil {
		return fmt.Errorf("greeting: %w", err)
	}
	if greeting.Opcode != client_handler.GREETING_ACK {
		return fmt.Errorf("unexpected greeting opcode 0x%02X", greeting.Opcode)
	}

	req, err := c.codec.Encode(&packet.Frame{
		Opcode: client_handler.VERSION_REQ,
		Body:   packet.Pack(client_handler.S_version_info{F_version: 741}),
	}, nil)
	if err != nil {
		return err
	}
	for i := 0; i < *requests; i++ {
		sent := time.Now()
		if _, err := c.Write(req); err != nil {
			return err
		}
		f, err := c.next()
		if err != nil {
			return err
		}
		if f.Opcode != client_handler.ENCRYPTION_ACK {
			return fmt.Errorf("unexpected reply opcode 0x%02X", f.Opcode)
		}
		latencyMu.Lock()
		latencies = append(latencies, time.Since(sent))
		latencyMu.Unlock()
		time.Sleep(*interval)
	}
	return nil
}

func showResults(elapsed time.Duration) {
	latencyMu.Lock()
	defer latencyMu.Unlock()
	fmt.Printf("done in %v: %d connected, %d errors, %d round trips\n",
		elapsed.Round(time.Millisecond), atomic.LoadInt64(&connected), atomic.LoadInt64(&errorCount), len(latencies))
	if len(latencies) == 0 {
		return
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	pct := func(p float64) time.Duration { return latencies[int(float64(len(latencies)-1)*p)] }
	fmt.Printf("latency avg %v, p50 %v, p95 %v, p99 %v, max %v\n",
		total/time.Duration(len(latencies)), pct(0.50), pct(0.95), pct(0.99), latencies[len(latencies)-1])
}
