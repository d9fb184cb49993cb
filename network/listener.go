package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	"github.com/hybrasyl/server-sub005/client_handler"
	"github.com/hybrasyl/server-sub005/metrics"
	"github.com/hybrasyl/server-sub005/misc/packet"
	"github.com/hybrasyl/server-sub005/throttle"
	"github.com/hybrasyl/server-sub005/types"
)

const readBufferSize = 65600

// Listen opens a TCP or KCP listener, capped at maxConns concurrent
// connections when maxConns > 0.
func Listen(addr string, useKCP bool, maxConns int) (net.Listener, error) {
	var ln net.Listener
	var err error
	if useKCP {
		ln, err = ListenKCP(addr)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	return ln, nil
}

// Listener accepts transports for one role.
type Listener struct {
	ID   uuid.UUID
	Role types.Role

	srv *Server
	ln  net.Listener
	log *log.Entry
}

func newListener(s *Server, role types.Role, ln net.Listener) *Listener {
	id := uuid.New()
	return &Listener{
		ID:   id,
		Role: role,
		srv:  s,
		ln:   ln,
		log: log.WithFields(log.Fields{
			"role":     role.String(),
			"listener": id.String(),
		}),
	}
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

func (l *Listener) serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()
	l.log.WithField("addr", l.ln.Addr().String()).Info("listening")

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				l.log.Warn("accept: ", err)
				time.Sleep(5 * time.Millisecond)
				continue
			}
			return err
		}
		l.srv.conns.Add(1)
		go func() {
			defer l.srv.conns.Done()
			l.srv.handleClient(ctx, l.Role, conn, l.log)
		}()
	}
}

// handleClient registers a session for conn and runs its read loop.
func (s *Server) handleClient(ctx context.Context, role types.Role, conn net.Conn, logger *log.Entry) {
	tuneKCP(conn)
	sess := types.NewSession(s.reg.NextID(), role, conn, time.Now())
	if s.cfg.RPSLimit > 0 {
		sess.Limiter = rate.NewLimiter(rate.Limit(s.cfg.RPSLimit), s.cfg.RPSBurst)
	}
	if err := s.reg.Register(sess); err != nil {
		logger.Error("register: ", err)
		conn.Close()
		return
	}
	metrics.ConnectionsAccepted.WithLabelValues(role.String()).Inc()
	metrics.Sessions.Set(float64(s.reg.Count()))
	logger.WithFields(log.Fields{
		"conn": sess.ID,
		"ip":   conn.RemoteAddr().String(),
	}).Info("connection accepted")

	if role == types.Lobby {
		if err := s.Send(sess, client_handler.GREETING_ACK, client_handler.Greeting()); err != nil {
			logger.Error("greeting: ", err)
		}
		s.flushNow(sess)
	}
	s.readLoop(ctx, role, conn, sess, logger)
}

// readLoop owns conn. It drains every complete frame after each read and
// stops at the first fatal condition.
func (s *Server) readLoop(ctx context.Context, role types.Role, conn net.Conn, sess *types.Session, logger *log.Entry) {
	cctx := &client_handler.Context{Gate: s, Role: role, Session: sess}
	buf := make([]byte, readBufferSize)
	for {
		if s.cfg.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		n, err := conn.Read(buf)
		if n > 0 {
			if !cctx.Session.FeedFrom(conn, buf[:n]) {
				// superseded by a join on another transport
				conn.Close()
				return
			}
			if reason := s.drain(ctx, cctx, conn, logger); reason != "" {
				s.closeTransport(cctx.Session, conn, reason, true)
				return
			}
		}
		if err != nil {
			reason := "read error"
			if errors.Is(err, io.EOF) {
				reason = "eof"
			} else if !errors.Is(err, net.ErrClosed) {
				logger.WithField("conn", cctx.Session.ID).Debug("read: ", err)
			}
			s.closeTransport(cctx.Session, conn, reason, false)
			return
		}
	}
}

// drain dispatches buffered frames and returns a non-empty reason when the
// transport must be closed.
func (s *Server) drain(ctx context.Context, cctx *client_handler.Context, conn net.Conn, logger *log.Entry) string {
	for {
		sess := cctx.Session
		if sess.Conn() != conn {
			return ""
		}
		frame, err := sess.NextFrame(s.codec)
		if errors.Is(err, packet.ErrNeedMoreData) {
			return ""
		}
		entry := logger.WithField("conn", sess.ID)
		if err != nil {
			entry.Error(err)
			return "malformed"
		}
		if sess.Limiter != nil && !sess.Limiter.Allow() {
			sess.Set(types.SESS_KICKED_OUT)
			entry.WithField("count", sess.PacketCount.Load()).Error("frame rate exceeded")
			return "flood"
		}

		sess.Touch(time.Now(), client_handler.IsHeartbeat(frame.Opcode))
		metrics.FramesDecoded.WithLabelValues(cctx.Role.String()).Inc()
		if log.IsLevelEnabled(log.DebugLevel) {
			entry.Debug(spew.Sdump(frame))
		}

		res := s.engine.Admit(sess.Throttle, frame.Opcode, frame.Body)
		if res != throttle.OK {
			metrics.ThrottleResults.WithLabelValues(res.String()).Inc()
			entry.WithFields(log.Fields{
				"opcode": opcodeField(frame.Opcode),
				"result": res.String(),
			}).Warn("admission")
		}
		if res == throttle.Disconnect {
			sess.Set(types.SESS_KICKED_OUT)
			s.notifyDisconnect(sess)
			return "throttle"
		}
		if !res.Admitted() {
			continue
		}

		if err := s.dispatch(ctx, cctx, frame); err != nil {
			entry.WithField("opcode", opcodeField(frame.Opcode)).Error(err)
			return "rejected"
		}
	}
}

func (s *Server) dispatch(ctx context.Context, cctx *client_handler.Context, frame *packet.Frame) error {
	if h := client_handler.Lookup(cctx.Role, frame.Opcode); h != nil {
		return h(cctx, frame.Reader())
	}
	sess := cctx.Session
	if cctx.Role == types.World && sess.Has(types.SESS_AUTHORIZED) {
		select {
		case s.inbox <- Inbound{Kind: Message, ConnID: sess.ID, Name: sess.Name(), Frame: frame}:
		case <-sess.Die:
		case <-ctx.Done():
		}
		return nil
	}
	log.WithFields(log.Fields{
		"conn":   sess.ID,
		"role":   cctx.Role.String(),
		"opcode": opcodeField(frame.Opcode),
	}).Warn("unhandled opcode")
	return nil
}

// closeTransport closes conn. The session is destroyed unless it has moved
// to another transport or, after a clean close, is waiting on a redirect.
func (s *Server) closeTransport(sess *types.Session, conn net.Conn, reason string, fatal bool) {
	conn.Close()
	if !sess.Detach(conn) {
		return
	}
	if !fatal && sess.Has(types.SESS_REDIRECTING) {
		sess.DiscardOutbound()
		log.WithFields(log.Fields{
			"conn": sess.ID,
			"role": sess.Role().String(),
		}).Debug("transport closed, awaiting redirect")
		return
	}
	s.destroy(sess, reason)
}

func opcodeField(op byte) string {
	return fmt.Sprintf("0x%02X", op)
}
