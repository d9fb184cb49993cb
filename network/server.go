// Package network runs the role listeners, the per-connection read loops,
// the outbound flusher and the background sweep.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hybrasyl/server-sub005/client_handler"
	"github.com/hybrasyl/server-sub005/config"
	"github.com/hybrasyl/server-sub005/control"
	"github.com/hybrasyl/server-sub005/metrics"
	"github.com/hybrasyl/server-sub005/misc/packet"
	"github.com/hybrasyl/server-sub005/registry"
	"github.com/hybrasyl/server-sub005/throttle"
	"github.com/hybrasyl/server-sub005/types"
)

type EventKind int

const (
	Message  EventKind = iota // a decoded frame
	Joined                    // the session entered the world
	Departed                  // the session left the world or was destroyed
)

// Inbound is what the simulation layer receives.
type Inbound struct {
	Kind   EventKind
	ConnID uint32
	Name   string
	Frame  *packet.Frame
}

// Saver persists a session on save-session.
type Saver interface {
	Save(ctx context.Context, sess *types.Session) error
}

// Authenticator checks credentials presented at login.
type Authenticator interface {
	Authenticate(name, password string) error
}

const inboxSize = 4096

type Server struct {
	cfg    config.Config
	codec  *packet.Codec
	reg    *registry.Registry
	broker *registry.Broker
	engine *throttle.Engine
	bus    *control.Bus
	auth   Authenticator
	saver  Saver
	inbox  chan Inbound

	listeners []*Listener

	ctx      context.Context // set by Run
	conns    sync.WaitGroup  // read loops
	flushers sync.WaitGroup

	hbMu          sync.Mutex
	lastHeartbeat time.Time
}

func NewServer(cfg config.Config, auth Authenticator, saver Saver) *Server {
	codec := packet.NewCodec()
	if cfg.MaxFrameLength > 0 {
		codec.MaxLength = cfg.MaxFrameLength
	}
	reg := registry.New()
	s := &Server{
		cfg:    cfg,
		codec:  codec,
		reg:    reg,
		broker: registry.NewBroker(reg),
		engine: throttle.NewEngine(cfg.Throttles),
		bus:    control.NewBus(control.DefaultQueueSize),
		auth:   auth,
		saver:  saver,
		inbox:  make(chan Inbound, inboxSize),
		ctx:    context.Background(),
	}
	s.registerControlHandlers()
	return s
}

func (s *Server) Registry() *registry.Registry { return s.reg }
func (s *Server) Codec() *packet.Codec         { return s.codec }
func (s *Server) Engine() *throttle.Engine     { return s.engine }

// Inbox delivers world traffic to the simulation layer.
func (s *Server) Inbox() <-chan Inbound { return s.inbox }

// Post queues a control message.
func (s *Server) Post(msg control.Message) bool { return s.bus.Post(msg) }

// Listen binds a listener for role. It must be called before Run.
func (s *Server) Listen(role types.Role, ln net.Listener) *Listener {
	l := newListener(s, role, ln)
	s.listeners = append(s.listeners, l)
	return l
}

// Run serves every listener and the background loops until ctx is
// cancelled, then closes every session.
func (s *Server) Run(ctx context.Context) error {
	if len(s.listeners) == 0 {
		return errors.New("no listeners")
	}
	s.ctx = ctx

	var wg sync.WaitGroup
	errs := make(chan error, len(s.listeners))
	for _, l := range s.listeners {
		wg.Add(1)
		go func(l *Listener) {
			defer wg.Done()
			if err := l.serve(ctx); err != nil {
				errs <- fmt.Errorf("%s listener: %w", l.Role, err)
			}
		}(l)
	}
	wg.Add(3)
	go func() { defer wg.Done(); s.bus.Run(ctx) }()
	go func() { defer wg.Done(); s.flushLoop(ctx) }()
	go func() { defer wg.Done(); s.sweepLoop(ctx) }()

	<-ctx.Done()
	wg.Wait()

	for _, sess := range s.reg.Sessions() {
		s.destroy(sess, "shutdown")
	}
	s.conns.Wait()
	s.flushers.Wait()

	close(errs)
	var err error
	for e := range errs {
		err = errors.Join(err, e)
	}
	return err
}

// SendTo queues a frame for a connection.
func (s *Server) SendTo(connID uint32, opcode byte, body []byte) error {
	sess, ok := s.reg.Lookup(connID)
	if !ok {
		return registry.ErrUnknownConnection
	}
	return s.Send(sess, opcode, body)
}

// Send implements client_handler.Gate.
func (s *Server) Send(sess *types.Session, opcode byte, body []byte) error {
	return sess.Enqueue(s.codec, opcode, body)
}

// Redirect implements client_handler.Gate. The redirect packet is written
// immediately on the current transport.
func (s *Server) Redirect(sess *types.Session, to types.Role, name string) error {
	ip, port, err := s.cfg.Advertised(to)
	if err != nil {
		return err
	}
	rd, err := s.broker.CreateRedirect(sess, sess.Role(), to, name)
	if err != nil {
		return err
	}
	metrics.Redirects.WithLabelValues("issued").Inc()
	body := packet.Pack(client_handler.S_redirect_info{
		F_ip:   ip,
		F_port: port,
		F_seed: rd.Seed,
		F_key:  rd.Key,
		F_name: rd.Name,
		F_id:   rd.ID,
	})
	if err := s.Send(sess, client_handler.REDIRECT_ACK, body); err != nil {
		return err
	}
	if sess.Role() == types.World && to != types.World {
		s.publish(Inbound{Kind: Departed, ConnID: sess.ID, Name: sess.Name()})
	}
	s.flushNow(sess)
	return nil
}

// Join implements client_handler.Gate.
func (s *Server) Join(provisional *types.Session, id uint32, name string, seed byte, key []byte) (*types.Session, error) {
	role := provisional.Role()
	rd, err := s.broker.Resolve(id, role, name, seed, key)
	if err != nil {
		metrics.Redirects.WithLabelValues("rejected").Inc()
		log.WithFields(log.Fields{
			"conn": provisional.ID,
			"role": role.String(),
			"id":   id,
		}).Warn("redirect mismatch")
		return nil, client_handler.ErrUnauthenticated
	}
	metrics.Redirects.WithLabelValues("claimed").Inc()

	conn := provisional.Conn()
	provisional.Detach(conn)
	leftover := provisional.TakeBuffered()
	s.reg.Deregister(provisional.ID)
	provisional.Close()
	metrics.Sessions.Set(float64(s.reg.Count()))

	target := rd.Session
	if old := target.Conn(); old != nil && old != conn {
		target.Detach(old)
		old.Close()
	}
	target.Attach(conn, role)
	target.Feed(leftover)
	if role == types.World {
		s.publish(Inbound{Kind: Joined, ConnID: target.ID, Name: target.Name()})
	}
	return target, nil
}

// Authenticate implements client_handler.Gate.
func (s *Server) Authenticate(name, password string) error {
	if s.auth == nil {
		return errors.New("no authenticator configured")
	}
	return s.auth.Authenticate(name, password)
}

// ServerTable implements client_handler.Gate.
func (s *Server) ServerTable() []client_handler.S_server_entry {
	ip, port, err := s.cfg.Advertised(types.Login)
	if err != nil {
		return nil
	}
	return []client_handler.S_server_entry{{F_id: 1, F_ip: ip, F_port: port, F_name: "login"}}
}

// notifyDisconnect tells the client why it is about to be dropped and
// writes everything still queued for it.
func (s *Server) notifyDisconnect(sess *types.Session) {
	body := packet.Pack(client_handler.S_system_message{
		F_type: client_handler.MSG_SYSTEM_OVERHEAD,
		F_msg:  client_handler.DisconnectNotice,
	})
	if err := s.Send(sess, client_handler.SYSTEM_MESSAGE, body); err != nil {
		log.WithField("conn", sess.ID).Warn("disconnect notice: ", err)
		return
	}
	s.flushWait(sess)
}

// destroy removes a session for good. It is safe to call more than once.
func (s *Server) destroy(sess *types.Session, reason string) {
	if _, ok := s.reg.Deregister(sess.ID); !ok {
		sess.Close()
		return
	}
	role := sess.Role()
	sess.Close()
	metrics.Sessions.Set(float64(s.reg.Count()))
	metrics.ConnectionsClosed.WithLabelValues(role.String(), reason).Inc()
	log.WithFields(log.Fields{
		"conn":   sess.ID,
		"role":   role.String(),
		"reason": reason,
	}).Info("session closed")
	if sess.Has(types.SESS_AUTHORIZED) {
		s.publish(Inbound{Kind: Departed, ConnID: sess.ID, Name: sess.Name()})
	}
}

// publish hands an event to the simulation layer unless it is shutting down.
func (s *Server) publish(ev Inbound) {
	select {
	case s.inbox <- ev:
	case <-s.ctx.Done():
	}
}
