// Package server runs the server role of echostream: it accepts TCP and WebSocket
// connections, turns each into a Session of one shared core.Context, and shuts down
// gracefully.
//
//	Accept conn → transport.AcceptTCP → Context.NewSession → Session.Connect
//	  → recvLoop → Session.Dispatch → middleware chain → handler → response
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"echostream/codec"
	"echostream/core"
	"echostream/middleware"
	"echostream/registry"
	"echostream/transport"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Option func(*Server)

// WithHeartbeat sets the heartbeat interval of accepted connections.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) { s.heartbeat = d }
}

// WithCodec sets the codec used on a connection until the peer's first frame is seen.
func WithCodec(t codec.CodecType) Option {
	return func(s *Server) { s.codec = t }
}

// WithContextOptions passes options to the server's core.Context.
func WithContextOptions(opts ...core.Option) Option {
	return func(s *Server) { s.ctxOpts = append(s.ctxOpts, opts...) }
}

// Server owns one core.Context shared by every accepted session.
type Server struct {
	ctx       *core.Context
	ctxOpts   []core.Option
	heartbeat time.Duration
	codec     codec.CodecType
	services  map[string]*service
	upgrader  websocket.Upgrader

	shutdown atomic.Bool

	mu        sync.Mutex
	listeners []net.Listener
	announced []announcement
	registry  registry.Registry
}

type announcement struct {
	service string
	addr    string
}

// NewServer creates a server whose Context is already running.
func NewServer(opts ...Option) *Server {
	s := &Server{
		heartbeat: transport.DefaultHeartbeatInterval,
		codec:     codec.CodecTypeBinary,
		services:  make(map[string]*service),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx = core.NewContext(s.ctxOpts...)
	_ = s.ctx.Start() // a fresh Context always starts
	return s
}

// Context returns the shared Context: register handlers, listeners and hooks on it.
func (s *Server) Context() *core.Context { return s.ctx }

// Handle registers an RPC, event or stream handler.
func (s *Server) Handle(h core.Handler) error {
	return s.ctx.RegisterHandler(h)
}

// Use appends RPC middleware.
func (s *Server) Use(mw middleware.Middleware) {
	s.ctx.Use(mw)
}

// Register exposes the RPC methods of rcvr (e.g. &Arith{}) as handlers named "Arith.Add".
func (s *Server) Register(rcvr any) error {
	svc, err := newService(rcvr)
	if err != nil {
		return err
	}
	for _, h := range svc.handlers() {
		if err := s.ctx.RegisterHandler(h); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.services[svc.name] = svc
	s.mu.Unlock()
	return nil
}

// Services lists the names of the registered reflection services.
func (s *Server) Services() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.services))
	for name := range s.services {
		out = append(out, name)
	}
	return out
}

// Serve listens on address and accepts connections until Shutdown.
func (s *Server) Serve(network, address string) error {
	ln, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.ServeListener(ln)
}

// ServeListener accepts connections on ln until Shutdown. It returns nil after Shutdown.
func (s *Server) ServeListener(ln net.Listener) error {
	s.mu.Lock()
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()
	log.Info().Str("addr", ln.Addr().String()).Msg("echostream server listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	t := transport.AcceptTCP(conn, transport.WithHeartbeat(s.heartbeat), transport.WithCodec(s.codec))
	s.connect(t, conn.RemoteAddr().String())
}

func (s *Server) connect(t *transport.Conn, remote string) {
	sess := s.ctx.NewSession(t)
	if err := sess.Connect(context.Background()); err != nil {
		log.Warn().Err(err).Str("remote", remote).Msg("rejecting connection")
		t.Close()
		return
	}
	log.Debug().Str("session", sess.ID()).Str("remote", remote).Msg("session accepted")
}

// WebSocketHandler upgrades HTTP requests to websocket sessions. Mount it on any mux.
func (s *Server) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.shutdown.Load() {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
			return
		}
		t := transport.AcceptWebSocket(conn, transport.WithHeartbeat(s.heartbeat), transport.WithCodec(s.codec))
		s.connect(t, r.RemoteAddr)
	})
}

// Announce registers advertiseAddr under serviceName and under every reflection service,
// so clients can discover it by either. Shutdown deregisters them.
func (s *Server) Announce(ctx context.Context, reg registry.Registry, serviceName string, instance registry.ServiceInstance, ttl int64) error {
	names := append([]string{}, s.Services()...)
	if serviceName != "" {
		names = append(names, serviceName)
	}

	s.mu.Lock()
	s.registry = reg
	s.mu.Unlock()
	for _, name := range names {
		if err := reg.Register(ctx, name, instance, ttl); err != nil {
			return fmt.Errorf("announce %s: %w", name, err)
		}
		s.mu.Lock()
		s.announced = append(s.announced, announcement{service: name, addr: instance.Addr})
		s.mu.Unlock()
	}
	return nil
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry so clients stop picking this server
//  2. Close the listeners
//  3. Wait until in-flight requests are answered, up to timeout
//  4. Stop the Context, disconnecting every session and failing their pending requests
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	reg, announced := s.registry, s.announced
	s.announced = nil
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errList []error
	for _, a := range announced {
		if err := reg.Deregister(ctx, a.service, a.addr); err != nil {
			errList = append(errList, fmt.Errorf("deregister %s: %w", a.service, err))
		}
	}

	// set the flag before closing so Accept errors read as intentional
	s.shutdown.Store(true)
	for _, ln := range listeners {
		ln.Close()
	}

	if err := s.ctx.Drain(ctx); err != nil {
		errList = append(errList, fmt.Errorf("timeout waiting for ongoing requests to finish"))
	}

	if err := s.ctx.Stop(); err != nil {
		errList = append(errList, err)
	}
	return errors.Join(errList...)
}
