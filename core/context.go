// Package core ties the echostream runtime together.
//
// A Context is the client or server role of a process. It owns the handler registry, a global
// event dispatcher, context-wide state and the set of live Sessions. A Session is one peer
// connection; it owns its own state, event dispatcher, outstanding-request table and stream
// trackers, and routes every inbound message:
//
//	ResponseMsg ──► pending table (correlated by id)
//	RequestMsg  ──► RPCHandler    ──► ResponseMsg back to the peer (NOT_FOUND on miss)
//	EventMsg    ──► EventHandler  (dropped on miss)
//	StreamMsg   ──► sequencer ──► StreamHandler, in per-stream arrival order (dropped on miss)
package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"echostream/errs"
	"echostream/event"
	"echostream/middleware"
	"echostream/store"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Events triggered on the Context's global dispatcher with the *Session as payload.
const (
	EventSessionConnected    = "session.connected"
	EventSessionDisconnected = "session.disconnected"
)

const DefaultRequestTimeout = 5 * time.Second

type Option func(*Context)

// WithRequestTimeout sets the timeout used by SendRequest and Call when none is given.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Context) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithMiddleware wraps every RPC handler of the Context, outermost first.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Context) {
		c.middlewares = append(c.middlewares, mws...)
	}
}

// WithLogger replaces the global zerolog logger for this Context and its Sessions.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Context) {
		c.log = l
	}
}

type Context struct {
	mu       sync.Mutex
	status   ContextStatus
	sessions map[string]*Session

	handlers *store.Store
	states   *store.Store
	events   *event.Dispatcher[*Context]

	inflight sync.WaitGroup // inbound requests not yet answered

	requestTimeout time.Duration
	middlewares    []middleware.Middleware
	log            zerolog.Logger

	hookMu     sync.Mutex
	onStarted  []func(*Context)
	onStopped  []func(*Context)
	onSessions []func(*Session)
}

func NewContext(opts ...Option) *Context {
	c := &Context{
		status:         ContextInitializing,
		sessions:       make(map[string]*Session),
		handlers:       store.New(),
		states:         store.New(),
		events:         event.NewDispatcher[*Context](),
		requestTimeout: DefaultRequestTimeout,
		log:            log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Drain waits until every inbound request of every session has been answered, or ctx ends.
func (c *Context) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Context) Status() ContextStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Context) RequestTimeout() time.Duration { return c.requestTimeout }

// Use appends RPC middleware. It affects requests dispatched after the call.
func (c *Context) Use(mws ...middleware.Middleware) {
	c.hookMu.Lock()
	c.middlewares = append(c.middlewares, mws...)
	c.hookMu.Unlock()
}

// Start moves Initializing → Running and fires the on_started hooks.
func (c *Context) Start() error {
	c.mu.Lock()
	if c.status != ContextInitializing {
		status := c.status
		c.mu.Unlock()
		return errs.Context("cannot start a %s context", status)
	}
	c.status = ContextRunning
	c.mu.Unlock()

	c.log.Info().Msg("context started")
	for _, fn := range c.hooks(&c.onStarted) {
		c.runHook("on_started", func() { fn(c) })
	}
	return nil
}

// Stop moves Running → Stopping, disconnects every live Session concurrently, then moves
// to Stopped and fires the on_stopped hooks. A stopped Context cannot be started again.
func (c *Context) Stop() error {
	c.mu.Lock()
	if c.status != ContextRunning {
		status := c.status
		c.mu.Unlock()
		return errs.Context("cannot stop a %s context", status)
	}
	c.status = ContextStopping
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(func() error {
			if err := s.Disconnect(); err != nil && !errors.Is(err, errs.ErrSession) {
				return err
			}
			return nil
		})
	}
	drainErr := g.Wait()

	c.mu.Lock()
	c.status = ContextStopped
	c.mu.Unlock()

	c.log.Info().Int("sessions", len(sessions)).Msg("context stopped")
	for _, fn := range c.hooks(&c.onStopped) {
		c.runHook("on_stopped", func() { fn(c) })
	}
	return drainErr
}

func (c *Context) OnStarted(fn func(*Context)) { c.addHook(&c.onStarted, fn) }

func (c *Context) OnStopped(fn func(*Context)) { c.addHook(&c.onStopped, fn) }

// OnSession runs fn for every Session created by NewSession, before it connects.
// Use it to attach per-session hooks and listeners on the server side.
func (c *Context) OnSession(fn func(*Session)) {
	c.hookMu.Lock()
	c.onSessions = append(c.onSessions, fn)
	c.hookMu.Unlock()
}

// NewSession creates a Disconnected Session that talks through t.
func (c *Context) NewSession(t Transport) *Session {
	s := newSession(c, t)
	c.hookMu.Lock()
	setups := append([]func(*Session){}, c.onSessions...)
	c.hookMu.Unlock()
	for _, fn := range setups {
		c.runHook("on_session", func() { fn(s) })
	}
	return s
}

// Session returns the live session with the given id.
func (c *Context) Session(id string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	return s, ok
}

// Sessions returns a snapshot of the live sessions ordered by id.
func (c *Context) Sessions() []*Session {
	c.mu.Lock()
	out := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (c *Context) States() *store.Store { return c.states }

func (c *Context) Events() *event.Dispatcher[*Context] { return c.events }

func (c *Context) AddListener(name string, fn event.Handler[*Context]) string {
	return c.events.AddListener(name, fn)
}

func (c *Context) RemoveListener(name, id string) {
	c.events.RemoveListener(name, id)
}

// Trigger runs the global listeners of name with data.
func (c *Context) Trigger(name string, data any) error {
	return c.events.Trigger(c, name, data)
}

func (c *Context) attach(s *Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != ContextRunning {
		return errs.Context("cannot connect a session on a %s context", c.status)
	}
	c.sessions[s.id] = s
	return nil
}

func (c *Context) detach(s *Session) {
	c.mu.Lock()
	delete(c.sessions, s.id)
	c.mu.Unlock()
}

func (c *Context) chain() middleware.Middleware {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	return middleware.Chain(append([]middleware.Middleware{}, c.middlewares...)...)
}

func (c *Context) addHook(list *[]func(*Context), fn func(*Context)) {
	c.hookMu.Lock()
	*list = append(*list, fn)
	c.hookMu.Unlock()
}

func (c *Context) hooks(list *[]func(*Context)) []func(*Context) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	return append([]func(*Context){}, (*list)...)
}

// runHook calls fn, logging instead of propagating a panic so the next hook still runs.
func (c *Context) runHook(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Str("hook", kind).Msgf("lifecycle hook panic: %v", r)
		}
	}()
	fn()
}
