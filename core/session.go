package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"echostream/errs"
	"echostream/event"
	"echostream/message"
	"echostream/metrics"
	"echostream/pending"
	"echostream/store"
	"echostream/stream"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Session is one peer connection. Its state and event listeners live only as long as the
// connection: both are cleared when the session disconnects.
type Session struct {
	id        string
	ctx       *Context
	transport Transport
	log       zerolog.Logger

	// lifecycle serializes Connect and Disconnect; hooks run after it is released.
	lifecycle sync.Mutex

	mu     sync.Mutex
	status SessionStatus
	base   context.Context
	cancel context.CancelFunc

	states    *store.Store
	events    *event.Dispatcher[*Session]
	pending   *pending.Table
	tracker   *stream.Tracker
	sequencer *stream.Sequencer
	nextEvent atomic.Uint32

	hookMu         sync.Mutex
	onConnected    []func(*Session)
	onDisconnected []func(*Session)
	onError        []func(*Session, error)
}

func newSession(c *Context, t Transport) *Session {
	id := uuid.NewString()
	s := &Session{
		id:        id,
		ctx:       c,
		transport: t,
		log:       c.log.With().Str("session", id).Logger(),
		status:    SessionDisconnected,
		states:    store.New(),
		events:    event.NewDispatcher[*Session](),
		pending:   pending.NewTable(),
		tracker:   stream.NewTracker(),
	}
	s.sequencer = stream.NewSequencer(s.deliverStream)
	return s
}

func (s *Session) ID() string { return s.id }

// Context returns the owning Context.
func (s *Session) Context() *Context { return s.ctx }

func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) States() *store.Store { return s.states }

func (s *Session) Events() *event.Dispatcher[*Session] { return s.events }

func (s *Session) AddListener(name string, fn event.Handler[*Session]) string {
	return s.events.AddListener(name, fn)
}

func (s *Session) RemoveListener(name, id string) {
	s.events.RemoveListener(name, id)
}

// Trigger runs this session's listeners of name with data.
func (s *Session) Trigger(name string, data any) error {
	return s.events.Trigger(s, name, data)
}

// Outstanding returns the number of requests waiting for a response.
func (s *Session) Outstanding() int { return s.pending.Len() }

// OpenStreams returns the number of inbound streams that have not finished.
func (s *Session) OpenStreams() int { return s.tracker.Open() }

func (s *Session) OnConnected(fn func(*Session)) {
	s.hookMu.Lock()
	s.onConnected = append(s.onConnected, fn)
	s.hookMu.Unlock()
}

func (s *Session) OnDisconnected(fn func(*Session)) {
	s.hookMu.Lock()
	s.onDisconnected = append(s.onDisconnected, fn)
	s.hookMu.Unlock()
}

// OnError registers fn for failures on this session: fatal transport errors (before the
// session disconnects) and contained dispatch failures such as handler errors and
// stream sequence anomalies.
func (s *Session) OnError(fn func(*Session, error)) {
	s.hookMu.Lock()
	s.onError = append(s.onError, fn)
	s.hookMu.Unlock()
}

// Connect moves Disconnected → Connecting → Connected. The owning Context must be Running.
// On transport failure the session stays Disconnected.
func (s *Session) Connect(ctx context.Context) error {
	s.lifecycle.Lock()

	s.mu.Lock()
	if s.status != SessionDisconnected && s.status != SessionConnecting {
		status := s.status
		s.mu.Unlock()
		s.lifecycle.Unlock()
		return errs.Session("cannot connect a %s session", status)
	}
	if err := s.ctx.attach(s); err != nil {
		s.mu.Unlock()
		s.lifecycle.Unlock()
		return err
	}
	s.status = SessionConnecting
	s.base, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	s.pending.Reopen()
	s.sequencer.Reopen()

	if err := s.transport.Connect(ctx, s); err != nil {
		s.mu.Lock()
		s.status = SessionDisconnected
		s.cancel()
		s.mu.Unlock()
		s.ctx.detach(s)
		s.lifecycle.Unlock()
		return fmt.Errorf("connect session %s: %w", s.id, err)
	}

	s.mu.Lock()
	s.status = SessionConnected
	s.mu.Unlock()
	s.lifecycle.Unlock()

	metrics.SessionConnected()
	s.log.Info().Msg("session connected")
	for _, fn := range s.sessionHooks(&s.onConnected) {
		s.ctx.runHook("on_connected", func() { fn(s) })
	}
	if err := s.ctx.Trigger(EventSessionConnected, s); err != nil {
		s.log.Warn().Err(err).Msg("session.connected listeners failed")
	}
	return nil
}

// Disconnect moves Connected → Disconnecting → Disconnected. Every outstanding request fails
// with errs.ErrConnectionClosed, queued stream frames are dropped, the transport is closed and
// the session's state and listeners are cleared before the on_disconnected hooks run.
func (s *Session) Disconnect() error {
	s.lifecycle.Lock()

	s.mu.Lock()
	if s.status != SessionConnected && s.status != SessionConnecting {
		status := s.status
		s.mu.Unlock()
		s.lifecycle.Unlock()
		return errs.Session("cannot disconnect a %s session", status)
	}
	s.status = SessionDisconnecting
	s.cancel()
	s.mu.Unlock()

	failed := s.pending.CloseAll(errs.ErrConnectionClosed)
	s.sequencer.Close()
	closeErr := s.transport.Close()
	s.tracker.Reset()
	s.states.Clear()
	s.events.ClearAll()

	s.mu.Lock()
	s.status = SessionDisconnected
	s.mu.Unlock()
	s.ctx.detach(s)
	s.lifecycle.Unlock()

	metrics.SessionDisconnected()
	s.log.Info().Int("failed_requests", failed).Msg("session disconnected")
	for _, fn := range s.sessionHooks(&s.onDisconnected) {
		s.ctx.runHook("on_disconnected", func() { fn(s) })
	}
	if err := s.ctx.Trigger(EventSessionDisconnected, s); err != nil {
		s.log.Warn().Err(err).Msg("session.disconnected listeners failed")
	}
	if closeErr != nil {
		return errs.IO(closeErr)
	}
	return nil
}

// Fail reports a fatal transport failure: the on_error hooks run, then the session
// disconnects. It is a no-op unless the session is connecting or connected.
func (s *Session) Fail(err error) {
	status := s.Status()
	if status != SessionConnected && status != SessionConnecting {
		return
	}
	s.log.Warn().Err(err).Msg("session failed")
	s.reportError(err)
	if dErr := s.Disconnect(); dErr != nil && !errors.Is(dErr, errs.ErrSession) {
		s.log.Debug().Err(dErr).Msg("disconnect after failure")
	}
}

func (s *Session) reportError(err error) {
	s.hookMu.Lock()
	hooks := append([]func(*Session, error){}, s.onError...)
	s.hookMu.Unlock()
	for _, fn := range hooks {
		s.ctx.runHook("on_error", func() { fn(s, err) })
	}
}

func (s *Session) sessionHooks(list *[]func(*Session)) []func(*Session) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	return append([]func(*Session){}, (*list)...)
}

func (s *Session) requireConnected() error {
	if status := s.Status(); status != SessionConnected {
		return errs.Session("session %s is %s", s.id, status)
	}
	return nil
}

// SendMessage writes msg as is. A write failure is fatal for the session.
func (s *Session) SendMessage(msg message.Message) error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	return s.write(msg)
}

func (s *Session) write(msg message.Message) error {
	if err := s.transport.Write(msg); err != nil {
		s.Fail(err)
		return fmt.Errorf("write %s %d: %w", msg.Kind(), msg.MessageID(), err)
	}
	return nil
}

// SendRequest calls the peer's RPC handler name with data and waits for the reply.
// A timeout <= 0 uses the Context's request timeout.
func (s *Session) SendRequest(ctx context.Context, name string, data []byte, timeout time.Duration) ([]byte, error) {
	return s.Call(ctx, &message.RequestMsg{Name: name, Data: data}, timeout)
}

// Call sends req (its ID is replaced by a fresh correlation id) and waits for the reply.
//
// The result is the response data, or exactly one of: *errs.RemoteError (the peer answered
// with an error code), *errs.TimeoutError (no answer before the deadline),
// errs.ErrConnectionClosed (the session disconnected first).
func (s *Session) Call(ctx context.Context, req *message.RequestMsg, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = s.ctx.RequestTimeout()
	}
	if err := s.requireConnected(); err != nil {
		return nil, err
	}

	// Register before writing so a fast response always finds its call.
	call, err := s.pending.Register(timeout)
	if err != nil {
		metrics.RecordOutbound(req.Name, outcomeOf(err))
		return nil, err
	}
	out := *req
	out.ID = call.ID

	if err := s.transport.Write(&out); err != nil {
		s.pending.Cancel(call.ID)
		s.Fail(err)
		metrics.RecordOutbound(req.Name, "error")
		return nil, fmt.Errorf("send request %s: %w", req.Name, err)
	}

	data, err := s.pending.Wait(ctx, call)
	metrics.RecordOutbound(req.Name, outcomeOf(err))
	return data, err
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errs.ErrRemote):
		return "remote_error"
	case errors.Is(err, errs.ErrTimeout):
		return "timeout"
	case errors.Is(err, errs.ErrConnectionClosed):
		return "closed"
	default:
		return "error"
	}
}

// SendEvent fires the peer's event handler name. There is no acknowledgement.
func (s *Session) SendEvent(name string, data []byte) error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	return s.write(&message.EventMsg{ID: s.nextEvent.Add(1), Name: name, Data: data})
}

// SendStream emits one frame of stream streamID to the peer's stream handler name.
// The caller keeps seq non-decreasing per stream; fin ends the stream.
func (s *Session) SendStream(streamID uint32, name string, seq uint32, ts message.Timestamp,
	data []byte, md message.Metadata, fin bool) error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	return s.write(&message.StreamMsg{
		ID:       streamID,
		Name:     name,
		Seq:      seq,
		SenderTS: ts,
		Data:     data,
		Fin:      fin,
		Metadata: md,
	})
}

func (s *Session) handlerContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.base == nil {
		return context.Background()
	}
	return s.base
}
