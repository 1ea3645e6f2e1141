package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"echostream/errs"
	"echostream/message"
)

func TestContextStartTwice(t *testing.T) {
	c := NewContext()
	if c.Status() != ContextInitializing {
		t.Fatalf("expect initializing, got %s", c.Status())
	}
	if err := c.Start(); err != nil {
		t.Fatalf("first start: %v", err)
	}
	err := c.Start()
	if !errors.Is(err, errs.ErrContext) {
		t.Fatalf("second start should fail with a context error, got %v", err)
	}
	if c.Status() != ContextRunning {
		t.Fatalf("context should stay running, got %s", c.Status())
	}
}

func TestContextStopDrainsSessions(t *testing.T) {
	c := NewContext()
	var order []string
	c.OnStarted(func(*Context) { order = append(order, "started") })
	c.OnStopped(func(*Context) { order = append(order, "stopped") })

	if err := c.Stop(); !errors.Is(err, errs.ErrContext) {
		t.Fatalf("stop before start should fail, got %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}

	sessions := []*Session{c.NewSession(newPipe()), c.NewSession(newPipe()), c.NewSession(newPipe())}
	for _, s := range sessions {
		if err := s.Connect(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(c.Sessions()); got != 3 {
		t.Fatalf("expect 3 live sessions, got %d", got)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if c.Status() != ContextStopped {
		t.Fatalf("expect stopped, got %s", c.Status())
	}
	for _, s := range sessions {
		if s.Status() != SessionDisconnected {
			t.Errorf("session %s should be disconnected, got %s", s.ID(), s.Status())
		}
	}
	if len(c.Sessions()) != 0 {
		t.Fatal("stopped context should own no sessions")
	}
	if len(order) != 2 || order[0] != "started" || order[1] != "stopped" {
		t.Fatalf("unexpected hook order %v", order)
	}

	if err := c.Start(); !errors.Is(err, errs.ErrContext) {
		t.Fatalf("restarting a stopped context should fail, got %v", err)
	}
}

func TestSessionRequiresRunningContext(t *testing.T) {
	c := NewContext()
	s := c.NewSession(newPipe())
	if err := s.Connect(context.Background()); !errors.Is(err, errs.ErrContext) {
		t.Fatalf("expect context error, got %v", err)
	}
	if s.Status() != SessionDisconnected {
		t.Fatalf("expect disconnected, got %s", s.Status())
	}
}

func TestContextSessionEvents(t *testing.T) {
	c := NewContext()
	connected := make(chan string, 1)
	disconnected := make(chan string, 1)
	Listen(c, EventSessionConnected, func(_ *Context, s *Session) error {
		connected <- s.ID()
		return nil
	})
	Listen(c, EventSessionDisconnected, func(_ *Context, s *Session) error {
		disconnected <- s.ID()
		return nil
	})

	var setup []string
	c.OnSession(func(s *Session) { setup = append(setup, s.ID()) })

	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	s := c.NewSession(newPipe())
	if len(setup) != 1 || setup[0] != s.ID() {
		t.Fatalf("OnSession should see the new session, got %v", setup)
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if id := <-connected; id != s.ID() {
		t.Fatalf("connected event for %s, want %s", id, s.ID())
	}
	if got, ok := c.Session(s.ID()); !ok || got != s {
		t.Fatal("context should track the connected session")
	}
	if err := s.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if id := <-disconnected; id != s.ID() {
		t.Fatalf("disconnected event for %s, want %s", id, s.ID())
	}
	c.Stop()
}

func TestContextState(t *testing.T) {
	c := NewContext()
	SetState(c, "name", "edge")
	SetState(c, "limit", 10)

	if v, ok := GetState[string](c, "name"); !ok || v != "edge" {
		t.Fatalf("expect edge, got %q %v", v, ok)
	}
	if _, ok := GetState[int64](c, "limit"); ok {
		t.Fatal("mismatched type should read as absent")
	}
	RemoveState(c, "name")
	if _, ok := GetState[string](c, "name"); ok {
		t.Fatal("removed key should be absent")
	}
	ClearStates(c)
	if c.States().Len() != 0 {
		t.Fatal("expect empty state after clear")
	}
}

func TestContextDrainWaitsForAnswers(t *testing.T) {
	p := newPair(t)
	release := make(chan struct{})
	entered := make(chan struct{})
	p.server.RegisterHandler(RPCFunc("block", func(ctx context.Context, s *Session, req *message.RequestMsg) (*message.ResponseMsg, error) {
		close(entered)
		<-release
		return message.NewResponse(req.ID, message.StatusSuccess, []byte("done")), nil
	}))

	replied := make(chan error, 1)
	go func() {
		_, err := p.clientSess.SendRequest(context.Background(), "block", nil, time.Second)
		replied <- err
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.server.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expect drain to time out, got %v", err)
	}

	close(release)
	if err := p.server.Drain(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := <-replied; err != nil {
		t.Fatalf("expect the answered request to succeed, got %v", err)
	}
}
