package core

import (
	"context"

	"echostream/errs"
	"echostream/message"
	"echostream/store"
)

// Handler is application code bound to a name. A registered Handler is also one of
// RPCHandler, EventHandler or StreamHandler.
type Handler interface {
	Name() string
}

type RPCHandler interface {
	Handler
	HandleRequest(ctx context.Context, s *Session, req *message.RequestMsg) (*message.ResponseMsg, error)
}

type EventHandler interface {
	Handler
	HandleEvent(ctx context.Context, s *Session, evt *message.EventMsg) error
}

type StreamHandler interface {
	Handler
	HandleStream(ctx context.Context, s *Session, frame *message.StreamMsg) error
}

type rpcFunc struct {
	name string
	fn   func(ctx context.Context, s *Session, req *message.RequestMsg) (*message.ResponseMsg, error)
}

func (h rpcFunc) Name() string { return h.name }

func (h rpcFunc) HandleRequest(ctx context.Context, s *Session, req *message.RequestMsg) (*message.ResponseMsg, error) {
	return h.fn(ctx, s, req)
}

// RPCFunc adapts a function to an RPCHandler named name.
func RPCFunc(name string, fn func(ctx context.Context, s *Session, req *message.RequestMsg) (*message.ResponseMsg, error)) RPCHandler {
	return rpcFunc{name: name, fn: fn}
}

type eventFunc struct {
	name string
	fn   func(ctx context.Context, s *Session, evt *message.EventMsg) error
}

func (h eventFunc) Name() string { return h.name }

func (h eventFunc) HandleEvent(ctx context.Context, s *Session, evt *message.EventMsg) error {
	return h.fn(ctx, s, evt)
}

// EventFunc adapts a function to an EventHandler named name.
func EventFunc(name string, fn func(ctx context.Context, s *Session, evt *message.EventMsg) error) EventHandler {
	return eventFunc{name: name, fn: fn}
}

type streamFunc struct {
	name string
	fn   func(ctx context.Context, s *Session, frame *message.StreamMsg) error
}

func (h streamFunc) Name() string { return h.name }

func (h streamFunc) HandleStream(ctx context.Context, s *Session, frame *message.StreamMsg) error {
	return h.fn(ctx, s, frame)
}

// StreamFunc adapts a function to a StreamHandler named name.
func StreamFunc(name string, fn func(ctx context.Context, s *Session, frame *message.StreamMsg) error) StreamHandler {
	return streamFunc{name: name, fn: fn}
}

// RegisterHandler stores h under h.Name(), silently replacing any handler of that name.
//
// Each variant is stored with its own static type, so a lookup for the wrong variant
// reads as absent.
func (c *Context) RegisterHandler(h Handler) error {
	if h == nil || h.Name() == "" {
		return errs.InvalidParam("handler must have a name")
	}
	switch v := h.(type) {
	case RPCHandler:
		store.Set[RPCHandler](c.handlers, v.Name(), v)
	case EventHandler:
		store.Set[EventHandler](c.handlers, v.Name(), v)
	case StreamHandler:
		store.Set[StreamHandler](c.handlers, v.Name(), v)
	default:
		return errs.InvalidParam("handler %q is not an rpc, event or stream handler (%T)", h.Name(), h)
	}
	c.log.Debug().Str("handler", h.Name()).Msg("handler registered")
	return nil
}

// GetHandler returns the handler registered under name.
func (c *Context) GetHandler(name string) (Handler, error) {
	if h, ok := store.Get[RPCHandler](c.handlers, name); ok {
		return h, nil
	}
	if h, ok := store.Get[EventHandler](c.handlers, name); ok {
		return h, nil
	}
	if h, ok := store.Get[StreamHandler](c.handlers, name); ok {
		return h, nil
	}
	return nil, &errs.HandlerNotFoundError{Name: name}
}

// LookupHandler returns the handler under name if it is of variant H
// (RPCHandler, EventHandler or StreamHandler).
func LookupHandler[H Handler](c *Context, name string) (H, error) {
	h, ok := store.Get[H](c.handlers, name)
	if !ok {
		var zero H
		return zero, &errs.HandlerNotFoundError{Name: name}
	}
	return h, nil
}

func (c *Context) UnregisterHandler(name string) {
	c.handlers.Remove(name)
}

func (c *Context) ClearHandlers() {
	c.handlers.Clear()
}

// HandlerNames lists registered handler names in sorted order.
func (c *Context) HandlerNames() []string {
	return c.handlers.Keys()
}
