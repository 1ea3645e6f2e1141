package core

import (
	"context"
	"fmt"

	"echostream/errs"
	"echostream/message"
	"echostream/metrics"
	"echostream/middleware"
)

// Dispatch routes one inbound message. It never blocks on handler code: requests and events
// run on their own goroutine and stream frames are queued per stream id.
//
// The returned error reports a protocol problem with this message only (for instance a
// response nobody is waiting for); it is not fatal for the session.
func (s *Session) Dispatch(ctx context.Context, msg message.Message) error {
	if status := s.Status(); status != SessionConnected && status != SessionConnecting {
		return errs.Session("dispatch %s on a %s session", msg.Kind(), status)
	}

	switch m := msg.(type) {
	case *message.ResponseMsg:
		if !s.pending.Resolve(m) {
			metrics.RecordUnmatchedResponse()
			s.log.Warn().Uint32("request", m.ID).Msg("unmatched response discarded")
			return errs.Protocol("response %d matches no outstanding request", m.ID)
		}
	case *message.RequestMsg:
		s.ctx.inflight.Add(1)
		go s.serveRequest(m)
	case *message.EventMsg:
		go s.serveEvent(m)
	case *message.StreamMsg:
		if !s.sequencer.Push(m) {
			return errs.Session("stream %d frame %d after close", m.ID, m.Seq)
		}
	default:
		return errs.Protocol("unknown message %T", msg)
	}
	return nil
}

func (s *Session) serveRequest(req *message.RequestMsg) {
	defer s.ctx.inflight.Done()
	resp := s.handleRequest(req)
	// a request can arrive while Connect is still finishing
	if status := s.Status(); status != SessionConnected && status != SessionConnecting {
		s.log.Debug().Uint32("request", req.ID).Msg("session closed before response")
		return
	}
	if err := s.write(resp); err != nil {
		s.log.Warn().Err(err).Uint32("request", req.ID).Msg("write response failed")
	}
}

// handleRequest always yields a response for req: NOT_FOUND on a registry miss, the mapped
// error code when the handler fails.
func (s *Session) handleRequest(req *message.RequestMsg) *message.ResponseMsg {
	h, err := LookupHandler[RPCHandler](s.ctx, req.Name)
	if err != nil {
		s.log.Debug().Str("handler", req.Name).Msg("rpc handler not found")
		return message.NewErrorResponse(req.ID, message.StatusNotFound, err.Error())
	}

	final := func(ctx context.Context, req *message.RequestMsg) (resp *message.ResponseMsg, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("rpc handler %s panicked: %v", req.Name, r)
			}
		}()
		return h.HandleRequest(ctx, s, req)
	}
	ctx := middleware.WithSessionID(s.handlerContext(), s.id)
	resp, err := s.ctx.chain()(final)(ctx, req)

	switch {
	case err != nil:
		return message.NewErrorResponse(req.ID, errs.StatusOf(err), err.Error())
	case resp == nil:
		return message.NewResponse(req.ID, message.StatusSuccess, nil)
	default:
		out := *resp
		out.ID = req.ID
		return &out
	}
}

func (s *Session) serveEvent(evt *message.EventMsg) {
	h, err := LookupHandler[EventHandler](s.ctx, evt.Name)
	if err != nil {
		s.log.Debug().Str("event", evt.Name).Msg("event dropped: no handler")
		return
	}
	err = guard(func() error {
		return h.HandleEvent(s.handlerContext(), s, evt)
	})
	if err != nil {
		metrics.RecordDispatchFailure("event")
		s.log.Warn().Err(err).Str("event", evt.Name).Msg("event handler failed")
		s.reportError(err)
	}
}

// deliverStream runs on the sequencer lane of frame.ID, so frames of one stream arrive here
// one at a time in arrival order.
// A frame dropped for lack of a handler is never observed, so it cannot move the watermark.
func (s *Session) deliverStream(frame *message.StreamMsg) {
	h, err := LookupHandler[StreamHandler](s.ctx, frame.Name)
	if err != nil {
		s.log.Debug().Str("handler", frame.Name).Uint32("stream", frame.ID).Msg("stream frame dropped: no handler")
		return
	}

	if anomaly := s.tracker.Observe(frame); anomaly != nil {
		metrics.RecordStreamAnomaly(frame.Name)
		s.log.Warn().Err(anomaly).Str("handler", frame.Name).Msg("stream sequence anomaly")
		s.reportError(anomaly)
	}
	err = guard(func() error {
		return h.HandleStream(s.handlerContext(), s, frame)
	})
	if err != nil {
		metrics.RecordDispatchFailure("stream")
		s.log.Warn().Err(err).Str("handler", frame.Name).Uint32("stream", frame.ID).Msg("stream handler failed")
		s.reportError(&errs.StreamError{StreamID: frame.ID, Reason: err.Error()})
	}
}

func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return fn()
}
