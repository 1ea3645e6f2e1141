// Package pending correlates outbound requests with their responses.
//
// Every request gets an id that is unique among the requests still outstanding on a table.
// The caller registers BEFORE writing the request (so a fast response cannot race past the
// registration), then waits on its Call. Exactly one of three things resolves a Call:
//
//	response with matching id   → payload, or *errs.RemoteError for a failure code
//	deadline elapses            → *errs.TimeoutError{RequestID, Millis}
//	table closed (disconnect)   → errs.ErrConnectionClosed
//
// Whoever removes the id from the table owns the resolution; a late response for an id that
// was already resolved finds nothing and is reported as unmatched.
package pending

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"echostream/errs"
	"echostream/message"
)

type outcome struct {
	resp *message.ResponseMsg
	err  error
}

// Call is one outstanding request.
type Call struct {
	ID       uint32
	Deadline time.Time
	timeout  time.Duration
	done     chan outcome // buffered: the resolver never blocks
}

// Table is the outstanding-request table of one session.
type Table struct {
	mu     sync.Mutex
	next   uint32
	calls  map[uint32]*Call
	closed error
}

func NewTable() *Table {
	return &Table{calls: make(map[uint32]*Call)}
}

// Register allocates a fresh request id and records a call that expires after timeout.
func (t *Table) Register(timeout time.Duration) (*Call, error) {
	if timeout <= 0 {
		return nil, errs.InvalidParam("request timeout must be positive, got %s", timeout)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed != nil {
		return nil, t.closed
	}
	if uint64(len(t.calls)) >= math.MaxUint32 {
		return nil, errs.Session("no free request id")
	}
	// Ids wrap around; an id is only reused once its previous call left the table.
	for {
		t.next++
		if t.next == 0 {
			continue
		}
		if _, busy := t.calls[t.next]; !busy {
			break
		}
	}
	call := &Call{
		ID:       t.next,
		Deadline: time.Now().Add(timeout),
		timeout:  timeout,
		done:     make(chan outcome, 1),
	}
	t.calls[call.ID] = call
	return call, nil
}

// Resolve delivers resp to the call with the same id. It returns false when no call is
// waiting for that id (never sent, already timed out, or already answered).
func (t *Table) Resolve(resp *message.ResponseMsg) bool {
	call, ok := t.take(resp.ID)
	if !ok {
		return false
	}
	call.done <- outcome{resp: resp}
	return true
}

// Cancel forgets a call without resolving it, e.g. when the request could not be written.
func (t *Table) Cancel(id uint32) {
	t.take(id)
}

// CloseAll resolves every outstanding call with err and refuses new registrations until Reopen.
// It returns the number of calls that were failed.
func (t *Table) CloseAll(err error) int {
	if err == nil {
		err = errs.ErrConnectionClosed
	}
	t.mu.Lock()
	calls := t.calls
	t.calls = make(map[uint32]*Call)
	t.closed = err
	t.mu.Unlock()

	for _, call := range calls {
		call.done <- outcome{err: err}
	}
	return len(calls)
}

// Reopen accepts registrations again after CloseAll.
func (t *Table) Reopen() {
	t.mu.Lock()
	t.closed = nil
	t.mu.Unlock()
}

// Len returns the number of outstanding calls.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func (t *Table) take(id uint32) (*Call, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	call, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
	}
	return call, ok
}

// Wait suspends until call is resolved, its deadline passes, or ctx is done.
// A success response yields its data; an error code yields *errs.RemoteError.
func (t *Table) Wait(ctx context.Context, call *Call) ([]byte, error) {
	timer := time.NewTimer(time.Until(call.Deadline))
	defer timer.Stop()

	select {
	case out := <-call.done:
		return out.result()
	case <-timer.C:
		if _, ok := t.take(call.ID); ok {
			return nil, &errs.TimeoutError{RequestID: call.ID, Millis: uint64(call.timeout.Milliseconds())}
		}
	case <-ctx.Done():
		if _, ok := t.take(call.ID); ok {
			return nil, fmt.Errorf("request %d: %w", call.ID, ctx.Err())
		}
	}
	// Lost the race: a resolver already removed the call and is delivering.
	out := <-call.done
	return out.result()
}

func (o outcome) result() ([]byte, error) {
	if o.err != nil {
		return nil, o.err
	}
	if o.resp.Code.IsError() {
		return nil, &errs.RemoteError{Code: o.resp.Code, Message: o.resp.Text()}
	}
	return o.resp.Data, nil
}
