// Package event implements named pub/sub with type-checked payloads.
//
// Listeners are registered under an event name and keyed by a unique listener id.
// Payloads travel erased as `any`; a listener added with Listen declares the payload type it
// expects and the dispatcher performs a checked type assertion before calling it.
//
//	Trigger(ctx, "tick", 5)
//	  ├─► listener#1 func(C, int) error     ✓ called with 5
//	  ├─► listener#2 func(C, string) error  ✗ ListenerTypeError, dispatch continues
//	  └─► listener#3 func(C, int) error     ✓ called with 5
//
// Failure policy: every listener runs; all failures are joined with errors.Join and returned
// as one error. A panicking listener counts as a failed one.
package event

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"echostream/errs"

	"github.com/google/uuid"
)

// Handler is an erased listener: it receives the event context and the raw payload.
type Handler[C any] func(ctx C, data any) error

type listener[C any] struct {
	id string
	fn Handler[C]
}

// Dispatcher is safe for concurrent use. Listeners never run while its lock is held.
type Dispatcher[C any] struct {
	mu        sync.RWMutex
	listeners map[string][]listener[C]
}

func NewDispatcher[C any]() *Dispatcher[C] {
	return &Dispatcher[C]{listeners: make(map[string][]listener[C])}
}

// AddListener registers fn under name and returns its listener id.
func (d *Dispatcher[C]) AddListener(name string, fn Handler[C]) string {
	id := uuid.NewString()
	d.mu.Lock()
	d.listeners[name] = append(d.listeners[name], listener[C]{id: id, fn: fn})
	d.mu.Unlock()
	return id
}

// Listen registers a listener that expects payloads of type D.
func Listen[C, D any](d *Dispatcher[C], name string, fn func(ctx C, data D) error) string {
	want := reflect.TypeFor[D]().String()
	return d.AddListener(name, func(ctx C, data any) error {
		v, ok := data.(D)
		if !ok {
			return &errs.ListenerTypeError{Event: name, Want: want, Got: fmt.Sprintf("%T", data)}
		}
		return fn(ctx, v)
	})
}

// RemoveListener detaches the listener id from name. Unknown ids are ignored.
func (d *Dispatcher[C]) RemoveListener(name, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ls := d.listeners[name]
	for i, l := range ls {
		if l.id != id {
			continue
		}
		rest := make([]listener[C], 0, len(ls)-1)
		rest = append(rest, ls[:i]...)
		rest = append(rest, ls[i+1:]...)
		if len(rest) == 0 {
			delete(d.listeners, name)
		} else {
			d.listeners[name] = rest
		}
		return
	}
}

// Trigger calls every listener of name in registration order and returns once all have run.
// Listeners registered or removed during the call do not affect it.
func (d *Dispatcher[C]) Trigger(ctx C, name string, data any) error {
	d.mu.RLock()
	snapshot := d.listeners[name]
	d.mu.RUnlock()

	var failures []error
	for _, l := range snapshot {
		if err := invoke(l.fn, ctx, data); err != nil {
			failures = append(failures, fmt.Errorf("listener %s on %q: %w", l.id, name, err))
		}
	}
	return errors.Join(failures...)
}

func invoke[C any](fn Handler[C], ctx C, data any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return fn(ctx, data)
}

// Count returns the number of listeners registered under name.
func (d *Dispatcher[C]) Count(name string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[name])
}

func (d *Dispatcher[C]) ClearAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.listeners)
}
