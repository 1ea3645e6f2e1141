package core

import (
	"echostream/event"
	"echostream/store"
)

// Stateful is implemented by Session and Context.
type Stateful interface {
	States() *store.Store
}

// Listenable is implemented by *Session (C = *Session) and *Context (C = *Context).
type Listenable[C any] interface {
	Events() *event.Dispatcher[C]
}

// SetState stores v under key on s as type T.
func SetState[T any](s Stateful, key string, v T) {
	store.Set(s.States(), key, v)
}

// GetState returns the value under key when it was stored as exactly T.
func GetState[T any](s Stateful, key string) (T, bool) {
	return store.Get[T](s.States(), key)
}

func RemoveState(s Stateful, key string) {
	s.States().Remove(key)
}

func ClearStates(s Stateful) {
	s.States().Clear()
}

// Listen registers fn for events named name whose payload is a D.
func Listen[C, D any](l Listenable[C], name string, fn func(ctx C, data D) error) string {
	return event.Listen(l.Events(), name, fn)
}
