// Package store implements a concurrency-safe map from string key to a value of any type.
//
// Each entry remembers the exact static type it was written with. Get only returns the value
// when the requested type is identical; any other type reads as "not found" instead of panicking,
// so generic code can probe for optional typed state.
//
// The same Store backs session state, context state and the handler registry.
package store

import (
	"reflect"
	"sort"
	"sync"
)

type entry struct {
	typ reflect.Type
	val any
}

// Store is safe for concurrent use. No user code runs while its lock is held.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func New() *Store {
	return &Store{entries: make(map[string]entry)}
}

// Set stores value under key as type T, replacing any previous value regardless of its type.
func Set[T any](s *Store, key string, value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{typ: reflect.TypeFor[T](), val: value}
}

// Get returns the value under key if it was stored as exactly T.
func Get[T any](s *Store, key string) (T, bool) {
	var zero T
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || e.typ != reflect.TypeFor[T]() {
		return zero, false
	}
	v, ok := e.val.(T)
	if !ok {
		// nil interface values stored as an interface type
		return zero, true
	}
	return v, true
}

// Has reports whether any value is stored under key, whatever its type.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[key]
	return ok
}

// Remove deletes key. Removing an absent key is a no-op.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.entries)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}
