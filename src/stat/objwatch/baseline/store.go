// Package baseline keeps the first sample a watcher takes as its reference point.
package baseline

import "sync"

// Store is a single-assignment cell. Once a value is recorded it is never replaced,
// so growth is always measured against the state at start-up.
type Store[T any] struct {
	mu  sync.RWMutex
	set bool
	val T
}

func New[T any]() *Store[T] {
	return &Store[T]{}
}

// RecordIfEmpty stores v when nothing was recorded yet and reports whether it did.
// The check and the write happen under one lock.
func (s *Store[T]) RecordIfEmpty(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		return false
	}
	s.val = v
	s.set = true
	return true
}

// Current returns the baseline and whether one exists.
func (s *Store[T]) Current() (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.val, s.set
}

func (s *Store[T]) IsSet() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set
}
