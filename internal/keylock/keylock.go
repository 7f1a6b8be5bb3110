// Package keylock serializes work per key, e.g. per occurrence id.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Set hands out one mutex per key. Entries are dropped once no caller
// holds or waits for them, so the map only grows with live contention.
type Set struct {
	mu    sync.Mutex
	locks map[int64]*entry
}

// New creates an empty Set.
func New() *Set {
	return &Set{locks: make(map[int64]*entry)}
}

// Lock blocks until key is free and returns the function that releases it.
func (s *Set) Lock(key int64) (unlock func()) {
	s.mu.Lock()
	e, exists := s.locks[key]
	if !exists {
		e = &entry{}
		s.locks[key] = e
	}
	e.refs++
	s.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		s.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// Len returns the number of keys currently held or awaited.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
