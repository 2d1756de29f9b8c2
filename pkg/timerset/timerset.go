// Package timerset provides a registry of named one-shot timers owned by a
// single component, so that teardown can cancel every outstanding timer at once.
package timerset

import (
	"sync"
	"time"
)

// Set is a collection of named one-shot timers. Setting a timer under a key
// that already holds a pending timer replaces it. The zero value is not usable;
// use New.
type Set struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// New creates an empty timer set.
func New() *Set {
	return &Set{timers: make(map[string]*time.Timer)}
}

// Set schedules fn to run after d, replacing any pending timer with the same key.
// The callback runs on its own goroutine and is removed from the set before firing.
// Scheduling on a stopped set is a no-op.
func (s *Set) Set(key string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if t, ok := s.timers[key]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		// A replaced or cancelled timer may already have fired; it must not
		// run its callback or unregister its successor.
		if s.stopped || s.timers[key] != timer {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		s.mu.Unlock()
		fn()
	})
	s.timers[key] = timer
}

// Cancel stops the pending timer for key, if any. Returns true if a timer was pending.
func (s *Set) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[key]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.timers, key)
	return true
}

// Active reports whether a timer is pending for key.
func (s *Set) Active(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// Len returns the number of pending timers.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// CancelAll stops every pending timer but keeps the set usable.
func (s *Set) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, t := range s.timers {
		t.Stop()
		delete(s.timers, k)
	}
}

// Stop cancels every pending timer and marks the set stopped: subsequent Set
// calls are ignored and callbacks that already fired but did not yet run are
// suppressed. Used on component teardown.
func (s *Set) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for k, t := range s.timers {
		t.Stop()
		delete(s.timers, k)
	}
}
