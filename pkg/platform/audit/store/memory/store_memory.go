// Package memory keeps the most recent audit events in process. It backs
// tests and deployments without a broker.
package memory

import (
	"context"
	"sync"

	audit "quotaguard/pkg/platform/audit"
)

const defaultCapacity = 10_000

// InMemoryStore is a fixed-size ring; once full the oldest event is dropped.
type InMemoryStore struct {
	mu      sync.RWMutex
	events  []audit.Event
	next    int
	full    bool
	dropped int
}

type Option func(*InMemoryStore)

// WithCapacity bounds how many events are retained.
func WithCapacity(n int) Option {
	return func(s *InMemoryStore) {
		if n > 0 {
			s.events = make([]audit.Event, n)
		}
	}
}

func NewInMemoryStore(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{}
	for _, opt := range opts {
		opt(s)
	}
	if s.events == nil {
		s.events = make([]audit.Event, defaultCapacity)
	}
	return s
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		s.dropped++
	}
	s.events[s.next] = event
	s.next = (s.next + 1) % len(s.events)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// ordered returns retained events oldest first. Callers hold the read lock.
func (s *InMemoryStore) ordered() []audit.Event {
	if !s.full {
		return append([]audit.Event{}, s.events[:s.next]...)
	}
	out := make([]audit.Event, 0, len(s.events))
	out = append(out, s.events[s.next:]...)
	return append(out, s.events[:s.next]...)
}

// ListByAction returns retained events with the given action, oldest first.
func (s *InMemoryStore) ListByAction(_ context.Context, action string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, e := range s.ordered() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListRecent returns the last limit events, oldest first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.ordered()
	return all[max(len(all)-limit, 0):], nil
}

// Dropped reports how many events were overwritten because the ring was full.
func (s *InMemoryStore) Dropped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}
