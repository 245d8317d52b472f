package bucket

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	defaultShards             = 32
	defaultMaxWindowsPerShard = 100_000
)

// InMemoryStore implements ports.WindowStore with sharded fixed windows.
// Counters live in process memory, so limits are per instance. Use RedisStore
// or SQLStore when several instances must share a budget.
type InMemoryStore struct {
	shards []*shard
	now    func() time.Time
	max    int
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*list.Element
	lru     *list.List // front is most recently used
}

type window struct {
	key     string
	count   int
	resetAt time.Time
}

// Option configures an InMemoryStore.
type Option func(*InMemoryStore)

// WithShards sets the number of lock shards.
func WithShards(n int) Option {
	return func(s *InMemoryStore) {
		if n > 0 {
			s.shards = make([]*shard, n)
		}
	}
}

// WithMaxWindowsPerShard bounds memory. When a shard is full the least
// recently touched window is evicted, which forgives its remaining count.
func WithMaxWindowsPerShard(n int) Option {
	return func(s *InMemoryStore) {
		if n > 0 {
			s.max = n
		}
	}
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *InMemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a sharded in-memory window store.
func New(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{
		shards: make([]*shard, defaultShards),
		now:    time.Now,
		max:    defaultMaxWindowsPerShard,
	}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.shards {
		s.shards[i] = &shard{windows: make(map[string]*list.Element), lru: list.New()}
	}
	return s
}

func (s *InMemoryStore) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// Increment adds one to the window for key, opening a new window when the
// previous one has ended.
func (s *InMemoryStore) Increment(_ context.Context, key string, length time.Duration) (int, time.Time, error) {
	now := s.now()
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if el, ok := sh.windows[key]; ok {
		w := el.Value.(*window)
		if now.Before(w.resetAt) {
			w.count++
			sh.lru.MoveToFront(el)
			return w.count, w.resetAt, nil
		}
		w.count = 1
		w.resetAt = now.Add(length)
		sh.lru.MoveToFront(el)
		return w.count, w.resetAt, nil
	}

	if sh.lru.Len() >= s.max {
		sh.evictOldest()
	}
	w := &window{key: key, count: 1, resetAt: now.Add(length)}
	sh.windows[key] = sh.lru.PushFront(w)
	return w.count, w.resetAt, nil
}

// Count reports the live count for key without touching it.
func (s *InMemoryStore) Count(_ context.Context, key string) (int, time.Time, error) {
	now := s.now()
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	el, ok := sh.windows[key]
	if !ok {
		return 0, time.Time{}, nil
	}
	w := el.Value.(*window)
	if !now.Before(w.resetAt) {
		return 0, time.Time{}, nil
	}
	return w.count, w.resetAt, nil
}

func (s *InMemoryStore) Reset(_ context.Context, key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if el, ok := sh.windows[key]; ok {
		sh.lru.Remove(el)
		delete(sh.windows, key)
	}
	return nil
}

// RemoveExpired drops every window that has ended as of now and returns how
// many were removed.
func (s *InMemoryStore) RemoveExpired(now time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, el := range sh.windows {
			if !now.Before(el.Value.(*window).resetAt) {
				sh.lru.Remove(el)
				delete(sh.windows, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// StartCleanup runs periodic expiry until ctx is cancelled.
func (s *InMemoryStore) StartCleanup(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RemoveExpired(s.now())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stats returns the total number of windows and the count per shard.
func (s *InMemoryStore) Stats() (total int, perShard []int) {
	perShard = make([]int, len(s.shards))
	for i, sh := range s.shards {
		sh.mu.Lock()
		perShard[i] = sh.lru.Len()
		sh.mu.Unlock()
		total += perShard[i]
	}
	return total, perShard
}

// evictOldest must be called with sh.mu held.
func (sh *shard) evictOldest() {
	el := sh.lru.Back()
	if el == nil {
		return
	}
	sh.lru.Remove(el)
	delete(sh.windows, el.Value.(*window).key)
}
