package repository

import (
	"context"
	"sync"
	"time"
)

// CounterStore is the fixed-window counter backing rate limits and quota
// checks. Incr bumps the key's counter and returns the new value; the first
// bump in a window arms the expiry. TTL reports how long until the key's
// window resets, or zero when the key is absent.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Ping(ctx context.Context) error
}

// MemoryCounterStore is the single-node CounterStore used when no Redis is
// configured.
type MemoryCounterStore struct {
	mu      sync.Mutex
	entries map[string]*counterEntry
}

type counterEntry struct {
	count   int64
	resetAt time.Time
}

// NewMemoryCounterStore creates an in-process counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{entries: make(map[string]*counterEntry)}
}

func (s *MemoryCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || now.After(entry.resetAt) {
		entry = &counterEntry{resetAt: now.Add(window)}
		s.entries[key] = entry
	}
	entry.count++

	if len(s.entries) > 10000 {
		s.prune(now)
	}
	return entry.count, nil
}

func (s *MemoryCounterStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || now.After(entry.resetAt) {
		return 0, nil
	}
	return entry.resetAt.Sub(now), nil
}

func (s *MemoryCounterStore) Ping(ctx context.Context) error {
	return nil
}

// prune drops expired windows. Caller holds the lock.
func (s *MemoryCounterStore) prune(now time.Time) {
	for key, entry := range s.entries {
		if now.After(entry.resetAt) {
			delete(s.entries, key)
		}
	}
}
