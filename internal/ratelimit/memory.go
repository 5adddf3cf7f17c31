package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepEvery bounds how many increments may pass between purges of expired keys.
const sweepEvery = 1024

type window struct {
	count   int64
	resetAt time.Time
}

// MemoryStore keeps counters in process. Expired windows are dropped lazily.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	ops     int
	now     func() time.Time
}

// NewMemoryStore creates an in-process store. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{windows: make(map[string]*window), now: now}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.ops++
	if s.ops%sweepEvery == 0 {
		for k, w := range s.windows {
			if !now.Before(w.resetAt) {
				delete(s.windows, k)
			}
		}
	}

	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(ttl)}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt, nil
}

// Len reports live counters; used by tests.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
