package ratelimit

import (
	"context"
	"sync"
	"time"
)

var _ CounterStore = (*MemoryStore)(nil)

type memoryWindow struct {
	count    int64
	expires  time.Time
	armedFor time.Duration
}

// MemoryStore implements CounterStore in process memory. Budgets only hold
// per instance, which is fine for development runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	blocks  map[string]time.Time
	now     func() time.Time
}

// MemoryOption configures MemoryStore behavior.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the time source (useful for tests).
func WithMemoryClock(fn func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		windows: make(map[string]*memoryWindow),
		blocks:  make(map[string]time.Time),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.expires) {
		w = &memoryWindow{expires: now.Add(window), armedFor: window}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.expires.Sub(now), nil
}

func (s *MemoryStore) SetBlock(_ context.Context, key string, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[key] = s.now().Add(d)
	return nil
}

func (s *MemoryStore) BlockTTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.blocks[key]
	if !ok {
		return 0, nil
	}
	now := s.now()
	if !now.Before(until) {
		delete(s.blocks, key)
		return 0, nil
	}
	return until.Sub(now), nil
}
