package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store. It backs single-instance deployments
// that run without Redis (limits then apply per instance, not globally) and
// the test suite. All operations share one mutex, which gives the same
// atomicity the Redis scripts provide.
type MemoryStore struct {
	mu   sync.Mutex
	now  func() time.Time
	vals map[string]*memEntry
	sets map[string]map[string]struct{}
}

type memEntry struct {
	n         int64
	expiresAt time.Time // zero = no expiry
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

type MemoryOption func(*MemoryStore)

// WithClock overrides the time source, used by tests to step through TTLs.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		now:  time.Now,
		vals: make(map[string]*memEntry),
		sets: make(map[string]map[string]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// live returns the entry for key, dropping it first if its TTL has lapsed.
// Caller must hold mu.
func (s *MemoryStore) live(key string) *memEntry {
	e, ok := s.vals[key]
	if !ok {
		return nil
	}
	if e.expired(s.now()) {
		delete(s.vals, key)
		return nil
	}
	return e
}

func (s *MemoryStore) remaining(e *memEntry) time.Duration {
	if e.expiresAt.IsZero() {
		return NoExpiry
	}
	return e.expiresAt.Sub(s.now())
}

func (s *MemoryStore) IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		e = &memEntry{expiresAt: s.now().Add(ttl)}
		s.vals[key] = e
	}
	e.n++
	return e.n, s.remaining(e), nil
}

func (s *MemoryStore) IncrRearm(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		e = &memEntry{}
		s.vals[key] = e
	}
	e.n++
	e.expiresAt = s.now().Add(ttl)
	return e.n, nil
}

func (s *MemoryStore) GetCount(ctx context.Context, key string) (int64, time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return 0, 0, false, nil
	}
	return e.n, s.remaining(e), true, nil
}

func (s *MemoryStore) SetFlag(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &memEntry{n: 1}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.vals[key] = e
	return nil
}

func (s *MemoryStore) FlagTTL(ctx context.Context, key string) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return 0, false, nil
	}
	return s.remaining(e), true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vals, key)
	return nil
}

func (s *MemoryStore) IndexAdd(ctx context.Context, index, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[index]
	if !ok {
		set = make(map[string]struct{})
		s.sets[index] = set
	}
	set[member] = struct{}{}
	return nil
}

func (s *MemoryStore) IndexRemove(ctx context.Context, index, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set, ok := s.sets[index]; ok {
		delete(set, member)
	}
	return nil
}

func (s *MemoryStore) IndexMembers(ctx context.Context, index string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.sets[index]
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }
