package store

import (
	"context"
	"sync"
	"time"
)

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

type entry struct {
	fields    map[string]string
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

type MemoryStore struct {
	entries       map[string]*entry
	mu            sync.RWMutex
	now           func() time.Time
	cleanupCancel context.CancelFunc
}

type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, letting tests move past a TTL without waiting.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore starts a background sweep every cleanupInterval. A
// non-positive interval disables the sweep; expired keys are still hidden on
// read.
func NewMemoryStore(cleanupInterval time.Duration, opts ...MemoryOption) *MemoryStore {
	store := &MemoryStore{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	if cleanupInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		store.cleanupCancel = cancel
		go store.cleanupLoop(ctx, cleanupInterval)
	}
	return store
}

// SetFields merges fields into the hash at key, creating it if needed. Like
// Redis HSET, it leaves an existing expiry in place.
func (s *MemoryStore) SetFields(ctx context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(s.now()) {
		e = &entry{fields: make(map[string]string, len(fields))}
		s.entries[key] = e
	}
	for k, v := range fields {
		e.fields[k] = v
	}
	return nil
}

// Expire is a no-op for absent keys, matching Redis EXPIRE.
func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok || e.expired(now) {
		return nil
	}
	e.expiresAt = now.Add(ttl)
	return nil
}

func (s *MemoryStore) GetAll(ctx context.Context, key string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string)
	e, ok := s.entries[key]
	if !ok || e.expired(s.now()) {
		return out, nil
	}
	for k, v := range e.fields {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	delete(s.entries, key)
	return !e.expired(s.now()), nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) Close() error {
	if s.cleanupCancel != nil {
		s.cleanupCancel()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*entry)
	return nil
}

// Len counts live keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	n := 0
	for _, e := range s.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

func (s *MemoryStore) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
		}
	}
}
