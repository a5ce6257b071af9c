package store

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory. It exists for tests and for
// development runs without a Redis; it is not shared across instances.
// The clock is injectable so timing-sensitive limiter behavior can be tested
// deterministically.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	values  map[string]memValue
	windows map[string][]time.Time
	buckets map[string]*memBucket
}

type memValue struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

type memBucket struct {
	tokens     int
	lastRefill time.Time
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		now:     now,
		values:  make(map[string]memValue),
		windows: make(map[string][]time.Time),
		buckets: make(map[string]*memBucket),
	}
}

func (s *MemoryStore) expired(v memValue) bool {
	return !v.expiresAt.IsZero() && !s.now().Before(v.expiresAt)
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok || s.expired(v) {
		delete(s.values, key)
		return "", ErrKeyNotFound
	}
	return v.value, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = memValue{value: value, expiresAt: s.deadline(ttl)}
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.values[key]; ok && !s.expired(v) {
		return false, nil
	}
	s.values[key] = memValue{value: value, expiresAt: s.deadline(ttl)}
	return true, nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.values, key)
		delete(s.windows, key)
		delete(s.buckets, key)
	}
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return false, nil
	}
	if s.expired(v) {
		delete(s.values, key)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) IncrWithExpire(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	var n int64
	if ok && !s.expired(v) {
		n = parseInt(v.value)
	}
	n++
	s.values[key] = memValue{value: formatInt(n), expiresAt: s.deadline(ttl)}
	return n, nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok || s.expired(v) {
		return -2 * time.Second, nil
	}
	if v.expiresAt.IsZero() {
		return -1 * time.Second, nil
	}
	return v.expiresAt.Sub(s.now()), nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok || s.expired(v) {
		return nil
	}
	v.expiresAt = s.deadline(ttl)
	s.values[key] = v
	return nil
}

func (s *MemoryStore) SlidingWindow(_ context.Context, key string, limit int, window time.Duration) (LimitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-window)
	kept := s.windows[key][:0]
	for _, t := range s.windows[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) < limit {
		kept = append(kept, now)
		s.windows[key] = kept
		return LimitResult{Allowed: true, Count: len(kept), ResetAt: now.Add(window)}, nil
	}

	s.windows[key] = kept
	return LimitResult{Allowed: false, Count: len(kept), ResetAt: kept[0].Add(window)}, nil
}

func (s *MemoryStore) TokenBucket(_ context.Context, key string, capacity int, refillEvery time.Duration) (LimitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b, ok := s.buckets[key]
	if !ok {
		b = &memBucket{tokens: capacity, lastRefill: now}
		s.buckets[key] = b
	}

	if refilled := int(now.Sub(b.lastRefill) / refillEvery); refilled > 0 {
		b.tokens += refilled
		if b.tokens >= capacity {
			b.tokens = capacity
			b.lastRefill = now
		} else {
			b.lastRefill = b.lastRefill.Add(time.Duration(refilled) * refillEvery)
		}
	}

	allowed := b.tokens > 0
	if allowed {
		b.tokens--
	}
	return LimitResult{Allowed: allowed, Count: b.tokens, ResetAt: b.lastRefill.Add(refillEvery)}, nil
}

func (s *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func parseInt(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
