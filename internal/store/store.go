package store

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by Get when a key is absent or expired.
var ErrKeyNotFound = errors.New("key not found")

// LimitResult is the outcome of an atomic limiter primitive.
type LimitResult struct {
	Allowed bool
	// Count is the number of events inside the active window for sliding
	// windows, or the remaining tokens for token buckets.
	Count   int
	ResetAt time.Time
}

// Store is the TTL-capable key-space every gate component runs on. All
// operations must be atomic with respect to concurrent callers for the same
// key; the two limiter primitives are single round-trip check-and-increment
// operations.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// SlidingWindow admits the event iff fewer than limit events occurred in
	// the trailing window, recording it when admitted.
	SlidingWindow(ctx context.Context, key string, limit int, window time.Duration) (LimitResult, error)

	// TokenBucket takes one token when available. The bucket starts full at
	// capacity and refills one token per refillEvery, capped at capacity.
	TokenBucket(ctx context.Context, key string, capacity int, refillEvery time.Duration) (LimitResult, error)
}
