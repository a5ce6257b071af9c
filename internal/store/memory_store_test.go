package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestSlidingWindowAllowsUpToLimit(t *testing.T) {
	clk := newFakeClock()
	s := NewMemoryStoreWithClock(clk.Now)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := s.SlidingWindow(ctx, "sw", 3, time.Hour)
		require.NoError(t, err)
		require.True(t, res.Allowed, "request %d should be allowed", i)
		require.Equal(t, i, res.Count)
	}

	res, err := s.SlidingWindow(ctx, "sw", 3, time.Hour)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, 3, res.Count)
}

func TestSlidingWindowSlides(t *testing.T) {
	clk := newFakeClock()
	s := NewMemoryStoreWithClock(clk.Now)
	ctx := context.Background()

	res, err := s.SlidingWindow(ctx, "sw", 2, 10*time.Minute)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	clk.Advance(5 * time.Minute)
	res, err = s.SlidingWindow(ctx, "sw", 2, 10*time.Minute)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	clk.Advance(time.Minute)
	res, err = s.SlidingWindow(ctx, "sw", 2, 10*time.Minute)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	// The first event leaves the trailing window; one slot opens up.
	clk.Advance(4*time.Minute + time.Second)
	res, err = s.SlidingWindow(ctx, "sw", 2, 10*time.Minute)
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestTokenBucketDrainAndRefill(t *testing.T) {
	clk := newFakeClock()
	s := NewMemoryStoreWithClock(clk.Now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := s.TokenBucket(ctx, "tb", 3, 10*time.Second)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	res, err := s.TokenBucket(ctx, "tb", 3, 10*time.Second)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	clk.Advance(10 * time.Second)
	res, err = s.TokenBucket(ctx, "tb", 3, 10*time.Second)
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestTokenBucketRefillKeepsRemainder(t *testing.T) {
	clk := newFakeClock()
	s := NewMemoryStoreWithClock(clk.Now)
	ctx := context.Background()

	// Drain the bucket.
	for i := 0; i < 3; i++ {
		_, err := s.TokenBucket(ctx, "tb", 3, 10*time.Second)
		require.NoError(t, err)
	}

	// 15s buys exactly one token; the odd 5s must carry over.
	clk.Advance(15 * time.Second)
	res, err := s.TokenBucket(ctx, "tb", 3, 10*time.Second)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = s.TokenBucket(ctx, "tb", 3, 10*time.Second)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	// 5s more completes the second interval started at +10s.
	clk.Advance(5 * time.Second)
	res, err = s.TokenBucket(ctx, "tb", 3, 10*time.Second)
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestTokenBucketCapsAtCapacity(t *testing.T) {
	clk := newFakeClock()
	s := NewMemoryStoreWithClock(clk.Now)
	ctx := context.Background()

	_, err := s.TokenBucket(ctx, "tb", 2, time.Second)
	require.NoError(t, err)

	clk.Advance(time.Hour)
	res, err := s.TokenBucket(ctx, "tb", 2, time.Second)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, 1, res.Count, "bucket must not refill past capacity")
}

func TestSetGetExpiry(t *testing.T) {
	clk := newFakeClock()
	s := NewMemoryStoreWithClock(clk.Now)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", got)

	clk.Advance(2 * time.Minute)
	_, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestSetNX(t *testing.T) {
	clk := newFakeClock()
	s := NewMemoryStoreWithClock(clk.Now)
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "k", "first", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.SetNX(ctx, "k", "second", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	clk.Advance(2 * time.Minute)
	ok, err = s.SetNX(ctx, "k", "third", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestIncrWithExpire(t *testing.T) {
	clk := newFakeClock()
	s := NewMemoryStoreWithClock(clk.Now)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := s.IncrWithExpire(ctx, "counter", time.Hour)
		require.NoError(t, err)
		require.Equal(t, want, n)
	}

	clk.Advance(2 * time.Hour)
	n, err := s.IncrWithExpire(ctx, "counter", time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), n, "expired counter restarts")
}
