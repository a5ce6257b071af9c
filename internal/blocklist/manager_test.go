package blocklist

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"verification-service/internal/store"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestManager() (*Manager, *fakeClock) {
	clk := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewManager(store.NewMemoryStoreWithClock(clk.Now)), clk
}

func TestBlockExpiresByTTL(t *testing.T) {
	m, clk := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.BlockIP(ctx, "203.0.113.9", "vpn_or_proxy", time.Hour))

	blocked, err := m.IsBlocked(ctx, "203.0.113.9")
	require.NoError(t, err)
	require.True(t, blocked)

	clk.now = clk.now.Add(61 * time.Minute)

	blocked, err = m.IsBlocked(ctx, "203.0.113.9")
	require.NoError(t, err)
	require.False(t, blocked, "block must lapse once its TTL passes")
}

func TestUnknownIPNotBlocked(t *testing.T) {
	m, _ := newTestManager()

	blocked, err := m.IsBlocked(context.Background(), "198.51.100.1")
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestGetReturnsEntry(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.BlockIP(ctx, "203.0.113.9", "fake_phone_pattern", 24*time.Hour))

	entry, err := m.Get(ctx, "203.0.113.9")
	require.NoError(t, err)
	require.Equal(t, "203.0.113.9", entry.IP)
	require.Equal(t, "fake_phone_pattern", entry.Reason)
	require.False(t, entry.ExpiresAt.IsZero())
}

func TestReblockExtends(t *testing.T) {
	m, clk := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.BlockIP(ctx, "203.0.113.9", "first", time.Hour))
	clk.now = clk.now.Add(30 * time.Minute)
	require.NoError(t, m.BlockIP(ctx, "203.0.113.9", "second", time.Hour))

	// 15 minutes past the original expiry, still inside the extension.
	clk.now = clk.now.Add(45 * time.Minute)
	blocked, err := m.IsBlocked(ctx, "203.0.113.9")
	require.NoError(t, err)
	require.True(t, blocked)

	entry, err := m.Get(ctx, "203.0.113.9")
	require.NoError(t, err)
	require.Equal(t, "second", entry.Reason)
}

func TestUnblock(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.BlockIP(ctx, "203.0.113.9", "operator_test", time.Hour))
	require.NoError(t, m.Unblock(ctx, "203.0.113.9"))

	blocked, err := m.IsBlocked(ctx, "203.0.113.9")
	require.NoError(t, err)
	require.False(t, blocked)
}
