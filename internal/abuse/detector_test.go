package abuse

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"verification-service/internal/models"
	"verification-service/internal/store"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type recordingBlocker struct {
	mu       sync.Mutex
	ip       string
	reason   string
	duration time.Duration
	calls    int
}

func (b *recordingBlocker) BlockIP(_ context.Context, ip, reason string, duration time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ip = ip
	b.reason = reason
	b.duration = duration
	b.calls++
	return nil
}

type recordingActivity struct {
	records []models.SuspiciousActivityRecord
}

func (a *recordingActivity) InsertSuspiciousActivity(_ context.Context, rec models.SuspiciousActivityRecord) error {
	a.records = append(a.records, rec)
	return nil
}

func TestSuspiciousPhonePatterns(t *testing.T) {
	clk := newFakeClock()
	d := NewDetector(store.NewMemoryStoreWithClock(clk.Now), nil, nil, nil, nil, nil, "")
	ctx := context.Background()

	suspicious := []string{
		"+15555555555", // repeated digit
		"+12345678901", // ascending run in the trailing ten
		"+19876543210", // descending run
		"+13120000000", // all-zero subscriber
	}
	for _, p := range suspicious {
		got, err := d.IsSuspiciousPhone(ctx, p)
		require.NoError(t, err)
		require.True(t, got, "phone %s should be flagged", p)
	}

	clean := []string{"+12125550187", "+442079460958", "+13105550199"}
	for _, p := range clean {
		got, err := d.IsSuspiciousPhone(ctx, p)
		require.NoError(t, err)
		require.False(t, got, "phone %s should pass", p)
	}
}

func TestFlaggedPhoneLookup(t *testing.T) {
	clk := newFakeClock()
	d := NewDetector(store.NewMemoryStoreWithClock(clk.Now), nil, nil, nil, nil, nil, "")
	ctx := context.Background()

	got, err := d.IsSuspiciousPhone(ctx, "+12125550187")
	require.NoError(t, err)
	require.False(t, got)

	require.NoError(t, d.FlagPhone(ctx, "+12125550187", time.Hour))

	got, err = d.IsSuspiciousPhone(ctx, "+12125550187")
	require.NoError(t, err)
	require.True(t, got)

	// The flag lapses with its TTL.
	clk.Advance(2 * time.Hour)
	got, err = d.IsSuspiciousPhone(ctx, "+12125550187")
	require.NoError(t, err)
	require.False(t, got)
}

func TestPrivateRangeReputation(t *testing.T) {
	rep := PrivateRangeReputation{}
	ctx := context.Background()

	for _, ip := range []string{"192.168.1.10", "10.0.0.5", "127.0.0.1", "::1"} {
		got, err := rep.IsVPNOrProxy(ctx, ip)
		require.NoError(t, err)
		require.True(t, got, "ip %s", ip)
	}

	for _, ip := range []string{"203.0.113.7", "8.8.8.8"} {
		got, err := rep.IsVPNOrProxy(ctx, ip)
		require.NoError(t, err)
		require.False(t, got, "ip %s", ip)
	}

	_, err := rep.IsVPNOrProxy(ctx, "not-an-ip")
	require.Error(t, err)
}

func TestRapidRepeat(t *testing.T) {
	clk := newFakeClock()
	recent := NewRecentAttemptsWithClock(clk.Now)
	d := NewDetector(store.NewMemoryStoreWithClock(clk.Now), nil, nil, nil, nil, recent, "")

	require.False(t, d.IsRapidRepeat("+12125550187"), "first attempt is never a repeat")
	require.True(t, d.IsRapidRepeat("+12125550187"), "immediate retry is")
	require.False(t, d.IsRapidRepeat("+13105550199"), "other phones are independent")

	clk.Advance(31 * time.Second)
	require.False(t, d.IsRapidRepeat("+12125550187"), "outside the threshold again")
}

func TestRecentAttemptsPrune(t *testing.T) {
	clk := newFakeClock()
	recent := NewRecentAttemptsWithClock(clk.Now)

	recent.TooSoon("+12125550187")
	clk.Advance(30 * time.Minute)
	recent.TooSoon("+13105550199")
	require.Equal(t, 2, recent.Len())

	// Only the first entry has aged out.
	clk.Advance(45 * time.Minute)
	recent.Prune(clk.Now())
	require.Equal(t, 1, recent.Len())
}

func TestDailyCounterAutoBlocks(t *testing.T) {
	clk := newFakeClock()
	blocker := &recordingBlocker{}
	activity := &recordingActivity{}
	d := NewDetector(store.NewMemoryStoreWithClock(clk.Now), nil, blocker, activity, nil, nil, "")
	ctx := context.Background()

	// Five signals stay under the threshold.
	for i := 0; i < 5; i++ {
		d.LogSuspiciousActivity(ctx, "203.0.113.9", "+15555555555", ReasonFakePhone)
	}
	require.Equal(t, 0, blocker.calls)
	require.Len(t, activity.records, 5)

	// The sixth crosses it.
	d.LogSuspiciousActivity(ctx, "203.0.113.9", "+15555555555", ReasonFakePhone)
	require.Equal(t, 1, blocker.calls)
	require.Equal(t, "203.0.113.9", blocker.ip)
	require.Equal(t, "repeated_suspicious_activity", blocker.reason)
	require.Equal(t, 7*24*time.Hour, blocker.duration)

	require.Equal(t, ReasonFakePhone, activity.records[0].Reason)
	require.Equal(t, "+15555555555", activity.records[0].Phone)
}
