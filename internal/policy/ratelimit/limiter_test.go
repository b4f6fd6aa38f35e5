package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock advances virtual time on Sleep and records every requested wait.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	// onSleep runs once, before the next Sleep advances time.
	onSleep func()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0).UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	hook := c.onSleep
	c.onSleep = nil
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func grants(t *testing.T, l *Limiter, clk *fakeClock, origin string, n int) []time.Time {
	t.Helper()
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		require.NoError(t, l.Acquire(context.Background(), origin))
		out = append(out, clk.Now())
	}
	return out
}

func requireSpacing(t *testing.T, times []time.Time, minGap time.Duration) {
	t.Helper()
	for i := 1; i < len(times); i++ {
		require.GreaterOrEqual(t, times[i].Sub(times[i-1]), minGap, "grant %d", i)
	}
}

func TestAcquireSpacesGrants(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	l := New(Config{DefaultDelay: time.Second}, WithClock(clk))

	times := grants(t, l, clk, "https://a.test", 5)
	requireSpacing(t, times, time.Second)
	require.Equal(t, 4*time.Second, times[4].Sub(times[0]))
}

func TestCrawlDelayTakesPrecedence(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	l := New(Config{DefaultDelay: time.Second}, WithClock(clk))

	l.SetCrawlDelay("https://slow.test", 3*time.Second)
	requireSpacing(t, grants(t, l, clk, "https://slow.test", 3), 3*time.Second)

	l.SetCrawlDelay("https://fast.test", 200*time.Millisecond)
	require.Equal(t, 200*time.Millisecond, l.Delay("https://fast.test"))
	require.Equal(t, time.Second, l.Delay("https://other.test"))
}

func TestAdaptiveDelayGrowsAndDecays(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	l := New(Config{
		DefaultDelay:  time.Second,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2,
		DecayFactor:   0.5,
		DecayAfter:    3,
	}, WithClock(clk))
	origin := "https://flaky.test"

	l.RecordOutcome(origin, 503, 0)
	require.Equal(t, 2*time.Second, l.Delay(origin))
	l.RecordOutcome(origin, 502, 0)
	require.Equal(t, 4*time.Second, l.Delay(origin))
	l.RecordOutcome(origin, 500, 0)
	require.Equal(t, 5*time.Second, l.Delay(origin), "capped at MaxDelay")

	l.RecordOutcome(origin, 200, 0)
	l.RecordOutcome(origin, 200, 0)
	require.Equal(t, 5*time.Second, l.Delay(origin), "decay waits for a streak")
	l.RecordOutcome(origin, 304, 0)
	require.Equal(t, 2500*time.Millisecond, l.Delay(origin))

	for i := 0; i < 3; i++ {
		l.RecordOutcome(origin, 200, 0)
	}
	require.Equal(t, 1250*time.Millisecond, l.Delay(origin))
	for i := 0; i < 3; i++ {
		l.RecordOutcome(origin, 200, 0)
	}
	require.Equal(t, time.Second, l.Delay(origin), "decays back to the default delay")

	l.RecordOutcome(origin, 404, 0)
	l.RecordOutcome(origin, 0, 0)
	require.Equal(t, time.Second, l.Delay(origin))
}

func TestRetryAfterSetsNextGrant(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	l := New(Config{DefaultDelay: 100 * time.Millisecond, RetryAfterCap: 10 * time.Second}, WithClock(clk))
	origin := "https://slow.test"

	require.NoError(t, l.Acquire(context.Background(), origin))
	start := clk.Now()
	l.RecordOutcome(origin, 429, 2*time.Second)
	require.NoError(t, l.Acquire(context.Background(), origin))
	require.GreaterOrEqual(t, clk.Now().Sub(start), 2*time.Second)

	capped := "https://capped.test"
	start = clk.Now()
	l.RecordOutcome(capped, 429, time.Hour)
	require.NoError(t, l.Acquire(context.Background(), capped))
	require.Equal(t, 10*time.Second, clk.Now().Sub(start))
}

func TestRetryAfterRecordedDuringWaitDelaysQueuedCaller(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	l := New(Config{DefaultDelay: 100 * time.Millisecond, RetryAfterCap: 10 * time.Second}, WithClock(clk))
	origin := "https://slow.test"

	start := clk.Now()
	require.NoError(t, l.Acquire(context.Background(), origin))
	clk.mu.Lock()
	clk.onSleep = func() { l.RecordOutcome(origin, 429, 2*time.Second) }
	clk.mu.Unlock()

	require.NoError(t, l.Acquire(context.Background(), origin))
	require.GreaterOrEqual(t, clk.Now().Sub(start), 2*time.Second)

	// The slot after the regranted caller keeps the normal spacing.
	granted := clk.Now()
	require.NoError(t, l.Acquire(context.Background(), origin))
	require.GreaterOrEqual(t, clk.Now().Sub(granted), 100*time.Millisecond)
}

func TestRetryAfterBelowAdaptiveUsesAdaptive(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	l := New(Config{DefaultDelay: 3 * time.Second, BackoffFactor: 2}, WithClock(clk))
	origin := "https://busy.test"

	start := clk.Now()
	l.RecordOutcome(origin, 429, time.Second)
	require.NoError(t, l.Acquire(context.Background(), origin))
	require.Equal(t, 6*time.Second, clk.Now().Sub(start))
}

func TestDistinctOriginsDoNotBlockEachOther(t *testing.T) {
	t.Parallel()
	l := New(Config{DefaultDelay: 10 * time.Millisecond})
	l.RecordOutcome("https://slow.test", 429, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	blocked := make(chan error, 1)
	go func() {
		blocked <- l.Acquire(ctx, "https://slow.test")
	}()

	start := time.Now()
	require.NoError(t, l.Acquire(context.Background(), "https://other.test"))
	require.Less(t, time.Since(start), 500*time.Millisecond)

	select {
	case err := <-blocked:
		t.Fatalf("slow origin granted early: %v", err)
	default:
	}
	cancel()
	err := <-blocked
	require.True(t, errors.Is(err, context.Canceled))
}

func TestTokenBucketCapsRate(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	l := New(Config{RequestsPerSecond: 2, Burst: 1}, WithClock(clk))

	times := grants(t, l, clk, "https://bucket.test", 3)
	requireSpacing(t, times, 500*time.Millisecond)
}

func TestCanceledAcquireReturnsSlot(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	l := New(Config{DefaultDelay: time.Second}, WithClock(clk))
	origin := "https://a.test"

	require.NoError(t, l.Acquire(context.Background(), origin))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, l.Acquire(ctx, origin))

	start := clk.Now()
	require.NoError(t, l.Acquire(context.Background(), origin))
	require.Equal(t, time.Second, clk.Now().Sub(start))
}

func TestSnapshotRestore(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	l := New(Config{DefaultDelay: time.Second}, WithClock(clk))
	l.SetCrawlDelay("https://b.test", 2*time.Second)
	l.RecordOutcome("https://a.test", 503, 0)

	snap := l.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, "https://a.test", snap[0].Origin)

	restored := New(Config{DefaultDelay: time.Second}, WithClock(clk))
	restored.Restore(snap)
	require.Equal(t, l.Delay("https://a.test"), restored.Delay("https://a.test"))
	require.Equal(t, 2*time.Second, restored.Delay("https://b.test"))
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	require.Equal(t, 2*time.Second, ParseRetryAfter("2", now))
	require.Equal(t, time.Duration(0), ParseRetryAfter("-5", now))
	require.Equal(t, time.Duration(0), ParseRetryAfter("soon", now))
	require.Equal(t, 30*time.Second, ParseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
	require.Equal(t, time.Duration(0), ParseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
	require.Equal(t, maxRetryAfter, ParseRetryAfter("99999999999999999", now))
	require.Equal(t, maxRetryAfter, ParseRetryAfter("9223372036", now))
}
