package server

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clock is a settable time source.
type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClockedLimiter(perMinute, perHour, perDay int, bytes int64) (*RateLimiter, *clock) {
	c := &clock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(perMinute, perHour, perDay, bytes)
	rl.now = c.now
	return rl, c
}

func TestRateLimiter_NoLimits(t *testing.T) {
	rl, _ := newClockedLimiter(0, 0, 0, 0)
	for i := 0; i < 100; i++ {
		require.NoError(t, rl.CheckRateLimit("a", 1<<20))
	}
	requests, bytes := rl.Usage("a")
	assert.Equal(t, 100, requests)
	assert.Equal(t, int64(100<<20), bytes)
}

func TestRateLimiter_PerMinute(t *testing.T) {
	rl, c := newClockedLimiter(3, 0, 0, 0)
	for i := 0; i < 3; i++ {
		require.NoError(t, rl.CheckRateLimit("a", 0))
	}
	c.advance(20 * time.Second)
	err := rl.CheckRateLimit("a", 0)
	var rlErr *RateLimitError
	require.True(t, errors.As(err, &rlErr))
	assert.Equal(t, "minute", rlErr.Window)
	assert.Equal(t, 40*time.Second, rlErr.RetryAfter)

	c.advance(40 * time.Second)
	assert.NoError(t, rl.CheckRateLimit("a", 0), "window rolls over")
}

func TestRateLimiter_PerHour(t *testing.T) {
	rl, c := newClockedLimiter(0, 2, 0, 0)
	require.NoError(t, rl.CheckRateLimit("a", 0))
	c.advance(10 * time.Minute)
	require.NoError(t, rl.CheckRateLimit("a", 0))

	var rlErr *RateLimitError
	require.ErrorAs(t, rl.CheckRateLimit("a", 0), &rlErr)
	assert.Equal(t, "hour", rlErr.Window)
	assert.Equal(t, 50*time.Minute, rlErr.RetryAfter)
}

func TestRateLimiter_DailyQuotas(t *testing.T) {
	rl, c := newClockedLimiter(0, 0, 2, 0)
	require.NoError(t, rl.CheckRateLimit("a", 0))
	require.NoError(t, rl.CheckRateLimit("a", 0))

	var qErr *QuotaExceededError
	require.ErrorAs(t, rl.CheckRateLimit("a", 0), &qErr)
	assert.Equal(t, "requests", qErr.Kind)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), qErr.Resets)

	c.advance(12 * time.Hour)
	assert.NoError(t, rl.CheckRateLimit("a", 0), "quota resets at midnight")

	bytes, _ := newClockedLimiter(0, 0, 0, 100)
	require.NoError(t, bytes.CheckRateLimit("b", 60))
	require.ErrorAs(t, bytes.CheckRateLimit("b", 60), &qErr)
	assert.Equal(t, "bytes", qErr.Kind)
	assert.Equal(t, int64(60), qErr.Used)
}

func TestRateLimiter_ClientsAreIndependent(t *testing.T) {
	rl, _ := newClockedLimiter(1, 0, 0, 0)
	require.NoError(t, rl.CheckRateLimit("a", 0))
	require.NoError(t, rl.CheckRateLimit("b", 0))
	assert.Error(t, rl.CheckRateLimit("a", 0))

	requests, bytes := rl.Usage("unknown")
	assert.Zero(t, requests)
	assert.Zero(t, bytes)
}

func TestRateLimitErrors_Error(t *testing.T) {
	err := &RateLimitError{Window: "minute", Limit: 10, RetryAfter: 1500 * time.Millisecond}
	assert.Equal(t, "rate limit exceeded: 10 requests per minute (retry after 2s)", err.Error())

	q := &QuotaExceededError{Kind: "bytes", Limit: 10, Used: 8, Resets: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, "daily bytes quota exceeded (used 8 of 10, resets 2026-01-02T00:00:00Z)", q.Error())
}
