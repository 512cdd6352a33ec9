package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter tracks upload requests and bytes per client.
type RateLimiter struct {
	mu sync.Mutex

	perMinute  int
	perHour    int
	perDay     int
	bytesDaily int64

	clients map[string]*clientUsage
	now     func() time.Time
}

// clientUsage holds fixed-window counters for one client.
type clientUsage struct {
	minuteStart time.Time
	minute      int
	hourStart   time.Time
	hour        int
	day         time.Time
	requests    int
	bytes       int64
}

// NewRateLimiter creates a limiter. Zero disables the matching limit.
func NewRateLimiter(requestsPerMinute, requestsPerHour, maxRequestsPerDay int, maxDataPerDay int64) *RateLimiter {
	return &RateLimiter{
		perMinute:  requestsPerMinute,
		perHour:    requestsPerHour,
		perDay:     maxRequestsPerDay,
		bytesDaily: maxDataPerDay,
		clients:    make(map[string]*clientUsage),
		now:        time.Now,
	}
}

// CheckRateLimit records a request of size bytes from client, or returns a
// *RateLimitError or *QuotaExceededError when it is not allowed.
func (rl *RateLimiter) CheckRateLimit(client string, size int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	u, ok := rl.clients[client]
	if !ok {
		u = &clientUsage{minuteStart: now, hourStart: now, day: startOfDay(now)}
		rl.clients[client] = u
	}
	u.roll(now)

	if rl.perMinute > 0 && u.minute >= rl.perMinute {
		return &RateLimitError{Window: "minute", Limit: rl.perMinute, RetryAfter: u.minuteStart.Add(time.Minute).Sub(now)}
	}
	if rl.perHour > 0 && u.hour >= rl.perHour {
		return &RateLimitError{Window: "hour", Limit: rl.perHour, RetryAfter: u.hourStart.Add(time.Hour).Sub(now)}
	}
	resets := u.day.AddDate(0, 0, 1)
	if rl.perDay > 0 && u.requests >= rl.perDay {
		return &QuotaExceededError{Kind: "requests", Limit: int64(rl.perDay), Used: int64(u.requests), Resets: resets}
	}
	if rl.bytesDaily > 0 && u.bytes+size > rl.bytesDaily {
		return &QuotaExceededError{Kind: "bytes", Limit: rl.bytesDaily, Used: u.bytes, Resets: resets}
	}

	u.minute++
	u.hour++
	u.requests++
	u.bytes += size
	return nil
}

// Usage returns the requests and bytes counted for client today.
func (rl *RateLimiter) Usage(client string) (requests int, bytes int64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if u, ok := rl.clients[client]; ok {
		return u.requests, u.bytes
	}
	return 0, 0
}

func (u *clientUsage) roll(now time.Time) {
	if now.Sub(u.minuteStart) >= time.Minute {
		u.minuteStart, u.minute = now, 0
	}
	if now.Sub(u.hourStart) >= time.Hour {
		u.hourStart, u.hour = now, 0
	}
	if day := startOfDay(now); !day.Equal(u.day) {
		u.day, u.requests, u.bytes = day, 0, 0
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// RateLimitError reports a request over the per-minute or per-hour limit.
type RateLimitError struct {
	Window     string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d requests per %s (retry after %s)", e.Limit, e.Window, e.RetryAfter.Round(time.Second))
}

// QuotaExceededError reports a request over a daily quota.
type QuotaExceededError struct {
	Kind   string
	Limit  int64
	Used   int64
	Resets time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily %s quota exceeded (used %d of %d, resets %s)",
		e.Kind, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
