package signal

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window counter for chatty frame types on a
// single connection.
type RateLimiter struct {
	mu       sync.Mutex
	history  []time.Time
	limit    int
	interval time.Duration
}

func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	return &RateLimiter{limit: limit, interval: interval}
}

func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	fresh := make([]time.Time, 0, len(rl.history))
	for _, t := range rl.history {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history = fresh
		return false
	}
	rl.history = append(fresh, now)
	return true
}
