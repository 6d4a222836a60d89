package chat

import (
	"sync"
	"time"
)

// messageLimiter is a sliding-window rate limit for one connection's inbound
// frames. Over-limit frames are dropped by the read pump; the connection
// itself stays up.
type messageLimiter struct {
	mu       sync.Mutex
	history  []time.Time
	limit    int
	interval time.Duration
}

func newMessageLimiter(limit int, interval time.Duration) *messageLimiter {
	return &messageLimiter{
		limit:    limit,
		interval: interval,
	}
}

func (rl *messageLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.limit <= 0 {
		return true
	}

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	fresh := rl.history[:0]
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
