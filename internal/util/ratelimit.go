package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a token-bucket rate limiter that replenishes tokens
// at a fixed rate up to a burst capacity. Adapters expose the remaining
// token count so the provider pool can skip throttled providers instead of
// blocking on them.
type RateLimiter struct {
	rate     float64 // tokens per second
	capacity float64
	tokens   float64
	lastTime time.Time
	mu       sync.Mutex
}

// NewRateLimiter creates a RateLimiter that allows perMinute operations per
// minute with a burst capacity of burst tokens.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rate:     float64(perMinute) / 60.0,
		capacity: float64(burst),
		tokens:   float64(burst),
		lastTime: time.Now(),
	}
}

// replenish adds tokens accrued since the last call. Caller must hold mu.
func (rl *RateLimiter) replenish() {
	now := time.Now()
	elapsed := now.Sub(rl.lastTime).Seconds()
	rl.tokens += elapsed * rl.rate
	if rl.tokens > rl.capacity {
		rl.tokens = rl.capacity
	}
	rl.lastTime = now
}

// TryTake consumes one token if available and returns whether it succeeded.
func (rl *RateLimiter) TryTake() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.replenish()
	if rl.tokens >= 1 {
		rl.tokens -= 1
		return true
	}
	return false
}

// Remaining returns the number of whole tokens currently available.
func (rl *RateLimiter) Remaining() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.replenish()
	return int(rl.tokens)
}

// Throttled reports whether no token is currently available.
func (rl *RateLimiter) Throttled() bool {
	return rl.Remaining() < 1
}

// Wait blocks until a rate-limit token is available or the context is
// cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		if rl.TryTake() {
			return nil
		}

		// Wait a short interval before checking again.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}
