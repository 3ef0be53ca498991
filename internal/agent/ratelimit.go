package agent

import (
	"context"
	"sync"
	"time"
)

// Fallbacks for provider entries that set a rate limit but leave the burst
// (or the rate itself) unset.
const (
	defaultBurst     = 10
	defaultPerMinute = 30
)

// RateLimiter is a token bucket gating model rounds. One token is spent per
// provider call; the bucket refills continuously at the configured rate.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	burst    float64
	perSec   float64
	refilled time.Time
}

// NewRateLimiter builds a limiter allowing ratePerMinute sustained calls
// with bursts up to maxBurst.
func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = defaultBurst
	}
	if ratePerMinute <= 0 {
		ratePerMinute = defaultPerMinute
	}
	return &RateLimiter{
		tokens:   float64(maxBurst),
		burst:    float64(maxBurst),
		perSec:   ratePerMinute / 60.0,
		refilled: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		delay, ok := rl.reserve()
		if ok {
			return nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve refills the bucket, then either takes a token or reports how long
// until one becomes available.
func (rl *RateLimiter) reserve() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.tokens += now.Sub(rl.refilled).Seconds() * rl.perSec
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.refilled = now

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return 0, true
	}
	wait := time.Duration((1.0 - rl.tokens) / rl.perSec * float64(time.Second))
	return wait, false
}
