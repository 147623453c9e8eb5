// Package ratelimit implements the client-side token bucket that paces
// outbound chat messages under the platform send limits.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// minWait keeps the retry loop from spinning when the deficit is tiny.
const minWait = 10 * time.Millisecond

// TokenBucket allows bursts up to capacity and a sustained rate of
// capacity/window tokens per second.
type TokenBucket struct {
	capacity float64
	window   time.Duration

	mu        sync.Mutex
	tokens    float64
	updatedAt time.Time
}

// NewTokenBucket builds a full bucket. Capacity and window are clamped to a
// minimum of 1.
func NewTokenBucket(capacity, windowSec int) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	if windowSec < 1 {
		windowSec = 1
	}
	return &TokenBucket{
		capacity:  float64(capacity),
		window:    time.Duration(windowSec) * time.Second,
		tokens:    float64(capacity),
		updatedAt: time.Now(),
	}
}

// Acquire blocks until amount tokens are available or ctx is done. Ordering
// between concurrent waiters is not guaranteed.
func (b *TokenBucket) Acquire(ctx context.Context, amount float64) error {
	for {
		b.mu.Lock()
		b.refill(time.Now())
		if b.tokens >= amount {
			b.tokens -= amount
			b.mu.Unlock()
			return nil
		}
		need := amount - b.tokens
		wait := time.Duration(need / b.rate() * float64(time.Second))
		b.mu.Unlock()

		if wait < minWait {
			wait = minWait
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// refill adds tokens for the time elapsed since the last update, capped at
// capacity. Callers hold the mutex.
func (b *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.updatedAt).Seconds()
	b.updatedAt = now
	b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.rate())
}

func (b *TokenBucket) rate() float64 {
	return b.capacity / b.window.Seconds()
}
