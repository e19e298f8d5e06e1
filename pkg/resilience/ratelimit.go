package resilience

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter is a token-bucket rate limiter: a bucket of capacity tokens
// refilled continuously at refillPerSec. Each call to Wait removes one
// token, blocking until one is available.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter creates a limiter with the given bucket capacity and refill
// rate (tokens per second). Non-positive values are coerced to 1.
func NewLimiter(capacity int, refillPerSec float64) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	if refillPerSec <= 0 {
		refillPerSec = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(refillPerSec), capacity)}
}

// Wait blocks until a token is available or the context is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Allow reports whether a token is immediately available, consuming it if so.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}
