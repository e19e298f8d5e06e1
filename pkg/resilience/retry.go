package resilience

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig configures exponential-backoff retry.
type RetryConfig struct {
	MaxAttempts int           // total attempts, including the first (default 3)
	BaseDelay   time.Duration // delay before attempt 2 (default 1s)
	MaxDelay    time.Duration // cap on any single delay (default 30s)
}

// DefaultRetryConfig returns the standard defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	return c
}

// Backoff returns the delay that precedes attempt n (1-indexed; attempt 1
// has no delay): min(base · 2^(n-2), max).
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := c.BaseDelay << (attempt - 2)
	if delay > c.MaxDelay || delay <= 0 {
		return c.MaxDelay
	}
	return delay
}

// Retry runs fn up to MaxAttempts times with exponential backoff between
// attempts. The last attempt's error is returned unwrapped with attempt
// context so callers can still errors.Is/As against the original.
func Retry(ctx context.Context, config RetryConfig, fn func(ctx context.Context) error) error {
	_, err := RetryWithResult(ctx, config, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithResult is Retry for value-returning functions.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	config = config.normalized()

	var zero T
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if delay := config.Backoff(attempt); delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// Cancelled contexts and open circuits will not improve with
		// another attempt.
		if ctx.Err() != nil {
			break
		}
	}
	return zero, fmt.Errorf("after %d attempts: %w", config.MaxAttempts, lastErr)
}
