// Package resilience provides the failure-handling primitives shared by the
// outbound service clients: circuit breaker, retry with exponential backoff,
// token-bucket rate limiting, and a bounded TTL'd LRU cache.
//
// Clients compose them in a fixed order on every call:
// retry → circuit breaker → rate limiter → HTTP. Cache lookups short-circuit
// the whole chain on a hit.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the current state of a circuit breaker.
type BreakerState int

// Circuit breaker states.
const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without invoking the protected call while the
// breaker is open. Callers can use errors.Is to distinguish an unavailable
// upstream from a failed one.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening (default 3)
	SuccessThreshold int           // half-open successes before closing (default 3)
	ResetTimeout     time.Duration // open to half-open probe delay (default 30s)

	OnOpen, OnClose func(name string)
	OnHalfOpen      func(name string)
}

// DefaultBreakerConfig returns the standard defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 3,
		ResetTimeout:     30 * time.Second,
	}
}

// CircuitBreaker guards an upstream with the classic three-state pattern.
// All state is held under an internal mutex; instances are safe for
// concurrent use.
type CircuitBreaker struct {
	name   string
	config BreakerConfig
	logger *slog.Logger

	mu           sync.Mutex
	state        BreakerState
	failureCount int
	successCount int
	nextAttempt  time.Time
	now          func() time.Time
}

// NewCircuitBreaker creates a breaker. Zero config fields fall back to the
// defaults.
func NewCircuitBreaker(name string, config BreakerConfig) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = def.ResetTimeout
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
		state:  BreakerClosed,
		now:    time.Now,
	}
}

// Execute runs fn under breaker protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

// ExecuteFunc runs a value-returning fn under breaker protection.
func ExecuteFunc[T any](cb *CircuitBreaker, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.allow(); err != nil {
		return zero, err
	}
	result, err := fn(ctx)
	cb.record(err)
	return result, err
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed, BreakerHalfOpen:
		return nil
	case BreakerOpen:
		if cb.now().Before(cb.nextAttempt) {
			return fmt.Errorf("%w: %s unavailable, retry after %s",
				ErrCircuitOpen, cb.name, cb.nextAttempt.Sub(cb.now()).Round(time.Millisecond))
		}
		// Reset timeout elapsed; let one probe through.
		cb.setState(BreakerHalfOpen)
		cb.successCount = 0
		return nil
	default:
		return fmt.Errorf("unknown breaker state %v", cb.state)
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err == nil {
		cb.onSuccess()
	} else {
		cb.onFailure()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case BreakerClosed:
		cb.failureCount = 0
	case BreakerHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.setState(BreakerClosed)
			cb.failureCount = 0
			cb.successCount = 0
			cb.logger.Info("Circuit closed, upstream recovered")
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	switch cb.state {
	case BreakerClosed:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.trip()
		}
	case BreakerHalfOpen:
		cb.successCount = 0
		cb.trip()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.setState(BreakerOpen)
	cb.nextAttempt = cb.now().Add(cb.config.ResetTimeout)
	cb.logger.Warn("Circuit opened", "reset_timeout", cb.config.ResetTimeout)
}

// setState transitions the breaker and fires the matching hook.
// Hooks run on their own goroutine so a slow observer cannot hold the lock.
func (cb *CircuitBreaker) setState(state BreakerState) {
	cb.state = state

	var hook func(string)
	switch state {
	case BreakerOpen:
		hook = cb.config.OnOpen
	case BreakerClosed:
		hook = cb.config.OnClose
	case BreakerHalfOpen:
		hook = cb.config.OnHalfOpen
	}
	if hook != nil {
		go hook(cb.name)
	}
}
