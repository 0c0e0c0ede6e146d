package provider

import (
	"sync"
	"time"

	"github.com/thushan/ksid/internal/core/domain"
)

const (
	DefaultBreakerThreshold = 5
	DefaultBreakerWindow    = 5 * time.Minute
)

// BreakerConfig tunes the per-provider circuit breaker
type BreakerConfig struct {
	FailureThreshold int
	TimeoutWindow    time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: DefaultBreakerThreshold,
		TimeoutWindow:    DefaultBreakerWindow,
	}
}

// circuitBreaker tracks failures inside a rolling window and short-circuits
// selection while open. After openUntil passes, the next call is allowed
// through (half-open); success closes the breaker, failure reopens it for
// another full window. State is per-provider and never shared.
type circuitBreaker struct {
	failureThreshold int
	timeoutWindow    time.Duration

	mu          sync.Mutex
	failures    []time.Time
	openUntil   time.Time
	lastSuccess time.Time
}

func newCircuitBreaker(cfg BreakerConfig) *circuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerThreshold
	}
	if cfg.TimeoutWindow <= 0 {
		cfg.TimeoutWindow = DefaultBreakerWindow
	}
	return &circuitBreaker{
		failureThreshold: cfg.FailureThreshold,
		timeoutWindow:    cfg.TimeoutWindow,
	}
}

// Allows reports whether a call may proceed. Once openUntil passes the
// breaker lets the next call through without resetting failure history;
// the outcome of that probe decides whether it closes or reopens.
func (cb *circuitBreaker) Allows(now time.Time) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return now.After(cb.openUntil) || now.Equal(cb.openUntil)
}

func (cb *circuitBreaker) RecordSuccess(now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = cb.failures[:0]
	cb.openUntil = time.Time{}
	cb.lastSuccess = now
}

// RecordFailure appends a failure timestamp, prunes the window and opens the
// breaker when the threshold is reached. A failure during a half-open probe
// reopens for another full window regardless of the pruned count. Returns
// true on a closed-to-open transition.
func (cb *circuitBreaker) RecordFailure(now time.Time) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	wasOpen := now.Before(cb.openUntil)
	halfOpen := !cb.openUntil.IsZero() && !wasOpen

	cutoff := now.Add(-cb.timeoutWindow)
	pruned := cb.failures[:0]
	for _, t := range cb.failures {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	cb.failures = append(pruned, now)

	if halfOpen || len(cb.failures) >= cb.failureThreshold {
		cb.openUntil = now.Add(cb.timeoutWindow)
		return !wasOpen
	}
	return false
}

// State reports the logical breaker state at the given instant
func (cb *circuitBreaker) State(now time.Time) domain.BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if now.Before(cb.openUntil) {
		return domain.BreakerOpen
	}
	if !cb.openUntil.IsZero() && len(cb.failures) > 0 {
		return domain.BreakerHalfOpen
	}
	return domain.BreakerClosed
}

// Snapshot returns breaker internals for operator status queries
func (cb *circuitBreaker) Snapshot(now time.Time) (state domain.BreakerState, openUntil *time.Time, failureCount int, lastSuccess *time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cutoff := now.Add(-cb.timeoutWindow)
	count := 0
	for _, t := range cb.failures {
		if t.After(cutoff) {
			count++
		}
	}

	switch {
	case now.Before(cb.openUntil):
		state = domain.BreakerOpen
	case !cb.openUntil.IsZero() && len(cb.failures) > 0:
		state = domain.BreakerHalfOpen
	default:
		state = domain.BreakerClosed
	}

	if !cb.openUntil.IsZero() && now.Before(cb.openUntil) {
		until := cb.openUntil
		openUntil = &until
	}
	if !cb.lastSuccess.IsZero() {
		last := cb.lastSuccess
		lastSuccess = &last
	}
	return state, openUntil, count, lastSuccess
}
