package domain

import (
	"math"
	"time"
)

// RetryPolicy governs resubmission of transiently failed completions
type RetryPolicy struct {
	MaxAttempts       int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialDelay      time.Duration `yaml:"initial_delay" mapstructure:"initial_delay"`
	MaxDelay          time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
}

// DefaultRetryPolicy mirrors the daemon's stock retry configuration
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      2 * time.Second,
		MaxDelay:          60 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Delay computes the backoff before the given attempt (0-based):
// initial * multiplier^attempt, capped at MaxDelay
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// RetryState tracks one request currently scheduled for resubmission.
// A retried request is a new request; OriginalRequest preserves the payload.
type RetryState struct {
	RequestID       string         `json:"request_id"`
	OriginalRequest map[string]any `json:"original_request"`
	Attempt         int            `json:"attempt"`
	MaxAttempts     int            `json:"max_attempts"`
	LastErrorKind   ErrorKind      `json:"last_error_kind"`
	NextFireAt      time.Time      `json:"next_fire_at"`
}
