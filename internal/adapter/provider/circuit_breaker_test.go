package provider

import (
	"testing"
	"time"

	"github.com/thushan/ksid/internal/core/domain"
)

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	cb := newCircuitBreaker(BreakerConfig{FailureThreshold: 3, TimeoutWindow: time.Minute})
	now := time.Now()

	cb.RecordFailure(now)
	cb.RecordFailure(now.Add(time.Second))

	if !cb.Allows(now.Add(2 * time.Second)) {
		t.Error("expected breaker to allow calls below the failure threshold")
	}
	if state := cb.State(now.Add(2 * time.Second)); state != domain.BreakerClosed {
		t.Errorf("expected closed, got %s", state)
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	cb := newCircuitBreaker(BreakerConfig{FailureThreshold: 3, TimeoutWindow: time.Minute})
	now := time.Now()

	cb.RecordFailure(now)
	cb.RecordFailure(now.Add(time.Second))
	tripped := cb.RecordFailure(now.Add(2 * time.Second))

	if !tripped {
		t.Error("expected the threshold failure to report a closed-to-open transition")
	}
	if cb.Allows(now.Add(3 * time.Second)) {
		t.Error("expected open breaker to refuse calls")
	}
	if state := cb.State(now.Add(3 * time.Second)); state != domain.BreakerOpen {
		t.Errorf("expected open, got %s", state)
	}
}

func TestBreakerPrunesOldFailures(t *testing.T) {
	cb := newCircuitBreaker(BreakerConfig{FailureThreshold: 3, TimeoutWindow: time.Minute})
	now := time.Now()

	cb.RecordFailure(now)
	cb.RecordFailure(now.Add(time.Second))

	// Third failure lands after the first two slid out of the window
	tripped := cb.RecordFailure(now.Add(2 * time.Minute))
	if tripped {
		t.Error("expected stale failures to be pruned before counting")
	}
	if !cb.Allows(now.Add(2*time.Minute + time.Second)) {
		t.Error("expected breaker to remain closed")
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	cb := newCircuitBreaker(BreakerConfig{FailureThreshold: 2, TimeoutWindow: time.Minute})
	now := time.Now()

	cb.RecordFailure(now)
	cb.RecordFailure(now.Add(time.Second))

	afterWindow := now.Add(time.Second + time.Minute + time.Millisecond)
	if !cb.Allows(afterWindow) {
		t.Fatal("expected a probe to be allowed once the open window passes")
	}
	if state := cb.State(afterWindow); state != domain.BreakerHalfOpen {
		t.Errorf("expected half_open during the probe, got %s", state)
	}
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	cb := newCircuitBreaker(BreakerConfig{FailureThreshold: 2, TimeoutWindow: time.Minute})
	now := time.Now()

	cb.RecordFailure(now)
	cb.RecordFailure(now)

	probeAt := now.Add(2 * time.Minute)
	cb.RecordSuccess(probeAt)

	if state := cb.State(probeAt); state != domain.BreakerClosed {
		t.Errorf("expected probe success to close the breaker, got %s", state)
	}
	if !cb.Allows(probeAt) {
		t.Error("expected closed breaker to allow calls")
	}
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	cb := newCircuitBreaker(BreakerConfig{FailureThreshold: 2, TimeoutWindow: time.Minute})
	now := time.Now()

	cb.RecordFailure(now)
	cb.RecordFailure(now)

	// The probe fails inside the still-populated window
	probeAt := now.Add(time.Minute + time.Second)
	cb.RecordFailure(probeAt)

	if cb.Allows(probeAt.Add(time.Second)) {
		t.Error("expected probe failure to reopen the breaker")
	}
	if state := cb.State(probeAt.Add(time.Second)); state != domain.BreakerOpen {
		t.Errorf("expected open after failed probe, got %s", state)
	}
}

func TestBreakerSnapshot(t *testing.T) {
	cb := newCircuitBreaker(BreakerConfig{FailureThreshold: 2, TimeoutWindow: time.Minute})
	now := time.Now()

	cb.RecordFailure(now)
	cb.RecordFailure(now)

	state, openUntil, failureCount, _ := cb.Snapshot(now.Add(time.Second))
	if state != domain.BreakerOpen {
		t.Errorf("expected open, got %s", state)
	}
	if openUntil == nil {
		t.Error("expected open_until to be reported while open")
	}
	if failureCount != 2 {
		t.Errorf("expected 2 failures in window, got %d", failureCount)
	}
}
