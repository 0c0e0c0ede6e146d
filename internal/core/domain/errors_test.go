package domain

import (
	"errors"
	"testing"
)

func TestRetryableKinds(t *testing.T) {
	retryable := []ErrorKind{
		ErrKindTimeout, ErrKindNetworkError, ErrKindAPIRateLimit,
		ErrKindProviderError, ErrKindTemporaryFailure, ErrKindDaemonRestart,
	}
	for _, kind := range retryable {
		if !kind.Retryable() {
			t.Errorf("expected %s to be retryable", kind)
		}
	}

	terminal := []ErrorKind{
		ErrKindNoAvailableProvider, ErrKindLockDenied, ErrKindInvalidRequest, ErrKindIOError,
	}
	for _, kind := range terminal {
		if kind.Retryable() {
			t.Errorf("expected %s to be terminal", kind)
		}
	}
}

func TestClassifyErrorDefaultsToTemporaryFailure(t *testing.T) {
	if got := ClassifyError("timeout"); got != ErrKindTimeout {
		t.Errorf("expected known reason to map to itself, got %s", got)
	}
	if got := ClassifyError("something-novel"); got != ErrKindTemporaryFailure {
		t.Errorf("expected unknown reason to default to temporary_failure, got %s", got)
	}
	if got := ClassifyError(""); got != ErrKindTemporaryFailure {
		t.Errorf("expected empty reason to default to temporary_failure, got %s", got)
	}
}

func TestCompletionErrorUnwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := NewCompletionError(ErrKindNetworkError, "req-1", "sess-1", "litellm", inner)

	if !errors.Is(err, inner) {
		t.Error("expected the wrapped error to unwrap")
	}

	var completionErr *CompletionError
	if !errors.As(error(err), &completionErr) {
		t.Fatal("expected errors.As to match")
	}
	if completionErr.Kind != ErrKindNetworkError {
		t.Errorf("expected kind to survive, got %s", completionErr.Kind)
	}
}

func TestProviderSelectionErrorReason(t *testing.T) {
	open := &ProviderSelectionError{Model: "gpt-4o", CircuitsOpen: []string{"litellm"}}
	if open.Reason() != "circuits_open" {
		t.Errorf("expected circuits_open, got %s", open.Reason())
	}

	unsupported := &ProviderSelectionError{Model: "gpt-4o"}
	if unsupported.Reason() != "unsupported_model" {
		t.Errorf("expected unsupported_model, got %s", unsupported.Reason())
	}
}
