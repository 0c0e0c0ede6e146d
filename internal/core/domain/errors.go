package domain

import (
	"fmt"
	"time"
)

// ErrorKind classifies completion failures; the kind alone decides retry disposition
type ErrorKind string

const (
	ErrKindTimeout             ErrorKind = "timeout"
	ErrKindNetworkError        ErrorKind = "network_error"
	ErrKindAPIRateLimit        ErrorKind = "api_rate_limit"
	ErrKindProviderError       ErrorKind = "provider_error"
	ErrKindTemporaryFailure    ErrorKind = "temporary_failure"
	ErrKindDaemonRestart       ErrorKind = "daemon_restart"
	ErrKindNoAvailableProvider ErrorKind = "no_available_provider"
	ErrKindLockDenied          ErrorKind = "lock_denied"
	ErrKindInvalidRequest      ErrorKind = "invalid_request"
	ErrKindIOError             ErrorKind = "io_error"
)

// Retryable reports whether the kind admits resubmission under the retry policy
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrKindTimeout, ErrKindNetworkError, ErrKindAPIRateLimit,
		ErrKindProviderError, ErrKindTemporaryFailure, ErrKindDaemonRestart:
		return true
	}
	return false
}

// ClassifyError maps a reason string to an ErrorKind, defaulting to temporary_failure
// for unknown reasons so operators can tune retryable_errors without code changes
func ClassifyError(reason string) ErrorKind {
	switch ErrorKind(reason) {
	case ErrKindTimeout, ErrKindNetworkError, ErrKindAPIRateLimit,
		ErrKindProviderError, ErrKindTemporaryFailure, ErrKindDaemonRestart,
		ErrKindNoAvailableProvider, ErrKindLockDenied, ErrKindInvalidRequest,
		ErrKindIOError:
		return ErrorKind(reason)
	}
	return ErrKindTemporaryFailure
}

// CompletionError wraps a failure in the per-request execution path
type CompletionError struct {
	Err       error
	Kind      ErrorKind
	RequestID string
	SessionID string
	Provider  string
}

func (e *CompletionError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("completion %s failed (%s) via %s: %v", e.RequestID, e.Kind, e.Provider, e.Err)
	}
	return fmt.Sprintf("completion %s failed (%s): %v", e.RequestID, e.Kind, e.Err)
}

func (e *CompletionError) Unwrap() error {
	return e.Err
}

func NewCompletionError(kind ErrorKind, requestID, sessionID, provider string, err error) *CompletionError {
	return &CompletionError{
		Kind:      kind,
		RequestID: requestID,
		SessionID: sessionID,
		Provider:  provider,
		Err:       err,
	}
}

// ProviderSelectionError reports that no provider could serve a model,
// distinguishing circuit-open exhaustion from an unsupported model
type ProviderSelectionError struct {
	Model        string
	CircuitsOpen []string
	RequireMCP   bool
}

func (e *ProviderSelectionError) Error() string {
	if len(e.CircuitsOpen) > 0 {
		return fmt.Sprintf("no available provider for model %s: circuits open for %v", e.Model, e.CircuitsOpen)
	}
	if e.RequireMCP {
		return fmt.Sprintf("no available provider for model %s: no MCP-capable candidate", e.Model)
	}
	return fmt.Sprintf("no available provider for model %s: unsupported model", e.Model)
}

// Reason returns the machine-readable selection failure cause
func (e *ProviderSelectionError) Reason() string {
	if len(e.CircuitsOpen) > 0 {
		return "circuits_open"
	}
	return "unsupported_model"
}

// LockError reports a failed lock operation on a session
type LockError struct {
	SessionID string
	AgentID   string
	Kind      string // already_locked | not_lock_holder | not_locked
	Holder    string
	ExpiresAt time.Time
}

func (e *LockError) Error() string {
	switch e.Kind {
	case "already_locked":
		return fmt.Sprintf("session %s already locked by %s until %s", e.SessionID, e.Holder, e.ExpiresAt.Format(time.RFC3339))
	case "not_lock_holder":
		return fmt.Sprintf("session %s locked by %s, not %s", e.SessionID, e.Holder, e.AgentID)
	default:
		return fmt.Sprintf("session %s is not locked", e.SessionID)
	}
}

// StoreError reports a response store persistence failure
type StoreError struct {
	Err       error
	Operation string
	SessionID string
	Path      string
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("response store %s failed for session %s (%s): %v", e.Operation, e.SessionID, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func NewStoreError(operation, sessionID, path string, err error) *StoreError {
	return &StoreError{
		Operation: operation,
		SessionID: sessionID,
		Path:      path,
		Err:       err,
	}
}
