package domain

import (
	"time"
)

// CompletionState describes where an accepted request sits in its lifecycle
type CompletionState string

const (
	CompletionQueued     CompletionState = "queued"
	CompletionProcessing CompletionState = "processing"
	CompletionCompleted  CompletionState = "completed"
	CompletionFailed     CompletionState = "failed"
	CompletionCancelled  CompletionState = "cancelled"
)

// IsTerminal reports whether no further state transition is possible
func (s CompletionState) IsTerminal() bool {
	return s == CompletionCompleted || s == CompletionFailed || s == CompletionCancelled
}

// ActiveCompletion tracks a request the daemon has accepted.
// Terminal entries linger for a cleanup window so late status queries succeed.
type ActiveCompletion struct {
	RequestID   string          `json:"request_id"`
	SessionID   string          `json:"session_id,omitempty"`
	State       CompletionState `json:"state"`
	QueuedAt    time.Time       `json:"queued_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
	EventData   map[string]any  `json:"original_event_data,omitempty"`
}

// StandardizedResponse is the envelope persisted for every successful
// completion, irrespective of which provider produced it
type StandardizedResponse struct {
	Provider   string         `json:"provider"`
	RequestID  string         `json:"request_id"`
	ClientID   string         `json:"client_id,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	Timestamp  time.Time      `json:"timestamp"`
	Response   map[string]any `json:"response"`
}

// SessionID digs the conversation identifier out of the embedded raw payload.
// Responses without one cannot be associated with a log file.
func (r *StandardizedResponse) SessionID() string {
	if r.Response == nil {
		return ""
	}
	if v, ok := r.Response["session_id"].(string); ok {
		return v
	}
	return ""
}

// TokenUsage captures provider-reported token counts for one completion
type TokenUsage struct {
	Model        string `json:"model"`
	OriginatorID string `json:"originator_id,omitempty"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}
