package domain

import (
	"time"
)

// SessionState is the per-conversation record the session manager maintains.
// At most one ActiveRequestID is set at any instant; that flag is the
// dispatcher's fork-prevention gate and is always enforced.
type SessionState struct {
	SessionID       string         `json:"session_id"`
	CreatedAt       time.Time      `json:"created_at"`
	LastActivity    time.Time      `json:"last_activity"`
	RequestCount    int64          `json:"request_count"`
	ActiveRequestID string         `json:"active_request_id,omitempty"`
	Lock            SessionLock    `json:"lock"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// SessionLock is the cooperative application-level hold on a conversation,
// distinct from active-request gating
type SessionLock struct {
	HeldBy    string    `json:"held_by,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// IsHeld reports whether the lock is currently held and unexpired
func (l *SessionLock) IsHeld(now time.Time) bool {
	return l.HeldBy != "" && now.Before(l.ExpiresAt)
}

// LockResult reports the outcome of an acquire attempt
type LockResult struct {
	Locked    bool      `json:"locked"`
	Extended  bool      `json:"extended,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Holder    string    `json:"holder,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// QueueStatus is returned synchronously when a request is accepted
type QueueStatus struct {
	Position  int `json:"position"`
	QueueSize int `json:"queue_size"`
}
