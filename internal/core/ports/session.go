package ports

import (
	"time"

	"github.com/thushan/ksid/internal/core/domain"
)

// SessionManager tracks per-conversation state, enforces the
// one-active-request gate and provides advisory conversation locks
type SessionManager interface {
	RegisterRequest(sessionID, requestID, agentID string)
	CompleteRequest(sessionID, requestID string)

	AcquireLock(sessionID, agentID string, timeout time.Duration) *domain.LockResult
	ReleaseLock(sessionID, agentID string) error

	GetSession(sessionID string) (*domain.SessionState, bool)
	GetAllSessions() map[string]*domain.SessionState
	SessionsForAgent(agentID string) []string

	CleanupExpiredLocks() int
	CleanupInactiveSessions(idleFor time.Duration) int
}
