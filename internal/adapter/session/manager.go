package session

import (
	"sync"
	"time"

	"github.com/thushan/ksid/internal/core/domain"
	"github.com/thushan/ksid/internal/logger"
)

const DefaultLockTimeout = 5 * time.Minute

// EmitFunc delivers lock transition events (conversation:locked/:unlocked)
type EmitFunc func(name string, data map[string]any)

// Manager tracks session metadata, enforces the one-active-request gate and
// provides advisory conversation locks. The lock is a cooperative guard for
// agent orchestration; the active-request flag is the dispatcher's mandatory
// fork prevention. Both can reject work independently.
type Manager struct {
	sessions      map[string]*domain.SessionState
	agentSessions map[string]map[string]struct{}
	emit          EmitFunc
	logger        *logger.StyledLogger
	mu            sync.RWMutex
}

func NewManager(emit EmitFunc, log *logger.StyledLogger) *Manager {
	return &Manager{
		sessions:      make(map[string]*domain.SessionState),
		agentSessions: make(map[string]map[string]struct{}),
		emit:          emit,
		logger:        log,
	}
}

// RegisterRequest binds the request to its session as the active request
func (m *Manager) RegisterRequest(sessionID, requestID, agentID string) {
	if sessionID == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.getOrCreateLocked(sessionID)
	state.ActiveRequestID = requestID
	state.RequestCount++
	state.LastActivity = time.Now()

	if agentID != "" {
		if m.agentSessions[agentID] == nil {
			m.agentSessions[agentID] = make(map[string]struct{})
		}
		m.agentSessions[agentID][sessionID] = struct{}{}
	}
}

// CompleteRequest clears the active-request flag when it matches requestID
func (m *Manager) CompleteRequest(sessionID, requestID string) {
	if sessionID == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	if state.ActiveRequestID == requestID {
		state.ActiveRequestID = ""
	}
	state.LastActivity = time.Now()
}

// AcquireLock takes or extends the conversation lock for agentID
func (m *Manager) AcquireLock(sessionID, agentID string, timeout time.Duration) *domain.LockResult {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	now := time.Now()

	m.mu.Lock()
	state := m.getOrCreateLocked(sessionID)

	if state.Lock.IsHeld(now) {
		if state.Lock.HeldBy == agentID {
			state.Lock.ExpiresAt = now.Add(timeout)
			expiresAt := state.Lock.ExpiresAt
			m.mu.Unlock()
			return &domain.LockResult{Locked: true, Extended: true, ExpiresAt: expiresAt}
		}

		holder := state.Lock.HeldBy
		expiresAt := state.Lock.ExpiresAt
		m.mu.Unlock()
		return &domain.LockResult{
			Locked:    false,
			Reason:    "already_locked",
			Holder:    holder,
			ExpiresAt: expiresAt,
		}
	}

	state.Lock.HeldBy = agentID
	state.Lock.ExpiresAt = now.Add(timeout)
	expiresAt := state.Lock.ExpiresAt
	m.mu.Unlock()

	m.emitEvent("conversation:locked", map[string]any{
		"session_id": sessionID,
		"agent_id":   agentID,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	return &domain.LockResult{Locked: true, ExpiresAt: expiresAt}
}

// ReleaseLock clears the lock, succeeding only for the current holder
func (m *Manager) ReleaseLock(sessionID, agentID string) error {
	now := time.Now()

	m.mu.Lock()
	state, ok := m.sessions[sessionID]
	if !ok || !state.Lock.IsHeld(now) {
		m.mu.Unlock()
		return &domain.LockError{SessionID: sessionID, AgentID: agentID, Kind: "not_locked"}
	}
	if state.Lock.HeldBy != agentID {
		holder := state.Lock.HeldBy
		m.mu.Unlock()
		return &domain.LockError{SessionID: sessionID, AgentID: agentID, Kind: "not_lock_holder", Holder: holder}
	}

	state.Lock = domain.SessionLock{}
	m.mu.Unlock()

	m.emitEvent("conversation:unlocked", map[string]any{
		"session_id": sessionID,
		"agent_id":   agentID,
	})

	return nil
}

// GetSession returns a copy of the session state
func (m *Manager) GetSession(sessionID string) (*domain.SessionState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	copied := *state
	return &copied, true
}

// GetAllSessions returns copies of every tracked session
func (m *Manager) GetAllSessions() map[string]*domain.SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*domain.SessionState, len(m.sessions))
	for id, state := range m.sessions {
		copied := *state
		out[id] = &copied
	}
	return out
}

// SessionsForAgent lists sessions indexed for the given agent
func (m *Manager) SessionsForAgent(agentID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for sessionID := range m.agentSessions[agentID] {
		out = append(out, sessionID)
	}
	return out
}

// CleanupExpiredLocks sweeps locks whose expiry has passed
func (m *Manager) CleanupExpiredLocks() int {
	now := time.Now()
	cleaned := 0

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, state := range m.sessions {
		if state.Lock.HeldBy != "" && !now.Before(state.Lock.ExpiresAt) {
			state.Lock = domain.SessionLock{}
			cleaned++
		}
	}

	if cleaned > 0 {
		m.logger.InfoWithCount("Cleared expired conversation locks", cleaned)
	}
	return cleaned
}

// CleanupInactiveSessions evicts sessions with no active request, no lock
// and no activity inside the idle window
func (m *Manager) CleanupInactiveSessions(idleFor time.Duration) int {
	now := time.Now()
	cutoff := now.Add(-idleFor)
	cleaned := 0

	m.mu.Lock()
	defer m.mu.Unlock()

	for sessionID, state := range m.sessions {
		if state.ActiveRequestID != "" {
			continue
		}
		if state.Lock.IsHeld(now) {
			continue
		}
		if state.LastActivity.After(cutoff) {
			continue
		}

		delete(m.sessions, sessionID)
		for _, sessions := range m.agentSessions {
			delete(sessions, sessionID)
		}
		cleaned++
	}

	if cleaned > 0 {
		m.logger.InfoWithCount("Evicted inactive sessions", cleaned)
	}
	return cleaned
}

func (m *Manager) getOrCreateLocked(sessionID string) *domain.SessionState {
	state, ok := m.sessions[sessionID]
	if !ok {
		state = &domain.SessionState{
			SessionID:    sessionID,
			CreatedAt:    time.Now(),
			LastActivity: time.Now(),
			Metadata:     make(map[string]any),
		}
		m.sessions[sessionID] = state
	}
	return state
}

func (m *Manager) emitEvent(name string, data map[string]any) {
	if m.emit != nil {
		m.emit(name, data)
	}
}
