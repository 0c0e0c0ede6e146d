package broker

import (
	"sync"
	"time"

	"github.com/thushan/ksid/internal/core/domain"
)

// DefaultCleanupDelay keeps terminal completions queryable before removal
const DefaultCleanupDelay = 60 * time.Second

// activeTracker holds every accepted completion from acceptance until
// terminal-state + cleanup delay
type activeTracker struct {
	completions  map[string]*domain.ActiveCompletion
	cleanupDelay time.Duration
	afterFunc    func(time.Duration, func()) *time.Timer
	mu           sync.RWMutex
}

func newActiveTracker(cleanupDelay time.Duration) *activeTracker {
	if cleanupDelay <= 0 {
		cleanupDelay = DefaultCleanupDelay
	}
	return &activeTracker{
		completions:  make(map[string]*domain.ActiveCompletion),
		cleanupDelay: cleanupDelay,
		afterFunc:    time.AfterFunc,
	}
}

// Insert records a freshly accepted request in state queued
func (t *activeTracker) Insert(requestID, sessionID string, eventData map[string]any) *domain.ActiveCompletion {
	ac := &domain.ActiveCompletion{
		RequestID: requestID,
		SessionID: sessionID,
		State:     domain.CompletionQueued,
		QueuedAt:  time.Now(),
		EventData: eventData,
	}

	t.mu.Lock()
	t.completions[requestID] = ac
	t.mu.Unlock()
	return ac
}

// Get returns a copy of the tracked completion
func (t *activeTracker) Get(requestID string) (*domain.ActiveCompletion, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ac, ok := t.completions[requestID]
	if !ok {
		return nil, false
	}
	copied := *ac
	return &copied, true
}

// MarkProcessing transitions queued work to processing. Returns false when
// the completion is unknown or already terminal (e.g. cancelled while queued).
func (t *activeTracker) MarkProcessing(requestID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ac, ok := t.completions[requestID]
	if !ok || ac.State.IsTerminal() {
		return false
	}
	now := time.Now()
	ac.State = domain.CompletionProcessing
	ac.StartedAt = &now
	return true
}

// MarkTerminal moves the completion to a terminal state and schedules removal.
// Returns false if it was already terminal; exactly one terminal transition
// wins, which is what makes terminal events exactly-once.
func (t *activeTracker) MarkTerminal(requestID string, state domain.CompletionState, errMsg string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ac, ok := t.completions[requestID]
	if !ok || ac.State.IsTerminal() {
		return false
	}

	now := time.Now()
	ac.State = state
	ac.CompletedAt = &now
	ac.Error = errMsg

	t.afterFunc(t.cleanupDelay, func() {
		t.mu.Lock()
		delete(t.completions, requestID)
		t.mu.Unlock()
	})
	return true
}

// Restore merges a prior completion record during checkpoint recovery
func (t *activeTracker) Restore(ac *domain.ActiveCompletion) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.completions[ac.RequestID]; !exists {
		copied := *ac
		t.completions[ac.RequestID] = &copied
	}
}

// Snapshot copies the whole map for checkpointing and status queries
func (t *activeTracker) Snapshot() map[string]*domain.ActiveCompletion {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]*domain.ActiveCompletion, len(t.completions))
	for id, ac := range t.completions {
		copied := *ac
		out[id] = &copied
	}
	return out
}

// NonTerminal lists completions still in flight
func (t *activeTracker) NonTerminal() []*domain.ActiveCompletion {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*domain.ActiveCompletion
	for _, ac := range t.completions {
		if !ac.State.IsTerminal() {
			copied := *ac
			out = append(out, &copied)
		}
	}
	return out
}

// CountByState tallies completions per lifecycle state
func (t *activeTracker) CountByState() map[domain.CompletionState]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[domain.CompletionState]int)
	for _, ac := range t.completions {
		out[ac.State]++
	}
	return out
}
