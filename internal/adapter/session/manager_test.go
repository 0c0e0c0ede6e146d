package session

import (
	"errors"
	"testing"
	"time"

	"github.com/thushan/ksid/internal/core/domain"
	"github.com/thushan/ksid/internal/logger"
)

func TestRegisterAndCompleteRequest(t *testing.T) {
	m := NewManager(nil, logger.NewPlain())

	m.RegisterRequest("sess-1", "req-1", "agent-1")

	state, ok := m.GetSession("sess-1")
	if !ok {
		t.Fatal("expected session to exist after registration")
	}
	if state.ActiveRequestID != "req-1" {
		t.Errorf("expected active request req-1, got %q", state.ActiveRequestID)
	}
	if state.RequestCount != 1 {
		t.Errorf("expected request count 1, got %d", state.RequestCount)
	}

	m.CompleteRequest("sess-1", "req-1")
	state, _ = m.GetSession("sess-1")
	if state.ActiveRequestID != "" {
		t.Errorf("expected active request cleared, got %q", state.ActiveRequestID)
	}
}

func TestCompleteRequestIgnoresStaleID(t *testing.T) {
	m := NewManager(nil, logger.NewPlain())

	m.RegisterRequest("sess-1", "req-1", "")
	m.RegisterRequest("sess-1", "req-2", "")

	// Completion of a superseded request must not clear the newer one
	m.CompleteRequest("sess-1", "req-1")

	state, _ := m.GetSession("sess-1")
	if state.ActiveRequestID != "req-2" {
		t.Errorf("expected req-2 to stay active, got %q", state.ActiveRequestID)
	}
}

func TestAcquireLockAndDenyOtherAgent(t *testing.T) {
	var events []string
	m := NewManager(func(name string, data map[string]any) {
		events = append(events, name)
	}, logger.NewPlain())

	lr := m.AcquireLock("sess-1", "agent-1", time.Minute)
	if !lr.Locked || lr.Extended {
		t.Fatalf("expected fresh lock, got %+v", lr)
	}

	denied := m.AcquireLock("sess-1", "agent-2", time.Minute)
	if denied.Locked {
		t.Error("expected a second agent to be denied")
	}
	if denied.Reason != "already_locked" || denied.Holder != "agent-1" {
		t.Errorf("expected denial naming the holder, got %+v", denied)
	}

	if len(events) != 1 || events[0] != "conversation:locked" {
		t.Errorf("expected one conversation:locked event, got %v", events)
	}
}

func TestAcquireLockExtendsForHolder(t *testing.T) {
	m := NewManager(nil, logger.NewPlain())

	first := m.AcquireLock("sess-1", "agent-1", time.Minute)
	second := m.AcquireLock("sess-1", "agent-1", time.Hour)

	if !second.Locked || !second.Extended {
		t.Fatalf("expected the holder to extend, got %+v", second)
	}
	if !second.ExpiresAt.After(first.ExpiresAt) {
		t.Error("expected the extension to push expiry forward")
	}
}

func TestReleaseLockErrors(t *testing.T) {
	m := NewManager(nil, logger.NewPlain())

	err := m.ReleaseLock("sess-1", "agent-1")
	var lockErr *domain.LockError
	if !errors.As(err, &lockErr) || lockErr.Kind != "not_locked" {
		t.Errorf("expected not_locked, got %v", err)
	}

	m.AcquireLock("sess-1", "agent-1", time.Minute)
	err = m.ReleaseLock("sess-1", "agent-2")
	if !errors.As(err, &lockErr) || lockErr.Kind != "not_lock_holder" {
		t.Errorf("expected not_lock_holder, got %v", err)
	}
	if lockErr.Holder != "agent-1" {
		t.Errorf("expected the holder to be named, got %q", lockErr.Holder)
	}

	if err := m.ReleaseLock("sess-1", "agent-1"); err != nil {
		t.Errorf("expected the holder's release to succeed: %v", err)
	}
}

func TestExpiredLockIsAcquirable(t *testing.T) {
	m := NewManager(nil, logger.NewPlain())

	m.AcquireLock("sess-1", "agent-1", time.Nanosecond)
	time.Sleep(time.Millisecond)

	lr := m.AcquireLock("sess-1", "agent-2", time.Minute)
	if !lr.Locked {
		t.Errorf("expected the expired lock to be reacquirable, got %+v", lr)
	}
}

func TestCleanupExpiredLocks(t *testing.T) {
	m := NewManager(nil, logger.NewPlain())

	m.AcquireLock("sess-1", "agent-1", time.Nanosecond)
	m.AcquireLock("sess-2", "agent-2", time.Hour)
	time.Sleep(time.Millisecond)

	if cleaned := m.CleanupExpiredLocks(); cleaned != 1 {
		t.Errorf("expected 1 expired lock cleared, got %d", cleaned)
	}

	state, _ := m.GetSession("sess-2")
	if state.Lock.HeldBy != "agent-2" {
		t.Error("expected the live lock to survive cleanup")
	}
}

func TestCleanupInactiveSessionsSkipsBusyOnes(t *testing.T) {
	m := NewManager(nil, logger.NewPlain())

	m.RegisterRequest("busy", "req-1", "agent-1")
	m.RegisterRequest("idle", "req-2", "agent-1")
	m.CompleteRequest("idle", "req-2")
	m.AcquireLock("locked", "agent-2", time.Hour)

	// Zero idle window makes everything but busy and locked sessions eligible
	time.Sleep(time.Millisecond)
	cleaned := m.CleanupInactiveSessions(0)
	if cleaned != 1 {
		t.Fatalf("expected only the idle session evicted, got %d", cleaned)
	}

	if _, ok := m.GetSession("busy"); !ok {
		t.Error("expected the session with an active request to survive")
	}
	if _, ok := m.GetSession("locked"); !ok {
		t.Error("expected the locked session to survive")
	}
	if _, ok := m.GetSession("idle"); ok {
		t.Error("expected the idle session to be evicted")
	}
}

func TestSessionsForAgent(t *testing.T) {
	m := NewManager(nil, logger.NewPlain())

	m.RegisterRequest("sess-1", "req-1", "agent-1")
	m.RegisterRequest("sess-2", "req-2", "agent-1")
	m.RegisterRequest("sess-3", "req-3", "agent-2")

	sessions := m.SessionsForAgent("agent-1")
	if len(sessions) != 2 {
		t.Errorf("expected 2 sessions for agent-1, got %d", len(sessions))
	}
}
