package broker

import (
	"sync"
	"testing"
	"time"

	"github.com/thushan/ksid/internal/core/domain"
)

// manualTimers replaces time.AfterFunc so tests control cleanup firing
type manualTimers struct {
	mu      sync.Mutex
	pending []func()
}

func (m *manualTimers) afterFunc(_ time.Duration, fn func()) *time.Timer {
	m.mu.Lock()
	m.pending = append(m.pending, fn)
	m.mu.Unlock()
	return time.NewTimer(time.Hour)
}

func (m *manualTimers) fireAll() {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

func newManualTracker() (*activeTracker, *manualTimers) {
	timers := &manualTimers{}
	tracker := newActiveTracker(time.Minute)
	tracker.afterFunc = timers.afterFunc
	return tracker, timers
}

func TestTrackerLifecycle(t *testing.T) {
	tracker, _ := newManualTracker()

	tracker.Insert("req-1", "sess-1", map[string]any{"model": "gpt-4o"})

	ac, ok := tracker.Get("req-1")
	if !ok {
		t.Fatal("expected tracked completion")
	}
	if ac.State != domain.CompletionQueued {
		t.Errorf("expected queued, got %s", ac.State)
	}

	if !tracker.MarkProcessing("req-1") {
		t.Fatal("expected queued work to move to processing")
	}
	ac, _ = tracker.Get("req-1")
	if ac.State != domain.CompletionProcessing || ac.StartedAt == nil {
		t.Errorf("expected processing with start time, got %+v", ac)
	}

	if !tracker.MarkTerminal("req-1", domain.CompletionCompleted, "") {
		t.Fatal("expected terminal transition to succeed")
	}
	ac, _ = tracker.Get("req-1")
	if ac.State != domain.CompletionCompleted || ac.CompletedAt == nil {
		t.Errorf("expected completed with completion time, got %+v", ac)
	}
}

func TestMarkTerminalSingleWinner(t *testing.T) {
	tracker, _ := newManualTracker()
	tracker.Insert("req-1", "", nil)

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan domain.CompletionState, racers)

	for i := 0; i < racers; i++ {
		state := domain.CompletionCancelled
		if i%2 == 0 {
			state = domain.CompletionCompleted
		}
		wg.Add(1)
		go func(s domain.CompletionState) {
			defer wg.Done()
			if tracker.MarkTerminal("req-1", s, "") {
				wins <- s
			}
		}(state)
	}
	wg.Wait()
	close(wins)

	var winners []domain.CompletionState
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one terminal transition, got %d", len(winners))
	}

	ac, _ := tracker.Get("req-1")
	if ac.State != winners[0] {
		t.Errorf("tracked state %s does not match the winning transition %s", ac.State, winners[0])
	}
}

func TestMarkProcessingRefusedAfterTerminal(t *testing.T) {
	tracker, _ := newManualTracker()
	tracker.Insert("req-1", "", nil)

	tracker.MarkTerminal("req-1", domain.CompletionCancelled, "cancelled")

	if tracker.MarkProcessing("req-1") {
		t.Error("expected a cancelled completion to refuse processing")
	}
	if tracker.MarkProcessing("never-inserted") {
		t.Error("expected an unknown request to refuse processing")
	}
}

func TestTerminalEntriesLingerUntilCleanup(t *testing.T) {
	tracker, timers := newManualTracker()
	tracker.Insert("req-1", "", nil)
	tracker.MarkTerminal("req-1", domain.CompletionCompleted, "")

	// Queryable during the cleanup window
	if _, ok := tracker.Get("req-1"); !ok {
		t.Fatal("expected terminal completion to remain queryable")
	}

	timers.fireAll()
	if _, ok := tracker.Get("req-1"); ok {
		t.Error("expected completion removed after the cleanup delay")
	}
}

func TestNonTerminalAndCounts(t *testing.T) {
	tracker, _ := newManualTracker()
	tracker.Insert("req-1", "", nil)
	tracker.Insert("req-2", "", nil)
	tracker.Insert("req-3", "", nil)

	tracker.MarkProcessing("req-2")
	tracker.MarkTerminal("req-3", domain.CompletionFailed, "boom")

	inFlight := tracker.NonTerminal()
	if len(inFlight) != 2 {
		t.Errorf("expected 2 in-flight completions, got %d", len(inFlight))
	}

	counts := tracker.CountByState()
	if counts[domain.CompletionQueued] != 1 || counts[domain.CompletionProcessing] != 1 || counts[domain.CompletionFailed] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestRestoreDoesNotOverwrite(t *testing.T) {
	tracker, _ := newManualTracker()
	tracker.Insert("req-1", "sess-1", nil)
	tracker.MarkProcessing("req-1")

	tracker.Restore(&domain.ActiveCompletion{
		RequestID: "req-1",
		State:     domain.CompletionQueued,
	})

	ac, _ := tracker.Get("req-1")
	if ac.State != domain.CompletionProcessing {
		t.Errorf("expected live state to win over the restored snapshot, got %s", ac.State)
	}

	tracker.Restore(&domain.ActiveCompletion{
		RequestID: "req-new",
		State:     domain.CompletionProcessing,
	})
	if _, ok := tracker.Get("req-new"); !ok {
		t.Error("expected a novel snapshot entry to be restored")
	}
}
