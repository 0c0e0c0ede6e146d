package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/thushan/ksid/internal/core/domain"
)

// handleCheckpointCollect serves checkpoint:collect. The snapshot carries
// enough to resubmit interrupted work after a restart; queued payloads are
// already covered by the recovery index, so queues report depth only.
func (s *Service) handleCheckpointCollect(ctx context.Context, data map[string]any) (map[string]any, error) {
	snapshot := s.active.Snapshot()
	completions := make(map[string]any, len(snapshot))
	for id, ac := range snapshot {
		completions[id] = activeCompletionToMap(ac)
	}

	return map[string]any{
		"active_completions": completions,
		"session_queues":     s.queues.QueueDepths(),
		"components": map[string]any{
			"recovery_pending": s.store.RecoveryCount(),
			"retry":            s.retryCheckpoint(),
		},
	}, nil
}

// handleCheckpointRestore serves checkpoint:restore. Completions that were
// in flight when the previous daemon died are failed with reason
// daemon_restart, which routes them through the retry controller.
func (s *Service) handleCheckpointRestore(ctx context.Context, data map[string]any) (map[string]any, error) {
	raw, ok := data["active_completions"].(map[string]any)
	if !ok || len(raw) == 0 {
		return map[string]any{"restored": 0, "message": "nothing to restore"}, nil
	}

	restored := 0
	resubmitted := 0
	for requestID, entry := range raw {
		record, ok := entry.(map[string]any)
		if !ok {
			continue
		}

		ac := activeCompletionFromMap(requestID, record)
		s.active.Restore(ac)
		restored++

		if ac.State.IsTerminal() {
			continue
		}

		failedData := map[string]any{
			"request_id": ac.RequestID,
			"reason":     string(domain.ErrKindDaemonRestart),
			"message":    "daemon restarted while request was in flight",
		}
		if ac.EventData != nil {
			failedData["completion_data"] = ac.EventData
		}
		s.emit("completion:failed", failedData)

		// The retry controller resubmits under a fresh id, so the restored
		// entry gets no further transitions. Fail it here so the cleanup
		// timer arms and status stops counting it as in flight.
		s.active.MarkTerminal(ac.RequestID, domain.CompletionFailed, string(domain.ErrKindDaemonRestart))
		resubmitted++
	}

	s.logger.Info("Checkpoint restored",
		"completions", restored, "resubmitted", resubmitted)

	return map[string]any{
		"restored": restored,
		"message":  fmt.Sprintf("restored %d completions, %d scheduled for resubmission", restored, resubmitted),
	}, nil
}

func (s *Service) retryCheckpoint() map[string]any {
	status, _ := s.retry.handleRetryStatus(context.Background(), nil)
	return status
}

func activeCompletionToMap(ac *domain.ActiveCompletion) map[string]any {
	out := map[string]any{
		"state":     string(ac.State),
		"queued_at": ac.QueuedAt.Format(time.RFC3339Nano),
	}
	if ac.SessionID != "" {
		out["session_id"] = ac.SessionID
	}
	if ac.StartedAt != nil {
		out["started_at"] = ac.StartedAt.Format(time.RFC3339Nano)
	}
	if ac.CompletedAt != nil {
		out["completed_at"] = ac.CompletedAt.Format(time.RFC3339Nano)
	}
	if ac.Error != "" {
		out["error"] = ac.Error
	}
	if ac.EventData != nil {
		out["original_event_data"] = ac.EventData
	}
	return out
}

func activeCompletionFromMap(requestID string, record map[string]any) *domain.ActiveCompletion {
	ac := &domain.ActiveCompletion{
		RequestID: requestID,
		SessionID: eventString(record, "session_id"),
		State:     domain.CompletionState(eventString(record, "state")),
		QueuedAt:  time.Now(),
		Error:     eventString(record, "error"),
	}
	if ac.State == "" {
		ac.State = domain.CompletionProcessing
	}
	if raw, ok := record["queued_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			ac.QueuedAt = t
		}
	}
	if raw, ok := record["started_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			ac.StartedAt = &t
		}
	}
	if raw, ok := record["completed_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			ac.CompletedAt = &t
		}
	}
	if payload, ok := record["original_event_data"].(map[string]any); ok {
		ac.EventData = payload
	}
	return ac
}
