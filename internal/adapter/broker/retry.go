package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/thushan/ksid/internal/core/domain"
)

// retryController schedules resubmission of transiently failed completions.
// A retried request is a brand new request: it gets a fresh request_id and
// re-enters the queue at the tail so it re-serializes behind newer work.
type retryController struct {
	svc    *Service
	policy domain.RetryPolicy

	states map[string]*domain.RetryState
	timers map[string]*time.Timer
	mu     sync.Mutex

	scheduled *xsync.Counter
	abandoned *xsync.Counter
	exhausted *xsync.Counter
}

func newRetryController(svc *Service, policy domain.RetryPolicy) *retryController {
	return &retryController{
		svc:       svc,
		policy:    policy,
		states:    make(map[string]*domain.RetryState),
		timers:    make(map[string]*time.Timer),
		scheduled: xsync.NewCounter(),
		abandoned: xsync.NewCounter(),
		exhausted: xsync.NewCounter(),
	}
}

// handleFailed serves completion:failed. It recovers the original payload,
// classifies the failure and either schedules a backoff timer or abandons.
func (rc *retryController) handleFailed(ctx context.Context, data map[string]any) (map[string]any, error) {
	requestID := eventString(data, "request_id")
	reason := eventString(data, "reason")

	original, ok := rc.svc.store.GetRecovery(requestID)
	if !ok {
		// Checkpoint restore injects the payload directly on the event
		if injected, has := data["completion_data"].(map[string]any); has {
			original = injected
			ok = true
		}
	}
	if !ok || original == nil {
		rc.abandoned.Inc()
		return map[string]any{"request_id": requestID, "status": "not_found"}, nil
	}

	kind := domain.ClassifyError(reason)
	if !kind.Retryable() {
		rc.clearState(requestID)
		return map[string]any{"request_id": requestID, "status": "not_retryable"}, nil
	}

	rc.mu.Lock()

	// One outstanding timer per request: a duplicate completion:failed for
	// the same attempt must not schedule twice
	if _, pending := rc.timers[requestID]; pending {
		rc.mu.Unlock()
		return map[string]any{"request_id": requestID, "status": "retry_scheduled"}, nil
	}

	attempt := 0
	if prior, exists := rc.states[requestID]; exists {
		attempt = prior.Attempt
	}

	if attempt >= rc.policy.MaxAttempts {
		delete(rc.states, requestID)
		rc.mu.Unlock()
		rc.exhausted.Inc()
		rc.svc.logger.Warn("Retry attempts exhausted",
			"request_id", requestID, "attempts", attempt, "reason", reason)
		return map[string]any{"request_id": requestID, "status": "not_retryable"}, nil
	}

	delay := rc.policy.Delay(attempt)

	// The resubmission is a new request; carry the retry chain forward
	// under the new id so a later failure continues the same attempt count
	newRequestID := uuid.NewString()
	newPayload := clonePayload(original)
	newPayload["request_id"] = newRequestID

	delete(rc.states, requestID)
	rc.states[newRequestID] = &domain.RetryState{
		RequestID:       newRequestID,
		OriginalRequest: newPayload,
		Attempt:         attempt + 1,
		MaxAttempts:     rc.policy.MaxAttempts,
		LastErrorKind:   kind,
		NextFireAt:      time.Now().Add(delay),
	}

	timer := time.AfterFunc(delay, func() {
		rc.fire(requestID, newRequestID, newPayload)
	})
	rc.timers[requestID] = timer
	rc.mu.Unlock()

	rc.scheduled.Inc()
	rc.svc.logger.Info("Retry scheduled",
		"request_id", requestID,
		"retry_request_id", newRequestID,
		"attempt", attempt+1,
		"delay", delay.String(),
		"reason", reason)

	return map[string]any{"request_id": requestID, "status": "retry_scheduled"}, nil
}

// fire resubmits the payload through the normal completion:async entry path.
// Failures here must not crash the controller; they log and drop the retry.
func (rc *retryController) fire(originalID, newRequestID string, payload map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			rc.svc.logger.Error("Retry resubmission panicked, dropping retry",
				"request_id", newRequestID, "panic", r)
		}
	}()

	rc.mu.Lock()
	delete(rc.timers, originalID)
	rc.mu.Unlock()

	rc.svc.emit("completion:async", payload)
}

// handleRetryStatus serves completion:retry_status
func (rc *retryController) handleRetryStatus(ctx context.Context, data map[string]any) (map[string]any, error) {
	rc.mu.Lock()
	retrying := make([]map[string]any, 0, len(rc.states))
	for _, state := range rc.states {
		retrying = append(retrying, map[string]any{
			"request_id":      state.RequestID,
			"attempt":         state.Attempt,
			"max_attempts":    state.MaxAttempts,
			"last_error_kind": string(state.LastErrorKind),
			"next_fire_at":    state.NextFireAt.Format(time.RFC3339),
		})
	}
	rc.mu.Unlock()

	return map[string]any{
		"stats": map[string]any{
			"scheduled": rc.scheduled.Value(),
			"abandoned": rc.abandoned.Value(),
			"exhausted": rc.exhausted.Value(),
		},
		"retrying_requests": retrying,
	}, nil
}

func (rc *retryController) clearState(requestID string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	delete(rc.states, requestID)
	if timer, ok := rc.timers[requestID]; ok {
		timer.Stop()
		delete(rc.timers, requestID)
	}
}

// shutdown stops every outstanding retry timer
func (rc *retryController) shutdown() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	for id, timer := range rc.timers {
		timer.Stop()
		delete(rc.timers, id)
	}
	for id := range rc.states {
		delete(rc.states, id)
	}
}

func clonePayload(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
