package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/thushan/ksid/internal/adapter/provider"
	"github.com/thushan/ksid/internal/core/domain"
	"github.com/thushan/ksid/internal/core/ports"
)

// handleAsync accepts a completion:async event: it registers the request,
// queues it (or dispatches immediately when sessionless) and answers
// synchronously with the queue status
func (s *Service) handleAsync(ctx context.Context, data map[string]any) (map[string]any, error) {
	req := domain.ParseCompletionRequest(data)

	if req.Model == "" {
		return nil, domain.NewCompletionError(domain.ErrKindInvalidRequest, req.RequestID, req.SessionID, "",
			errors.New("model is required"))
	}

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
		data["request_id"] = req.RequestID
	}

	if !req.IsSessionless() {
		s.sessions.RegisterRequest(req.SessionID, req.RequestID, req.OriginatorID)
	}
	s.store.SaveRecovery(req.RequestID, req.SessionID, data)
	s.active.Insert(req.RequestID, req.SessionID, data)

	// Sessionless requests cannot fork a conversation; they bypass queueing
	if req.IsSessionless() {
		s.spawn(func(taskCtx context.Context) {
			s.processRequest(taskCtx, "", req.RequestID, data)
			s.store.ClearRecovery(req.RequestID)
		})
		return map[string]any{
			"request_id": req.RequestID,
			"status":     "processing",
		}, nil
	}

	qs := s.queues.Enqueue(req.SessionID, req.RequestID, data)

	status := "queued"
	if s.queues.MarkActive(req.SessionID) {
		status = "processing"
		sessionID := req.SessionID
		s.spawn(func(taskCtx context.Context) {
			s.runSessionDispatcher(taskCtx, sessionID)
		})
	}

	return map[string]any{
		"request_id": req.RequestID,
		"status":     status,
		"position":   qs.Position,
		"queue_size": qs.QueueSize,
	}, nil
}

// runSessionDispatcher drains one session's queue, one request at a time.
// It exits when the queue has stayed empty for a full dequeue timeout; the
// emptiness re-check and the inactive commit are atomic in the queue manager.
func (s *Service) runSessionDispatcher(ctx context.Context, sessionID string) {
	s.logger.DebugWithSession("Dispatcher started for session", sessionID)

	for {
		item, ok := s.queues.Dequeue(ctx, sessionID)
		if !ok {
			if ctx.Err() != nil {
				s.queues.MarkInactiveIfEmpty(sessionID)
				return
			}
			if s.queues.MarkInactiveIfEmpty(sessionID) {
				s.logger.DebugWithSession("Dispatcher drained session", sessionID)
				return
			}
			continue
		}

		s.executeQueued(ctx, sessionID, item)
	}
}

func (s *Service) executeQueued(ctx context.Context, sessionID string, item *ports.QueuedRequest) {
	defer func() {
		s.sessions.CompleteRequest(sessionID, item.RequestID)
		s.store.ClearRecovery(item.RequestID)
	}()

	// Cancelled while queued: the terminal event was already emitted
	if ac, ok := s.active.Get(item.RequestID); ok && ac.State.IsTerminal() {
		return
	}

	s.processRequest(ctx, sessionID, item.RequestID, item.Data)
}

// processRequest executes one request end-to-end: lock, provider selection,
// call, persistence, terminal event. Errors never propagate; the dispatcher
// must keep serving the session.
func (s *Service) processRequest(ctx context.Context, sessionID, requestID string, data map[string]any) {
	if !s.active.MarkProcessing(requestID) {
		return
	}

	req := domain.ParseCompletionRequest(data)
	req.RequestID = requestID

	timeout := s.clampTimeout(time.Duration(req.TimeoutSeconds) * time.Second)
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.tasks.Register(requestID, cancel)
	defer s.tasks.Unregister(requestID)

	var lockAgent string
	lockAcquired := false
	defer func() {
		if lockAcquired {
			_ = s.sessions.ReleaseLock(sessionID, lockAgent)
		}
	}()

	if req.ConversationLock != nil && req.ConversationLock.Enabled && sessionID != "" {
		lockAgent = req.OriginatorID
		if lockAgent == "" {
			lockAgent = requestID
		}
		lockTimeout := time.Duration(req.ConversationLock.TimeoutSeconds) * time.Second

		lr := s.sessions.AcquireLock(sessionID, lockAgent, lockTimeout)
		if !lr.Locked {
			s.failRequest(requestID, sessionID, "", domain.ErrKindLockDenied,
				fmt.Errorf("conversation locked by %s", lr.Holder))
			return
		}
		lockAcquired = true
	}

	providerCfg, err := s.providers.Select(ports.SelectionCriteria{
		Model:           req.Model,
		RequireMCP:      req.RequiresMCP(),
		PreferStreaming: false,
	})
	if err != nil {
		s.failRequest(requestID, sessionID, "", domain.ErrKindNoAvailableProvider, err)
		return
	}

	s.emit("completion:progress", map[string]any{
		"request_id": requestID,
		"session_id": sessionID,
		"status":     "calling_provider",
		"provider":   providerCfg.Name,
	})

	client, ok := s.clients.Get(providerCfg.Name)
	if !ok {
		s.failRequest(requestID, sessionID, providerCfg.Name, domain.ErrKindProviderError,
			fmt.Errorf("no client registered for provider %s", providerCfg.Name))
		return
	}

	start := time.Now()
	payload, err := client.Complete(reqCtx, req)
	latency := time.Since(start)

	if err != nil {
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(reqCtx.Err(), context.Canceled):
			if s.active.MarkTerminal(requestID, domain.CompletionCancelled, "cancelled") {
				s.emit("completion:cancelled", map[string]any{"request_id": requestID})
			}
			return
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded):
			s.failRequest(requestID, sessionID, providerCfg.Name, domain.ErrKindTimeout,
				fmt.Errorf("provider call exceeded %s", timeout))
			return
		default:
			kind := domain.ErrKindTemporaryFailure
			var completionErr *domain.CompletionError
			if errors.As(err, &completionErr) {
				kind = completionErr.Kind
			}
			s.failRequest(requestID, sessionID, providerCfg.Name, kind, err)
			return
		}
	}

	s.providers.RecordSuccess(providerCfg.Name, latency)

	// The standardized response derives its session association from the
	// embedded raw payload; stamp it when the provider did not echo one
	if sessionID != "" {
		if _, exists := payload["session_id"]; !exists {
			payload["session_id"] = sessionID
		}
	}

	parsed := provider.Parse(providerCfg.Name, payload)
	standardized := parsed.ToStandardized(providerCfg.Name, requestID, req.OriginatorID, latency)

	if usage, ok := parsed.TokenUsage(req.Model, req.OriginatorID); ok {
		s.tokens.Record(usage)
	}

	if err := s.store.SaveResponse(ctx, standardized); err != nil {
		// A completed request stays completed even if its log line was not
		// persisted: retrying here would fork the conversation
		s.logger.Error("Failed to persist completion response",
			"request_id", requestID, "session_id", sessionID, "error", err)
		s.emit("completion:progress", map[string]any{
			"request_id": requestID,
			"session_id": sessionID,
			"status":     "persist_failed",
			"error":      string(domain.ErrKindIOError),
		})
	}

	resultPayload := standardizedToMap(standardized)

	if req.Injection != nil && req.Injection.Enabled && s.router.HasHandler("injection:process_result") {
		injected, injErr := s.router.Request(ctx, "injection:process_result", map[string]any{
			"request_id":         requestID,
			"result":             resultPayload,
			"injection_metadata": req.Injection.Metadata,
		})
		if injErr != nil {
			s.logger.Warn("Injection processing failed, using original result",
				"request_id", requestID, "error", injErr)
		} else if injected != nil {
			if modified, ok := injected["result"].(map[string]any); ok {
				resultPayload = modified
			}
		}
	}

	if s.active.MarkTerminal(requestID, domain.CompletionCompleted, "") {
		s.emit("completion:result", map[string]any{
			"request_id": requestID,
			"result":     resultPayload,
		})
	}
}

// failRequest moves a request to failed and emits its terminal events.
// Retryable kinds also emit completion:failed so the retry controller can act.
func (s *Service) failRequest(requestID, sessionID, providerName string, kind domain.ErrorKind, err error) {
	if providerName != "" {
		s.providers.RecordFailure(providerName, err)
	}

	if !s.active.MarkTerminal(requestID, domain.CompletionFailed, err.Error()) {
		return
	}

	s.logger.Warn("Completion failed",
		"request_id", requestID,
		"session_id", sessionID,
		"kind", string(kind),
		"error", err)

	errorData := map[string]any{
		"request_id": requestID,
		"error": map[string]any{
			"kind":    string(kind),
			"message": err.Error(),
		},
	}
	if sessionID != "" {
		errorData["session_id"] = sessionID
	}
	s.emit("completion:error", errorData)

	if kind.Retryable() {
		s.emit("completion:failed", map[string]any{
			"request_id": requestID,
			"reason":     string(kind),
			"message":    err.Error(),
		})
	}
}

// handleCancel serves completion:cancel. It returns without waiting for the
// cancelled task to unwind.
func (s *Service) handleCancel(ctx context.Context, data map[string]any) (map[string]any, error) {
	requestID := eventString(data, "request_id")
	if requestID == "" {
		return nil, errors.New("request_id is required")
	}

	ac, ok := s.active.Get(requestID)
	if !ok {
		return map[string]any{"request_id": requestID, "status": "unknown_request"}, nil
	}
	if ac.State.IsTerminal() {
		return map[string]any{"request_id": requestID, "status": "already_terminal"}, nil
	}

	if s.active.MarkTerminal(requestID, domain.CompletionCancelled, "cancelled") {
		s.emit("completion:cancelled", map[string]any{"request_id": requestID})
	}
	s.tasks.Cancel(requestID)

	return map[string]any{"request_id": requestID, "status": "cancelled"}, nil
}

// spawn runs fn inside the service task group, falling back to a plain
// goroutine when the service has not been started (tests)
func (s *Service) spawn(fn func(ctx context.Context)) {
	if s.group != nil {
		s.group.Go(func() error {
			fn(s.groupCtx)
			return nil
		})
		return
	}
	go fn(context.Background())
}

func standardizedToMap(r *domain.StandardizedResponse) map[string]any {
	out := map[string]any{
		"provider":    r.Provider,
		"request_id":  r.RequestID,
		"duration_ms": r.DurationMs,
		"timestamp":   r.Timestamp.Format(time.RFC3339Nano),
		"response":    r.Response,
	}
	if r.ClientID != "" {
		out["client_id"] = r.ClientID
	}
	return out
}

func eventString(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
