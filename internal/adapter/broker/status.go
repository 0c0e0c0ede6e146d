package broker

import (
	"context"
	"time"

	"github.com/thushan/ksid/internal/core/domain"
)

// handleStatus serves completion:status, the aggregated operator view
func (s *Service) handleStatus(ctx context.Context, data map[string]any) (map[string]any, error) {
	counts := s.active.CountByState()
	states := make(map[string]int, len(counts))
	for state, n := range counts {
		states[string(state)] = n
	}

	providers := make(map[string]any)
	for name, status := range s.providers.GetAllStatus() {
		providers[name] = providerStatusMap(status)
	}

	return map[string]any{
		"completions": map[string]any{
			"by_state": states,
			"total":    len(s.active.Snapshot()),
		},
		"queues": map[string]any{
			"depths": s.queues.QueueDepths(),
		},
		"sessions": map[string]any{
			"count": len(s.sessions.GetAllSessions()),
		},
		"providers": providers,
		"recovery": map[string]any{
			"pending": s.store.RecoveryCount(),
		},
		"tokens": s.tokens.Totals(),
	}, nil
}

// handleSessionStatus serves completion:session_status for one conversation
func (s *Service) handleSessionStatus(ctx context.Context, data map[string]any) (map[string]any, error) {
	sessionID := eventString(data, "session_id")
	if sessionID == "" {
		return map[string]any{"status": "invalid_request", "message": "session_id is required"}, nil
	}

	state, ok := s.sessions.GetSession(sessionID)
	if !ok {
		return map[string]any{
			"session_id": sessionID,
			"found":      false,
		}, nil
	}

	out := map[string]any{
		"session_id":    sessionID,
		"found":         true,
		"created_at":    state.CreatedAt.Format(time.RFC3339),
		"last_activity": state.LastActivity.Format(time.RFC3339),
		"request_count": state.RequestCount,
		"queue_depth":   s.queues.QueueDepth(sessionID),
	}
	if state.ActiveRequestID != "" {
		out["active_request_id"] = state.ActiveRequestID
	}
	if state.Lock.IsHeld(time.Now()) {
		out["lock"] = map[string]any{
			"held_by":    state.Lock.HeldBy,
			"expires_at": state.Lock.ExpiresAt.Format(time.RFC3339),
		}
	}
	return out, nil
}

// handleProviderStatus serves completion:provider_status; with a provider
// name it answers for that provider only
func (s *Service) handleProviderStatus(ctx context.Context, data map[string]any) (map[string]any, error) {
	if name := eventString(data, "provider"); name != "" {
		status, ok := s.providers.GetStatus(name)
		if !ok {
			return map[string]any{"provider": name, "found": false}, nil
		}
		out := providerStatusMap(status)
		out["provider"] = name
		out["found"] = true
		return out, nil
	}

	providers := make(map[string]any)
	for name, status := range s.providers.GetAllStatus() {
		providers[name] = providerStatusMap(status)
	}
	return map[string]any{"providers": providers}, nil
}

// handleTokenUsage serves completion:token_usage, scoped by agent_id or
// model when given, totals otherwise
func (s *Service) handleTokenUsage(ctx context.Context, data map[string]any) (map[string]any, error) {
	if agentID := eventString(data, "agent_id"); agentID != "" {
		return s.tokens.ForOriginator(agentID), nil
	}
	if model := eventString(data, "model"); model != "" {
		return s.tokens.ForModel(model), nil
	}
	return s.tokens.Totals(), nil
}

func providerStatusMap(status *domain.ProviderStatus) map[string]any {
	out := map[string]any{
		"breaker":            string(status.Breaker),
		"priority":           status.Config.Priority,
		"models":             status.Config.Models,
		"supports_mcp":       status.Config.SupportsMCP,
		"supports_streaming": status.Config.SupportsStreaming,
		"total_calls":        status.TotalCalls,
		"total_failures":     status.TotalFailures,
		"avg_latency_ms":     status.AverageLatencyMs(),
		"failures_in_window": status.FailureCount,
	}
	if status.OpenUntil != nil {
		out["open_until"] = status.OpenUntil.Format(time.RFC3339)
	}
	if status.LastSuccess != nil {
		out["last_success"] = status.LastSuccess.Format(time.RFC3339)
	}
	if status.LastError != "" {
		out["last_error"] = status.LastError
	}
	return out
}
