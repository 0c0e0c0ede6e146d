package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thushan/ksid/internal/core/domain"
)

func TestCheckpointCollectSnapshot(t *testing.T) {
	h := newHarness(t, testConfig(), func(ctx context.Context, req *domain.CompletionRequest) (map[string]any, error) {
		return okResponse(req.SessionID), nil
	})
	defer h.done()

	h.service.active.Insert("req-1", "sess-1", map[string]any{"model": "gpt-4o"})
	h.service.active.Insert("req-2", "", map[string]any{"model": "gpt-4o"})
	h.service.active.MarkTerminal("req-2", domain.CompletionCompleted, "")
	h.service.queues.Enqueue("sess-1", "req-1", map[string]any{"model": "gpt-4o"})

	snapshot, err := h.router.Dispatch(context.Background(), "checkpoint:collect", nil)
	require.NoError(t, err)

	completions := snapshot["active_completions"].(map[string]any)
	require.Len(t, completions, 2)

	entry := completions["req-1"].(map[string]any)
	assert.Equal(t, "queued", entry["state"])
	assert.Equal(t, "sess-1", entry["session_id"])
	assert.NotNil(t, entry["original_event_data"])

	depths := snapshot["session_queues"].(map[string]int)
	assert.Equal(t, 1, depths["sess-1"])
}

func TestCheckpointRestoreResubmitsInFlightWork(t *testing.T) {
	cfg := testConfig()

	h := newHarness(t, cfg, func(ctx context.Context, req *domain.CompletionRequest) (map[string]any, error) {
		return okResponse(req.SessionID), nil
	})
	defer h.done()

	resp, err := h.router.Dispatch(context.Background(), "checkpoint:restore", map[string]any{
		"active_completions": map[string]any{
			"req-interrupted": map[string]any{
				"state":               "processing",
				"session_id":          "sess-1",
				"original_event_data": map[string]any{"model": "gpt-4o", "prompt": "resume"},
			},
			"req-done": map[string]any{
				"state": "completed",
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp["restored"])

	// Both snapshots land in the tracker. The interrupted one is failed
	// terminally so the cleanup timer applies and status queries do not
	// report it as in flight for the rest of the daemon's life.
	interrupted, ok := h.service.active.Get("req-interrupted")
	require.True(t, ok)
	assert.Equal(t, domain.CompletionFailed, interrupted.State)
	assert.Equal(t, "daemon_restart", interrupted.Error)

	done, ok := h.service.active.Get("req-done")
	require.True(t, ok)
	assert.Equal(t, domain.CompletionCompleted, done.State)

	assert.Empty(t, h.service.active.NonTerminal())

	// Only the in-flight one was routed through the retry controller
	status, err := h.router.Dispatch(context.Background(), "completion:retry_status", nil)
	require.NoError(t, err)
	retrying := status["retrying_requests"].([]map[string]any)
	require.Len(t, retrying, 1)
	assert.Equal(t, "daemon_restart", retrying[0]["last_error_kind"])
}

func TestCheckpointRestoreEmpty(t *testing.T) {
	h := newHarness(t, testConfig(), func(ctx context.Context, req *domain.CompletionRequest) (map[string]any, error) {
		return okResponse(""), nil
	})
	defer h.done()

	resp, err := h.router.Dispatch(context.Background(), "checkpoint:restore", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 0, resp["restored"])
}
