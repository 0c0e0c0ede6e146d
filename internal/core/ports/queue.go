package ports

import (
	"context"

	"github.com/thushan/ksid/internal/core/domain"
)

// QueuedRequest is one enqueued (request_id, payload) pair
type QueuedRequest struct {
	RequestID string
	Data      map[string]any
}

// QueueManager serializes completion requests for the same session and fans
// out concurrent requests for distinct sessions
type QueueManager interface {
	Enqueue(sessionID, requestID string, data map[string]any) domain.QueueStatus

	// Dequeue blocks until an item arrives, the timeout passes or ctx is done
	Dequeue(ctx context.Context, sessionID string) (*QueuedRequest, bool)

	// MarkActive claims the session's dispatcher slot; false means one is running
	MarkActive(sessionID string) bool

	// MarkInactiveIfEmpty releases the slot only if the queue drained; the
	// emptiness check and the release are one atomic step
	MarkInactiveIfEmpty(sessionID string) bool

	QueueDepth(sessionID string) int
	QueueDepths() map[string]int
}
