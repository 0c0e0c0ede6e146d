package ports

import (
	"context"

	"github.com/thushan/ksid/internal/core/domain"
)

// ResponseStore is the durable, append-only record of standardized responses
// plus the volatile recovery index for in-flight requests
type ResponseStore interface {
	// SaveResponse appends the response to its session's JSONL log.
	// Responses with no derivable session are logged and dropped.
	SaveResponse(ctx context.Context, response *domain.StandardizedResponse) error

	// SaveRecovery remembers the original payload so a retry can be rebuilt
	SaveRecovery(requestID, sessionID string, original map[string]any)
	GetRecovery(requestID string) (map[string]any, bool)
	ClearRecovery(requestID string)

	// RecoveryCount reports how many in-flight payloads are indexed
	RecoveryCount() int
}
