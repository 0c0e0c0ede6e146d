package ports

import (
	"context"
	"time"

	"github.com/thushan/ksid/internal/core/domain"
)

// SelectionCriteria narrows provider selection for one request
type SelectionCriteria struct {
	Model           string
	RequireMCP      bool
	PreferStreaming bool
}

// ProviderRegistry maps a model and capability requirements to a concrete
// provider and tracks per-provider health
type ProviderRegistry interface {
	Select(criteria SelectionCriteria) (*domain.ProviderConfig, error)
	RecordSuccess(name string, latency time.Duration)
	RecordFailure(name string, err error)
	GetStatus(name string) (*domain.ProviderStatus, bool)
	GetAllStatus() map[string]*domain.ProviderStatus
}

// ProviderClient executes one completion against a backend provider.
// The returned payload is the provider's raw response body.
type ProviderClient interface {
	Name() string
	Complete(ctx context.Context, request *domain.CompletionRequest) (map[string]any, error)
}
