package provider

import (
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/thushan/ksid/internal/core/domain"
	"github.com/thushan/ksid/internal/core/ports"
	"github.com/thushan/ksid/internal/logger"
)

type providerEntry struct {
	config  domain.ProviderConfig
	breaker *circuitBreaker
	stats   *providerStats
}

// Registry is the catalog of backend providers. It routes (model, capability)
// pairs to a provider, gates each provider behind its own circuit breaker and
// keeps latency/failure stats for operator queries.
type Registry struct {
	providers  map[string]*providerEntry
	ordered    []string // catalog order, stable iteration
	modelCache *xsync.Map[string, string]
	logger     *logger.StyledLogger
	mu         sync.RWMutex
}

func NewRegistry(configs []domain.ProviderConfig, breakerCfg BreakerConfig, log *logger.StyledLogger) *Registry {
	r := &Registry{
		providers:  make(map[string]*providerEntry, len(configs)),
		modelCache: xsync.NewMap[string, string](),
		logger:     log,
	}

	for _, cfg := range configs {
		if cfg.Name == "" {
			continue
		}
		r.providers[cfg.Name] = &providerEntry{
			config:  cfg,
			breaker: newCircuitBreaker(breakerCfg),
			stats:   newProviderStats(),
		}
		r.ordered = append(r.ordered, cfg.Name)
	}

	return r
}

// Select resolves a provider for the request's model and capability needs.
// Providers with open breakers are skipped; candidates sort by priority
// ascending, streaming-preference matches first within equal priority.
func (r *Registry) Select(criteria ports.SelectionCriteria) (*domain.ProviderConfig, error) {
	now := time.Now()

	// Fast path: a previously resolved model mapping, valid while the
	// breaker stays shut and no MCP capability is demanded
	if !criteria.RequireMCP {
		if name, ok := r.modelCache.Load(criteria.Model); ok {
			r.mu.RLock()
			entry, exists := r.providers[name]
			r.mu.RUnlock()
			if exists && entry.breaker.State(now) == domain.BreakerClosed {
				cfg := entry.config
				return &cfg, nil
			}
			r.modelCache.Delete(criteria.Model)
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	type candidate struct {
		entry          *providerEntry
		streamingMatch bool
	}

	var candidates []candidate
	var circuitsOpen []string

	for _, name := range r.ordered {
		entry := r.providers[name]

		if criteria.RequireMCP && !entry.config.SupportsMCP {
			continue
		}
		if !entry.config.SupportsModel(criteria.Model) {
			continue
		}
		if !entry.breaker.Allows(now) {
			circuitsOpen = append(circuitsOpen, name)
			continue
		}

		candidates = append(candidates, candidate{
			entry:          entry,
			streamingMatch: criteria.PreferStreaming && entry.config.SupportsStreaming,
		})
	}

	if len(candidates) == 0 {
		return nil, &domain.ProviderSelectionError{
			Model:        criteria.Model,
			CircuitsOpen: circuitsOpen,
			RequireMCP:   criteria.RequireMCP,
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].entry.config.Priority != candidates[j].entry.config.Priority {
			return candidates[i].entry.config.Priority < candidates[j].entry.config.Priority
		}
		return candidates[i].streamingMatch && !candidates[j].streamingMatch
	})

	chosen := candidates[0].entry
	if !criteria.RequireMCP {
		r.modelCache.Store(criteria.Model, chosen.config.Name)
	}

	cfg := chosen.config
	return &cfg, nil
}

// Reload replaces the catalog with the given configs. Providers that survive
// the reload keep their breaker and stats state; removed providers are
// dropped and new ones start with a closed breaker. The model cache is
// invalidated so routing picks up catalog changes immediately.
func (r *Registry) Reload(configs []domain.ProviderConfig, breakerCfg BreakerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]*providerEntry, len(configs))
	ordered := make([]string, 0, len(configs))

	for _, cfg := range configs {
		if cfg.Name == "" {
			continue
		}
		if prev, ok := r.providers[cfg.Name]; ok {
			prev.config = cfg
			next[cfg.Name] = prev
		} else {
			next[cfg.Name] = &providerEntry{
				config:  cfg,
				breaker: newCircuitBreaker(breakerCfg),
				stats:   newProviderStats(),
			}
		}
		ordered = append(ordered, cfg.Name)
	}

	r.providers = next
	r.ordered = ordered
	r.modelCache.Clear()
}

// RecordSuccess closes the provider's breaker and updates call stats
func (r *Registry) RecordSuccess(name string, latency time.Duration) {
	r.mu.RLock()
	entry, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return
	}

	entry.breaker.RecordSuccess(time.Now())
	entry.stats.recordSuccess(latency)
}

// RecordFailure notes a provider failure and may trip its breaker
func (r *Registry) RecordFailure(name string, err error) {
	r.mu.RLock()
	entry, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return
	}

	entry.stats.recordFailure(err)
	if entry.breaker.RecordFailure(time.Now()) {
		r.logger.InfoBreakerState("Circuit breaker tripped for", name, string(domain.BreakerOpen),
			"window", r.windowFor(entry))
	}
}

// GetStatus returns config, breaker state and aggregate stats for one provider
func (r *Registry) GetStatus(name string) (*domain.ProviderStatus, bool) {
	r.mu.RLock()
	entry, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return r.statusFor(entry), true
}

// GetAllStatus returns status for every catalogued provider
func (r *Registry) GetAllStatus() map[string]*domain.ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*domain.ProviderStatus, len(r.providers))
	for name, entry := range r.providers {
		out[name] = r.statusFor(entry)
	}
	return out
}

// Names returns the catalog order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.ordered))
	copy(names, r.ordered)
	return names
}

func (r *Registry) statusFor(entry *providerEntry) *domain.ProviderStatus {
	now := time.Now()
	state, openUntil, failureCount, lastSuccess := entry.breaker.Snapshot(now)
	calls, failures, latencyMs, lastError := entry.stats.snapshot()

	return &domain.ProviderStatus{
		Config:         entry.config,
		Breaker:        state,
		OpenUntil:      openUntil,
		FailureCount:   failureCount,
		TotalCalls:     calls,
		TotalFailures:  failures,
		TotalLatencyMs: latencyMs,
		LastSuccess:    lastSuccess,
		LastError:      lastError,
	}
}

func (r *Registry) windowFor(entry *providerEntry) time.Duration {
	return entry.breaker.timeoutWindow
}
