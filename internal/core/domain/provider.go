package domain

import (
	"strings"
	"time"
)

const (
	// WildcardModel in a provider's model list matches any model identifier
	WildcardModel = "*"

	// ClaudeCLIProvider gets special routing: it accepts any claude- model
	ClaudeCLIProvider = "claude-cli"
	claudeModelPrefix = "claude-"
)

// ProviderConfig is the declarative record for one backend provider
type ProviderConfig struct {
	Name              string         `json:"name" yaml:"name" mapstructure:"name"`
	Models            []string       `json:"models" yaml:"models" mapstructure:"models"`
	Priority          int            `json:"priority" yaml:"priority" mapstructure:"priority"`
	SupportsStreaming bool           `json:"supports_streaming" yaml:"supports_streaming" mapstructure:"supports_streaming"`
	SupportsMCP       bool           `json:"supports_mcp" yaml:"supports_mcp" mapstructure:"supports_mcp"`
	Extra             map[string]any `json:"extra,omitempty" yaml:"extra" mapstructure:"extra"`
}

// SupportsModel reports whether the provider can serve the given model
func (p *ProviderConfig) SupportsModel(model string) bool {
	if p.Name == ClaudeCLIProvider && strings.HasPrefix(model, claudeModelPrefix) {
		return true
	}
	for _, m := range p.Models {
		if m == WildcardModel || m == model {
			return true
		}
	}
	return false
}

// BreakerState is the logical circuit breaker state for operator queries
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// ProviderStatus aggregates config, breaker state and call stats for one provider
type ProviderStatus struct {
	Config         ProviderConfig `json:"config"`
	Breaker        BreakerState   `json:"breaker"`
	OpenUntil      *time.Time     `json:"open_until,omitempty"`
	FailureCount   int            `json:"failures_in_window"`
	TotalCalls     int64          `json:"total_calls"`
	TotalFailures  int64          `json:"total_failures"`
	TotalLatencyMs int64          `json:"total_latency_ms"`
	LastSuccess    *time.Time     `json:"last_success,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
}

// AverageLatencyMs returns mean call latency, zero when no calls were made
func (s *ProviderStatus) AverageLatencyMs() int64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return s.TotalLatencyMs / s.TotalCalls
}
