package config

import (
	"time"

	"github.com/thushan/ksid/internal/core/domain"
)

// Config holds all configuration for the daemon
type Config struct {
	Filename   string           `yaml:"-"`
	Logging    LoggingConfig    `yaml:"logging" mapstructure:"logging"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Completion CompletionConfig `yaml:"completion" mapstructure:"completion"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Breaker    BreakerConfig    `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`
	Sessions   SessionsConfig   `yaml:"sessions" mapstructure:"sessions"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Providers  []ProviderEntry  `yaml:"providers" mapstructure:"providers"`
}

// ServerConfig holds the unix socket event server configuration
type ServerConfig struct {
	SocketPath      string        `yaml:"socket_path" mapstructure:"socket_path"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	MaxLineBytes    int           `yaml:"max_line_bytes" mapstructure:"max_line_bytes"`
}

// CompletionConfig tunes the completion executor
type CompletionConfig struct {
	TimeoutDefault  time.Duration `yaml:"timeout_default" mapstructure:"timeout_default"`
	TimeoutMin      time.Duration `yaml:"timeout_min" mapstructure:"timeout_min"`
	TimeoutMax      time.Duration `yaml:"timeout_max" mapstructure:"timeout_max"`
	CleanupDelay    time.Duration `yaml:"cleanup_delay" mapstructure:"cleanup_delay"`
	DequeueTimeout  time.Duration `yaml:"dequeue_timeout" mapstructure:"dequeue_timeout"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
}

// RetryConfig tunes the retry controller backoff schedule
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialDelay      time.Duration `yaml:"initial_delay" mapstructure:"initial_delay"`
	MaxDelay          time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
}

// Policy converts the config section into the domain retry policy
func (r RetryConfig) Policy() domain.RetryPolicy {
	policy := domain.DefaultRetryPolicy()
	if r.MaxAttempts > 0 {
		policy.MaxAttempts = r.MaxAttempts
	}
	if r.InitialDelay > 0 {
		policy.InitialDelay = r.InitialDelay
	}
	if r.MaxDelay > 0 {
		policy.MaxDelay = r.MaxDelay
	}
	if r.BackoffMultiplier > 1 {
		policy.BackoffMultiplier = r.BackoffMultiplier
	}
	return policy
}

// BreakerConfig tunes the per-provider circuit breaker
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	TimeoutWindow    time.Duration `yaml:"timeout_window" mapstructure:"timeout_window"`
}

// SessionsConfig tunes session lifecycle maintenance
type SessionsConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	LockTimeout time.Duration `yaml:"lock_timeout" mapstructure:"lock_timeout"`
}

// StoreConfig holds response store paths and limits
type StoreConfig struct {
	ResponsesDir     string `yaml:"responses_dir" mapstructure:"responses_dir"`
	RecoveryCapacity int    `yaml:"recovery_capacity" mapstructure:"recovery_capacity"`
}

// ProviderEntry declares one backend provider
type ProviderEntry struct {
	Name              string         `yaml:"name" mapstructure:"name"`
	URL               string         `yaml:"url" mapstructure:"url"`
	APIKeyEnv         string         `yaml:"api_key_env" mapstructure:"api_key_env"`
	Models            []string       `yaml:"models" mapstructure:"models"`
	Priority          int            `yaml:"priority" mapstructure:"priority"`
	SupportsStreaming bool           `yaml:"supports_streaming" mapstructure:"supports_streaming"`
	SupportsMCP       bool           `yaml:"supports_mcp" mapstructure:"supports_mcp"`
	Extra             map[string]any `yaml:"extra" mapstructure:"extra"`
}

// Domain converts the entry into the registry's provider record
func (p ProviderEntry) Domain() domain.ProviderConfig {
	return domain.ProviderConfig{
		Name:              p.Name,
		Models:            p.Models,
		Priority:          p.Priority,
		SupportsStreaming: p.SupportsStreaming,
		SupportsMCP:       p.SupportsMCP,
		Extra:             p.Extra,
	}
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	Directory  string `yaml:"directory" mapstructure:"directory"`
	FileOutput bool   `yaml:"file_output" mapstructure:"file_output"`
}
