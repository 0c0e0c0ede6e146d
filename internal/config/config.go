package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultSocketPath   = "/tmp/ksid.sock"
	DefaultResponsesDir = "./responses"
)

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			SocketPath:      DefaultSocketPath,
			ShutdownTimeout: 10 * time.Second,
			MaxLineBytes:    16 << 20,
		},
		Completion: CompletionConfig{
			TimeoutDefault:  300 * time.Second,
			TimeoutMin:      60 * time.Second,
			TimeoutMax:      1800 * time.Second,
			CleanupDelay:    60 * time.Second,
			DequeueTimeout:  1 * time.Second,
			CleanupInterval: 5 * time.Minute,
		},
		Retry: RetryConfig{
			MaxAttempts:       3,
			InitialDelay:      2 * time.Second,
			MaxDelay:          60 * time.Second,
			BackoffMultiplier: 2.0,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			TimeoutWindow:    5 * time.Minute,
		},
		Sessions: SessionsConfig{
			IdleTimeout: 60 * time.Minute,
			LockTimeout: 5 * time.Minute,
		},
		Store: StoreConfig{
			ResponsesDir:     DefaultResponsesDir,
			RecoveryCapacity: 1000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Directory:  "./logs",
			FileOutput: true,
		},
		Providers: []ProviderEntry{
			{
				Name:     "litellm",
				URL:      "http://localhost:4000",
				Models:   []string{"*"},
				Priority: 100,
			},
		},
	}
}

// Load reads configuration from file and environment variables. When
// onReload is non-nil the config file is watched and reloads invoke it
// with the freshly parsed configuration.
func Load(onReload func(*Config)) (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigName("ksid")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("KSI")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine, defaults plus env apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv("KSI_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	config.Filename = viper.ConfigFileUsed()

	if onReload != nil {
		viper.OnConfigChange(func(_ fsnotify.Event) {
			reloaded := DefaultConfig()
			if err := viper.Unmarshal(reloaded); err != nil {
				return
			}
			reloaded.Filename = viper.ConfigFileUsed()
			onReload(reloaded)
		})
		viper.WatchConfig()
	}

	return config, nil
}
