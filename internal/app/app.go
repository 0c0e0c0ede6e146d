package app

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/thushan/ksid/internal/adapter/broker"
	"github.com/thushan/ksid/internal/adapter/provider"
	"github.com/thushan/ksid/internal/adapter/queue"
	"github.com/thushan/ksid/internal/adapter/session"
	"github.com/thushan/ksid/internal/adapter/store"
	"github.com/thushan/ksid/internal/config"
	"github.com/thushan/ksid/internal/core/domain"
	"github.com/thushan/ksid/internal/core/ports"
	"github.com/thushan/ksid/internal/event"
	"github.com/thushan/ksid/internal/logger"
	"github.com/thushan/ksid/internal/transport"
	"github.com/thushan/ksid/internal/version"
)

// Application wires the daemon: config, event router, response store,
// provider registry, session and queue managers, the completion service
// and the socket transport
type Application struct {
	configMu  sync.RWMutex
	config    *config.Config
	logger    *logger.StyledLogger
	router    *event.Router
	store     *store.ResponseStore
	providers *provider.Registry
	clients   *provider.ClientRegistry
	sessions  *session.Manager
	queues    *queue.Manager
	service   *broker.Service
	server    *transport.Server

	startedAt time.Time
	shutdown  chan struct{}
}

// New creates the application. Configuration is loaded once here; hot
// reloads re-apply the provider catalog to the live registry and client
// set, while everything else stays as wired at construction.
func New(startedAt time.Time, log *logger.StyledLogger) (*Application, error) {
	app := &Application{
		logger:    log,
		startedAt: startedAt,
		shutdown:  make(chan struct{}),
	}

	cfg, err := config.Load(func(reloaded *config.Config) {
		app.setConfig(reloaded)
		app.applyProviderReload(reloaded)
		log.Info("Configuration reloaded", "file", reloaded.Filename,
			"providers", len(reloaded.Providers))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	app.setConfig(cfg)

	app.router = event.NewRouter(log)

	responseStore, err := store.NewResponseStore(cfg.Store.ResponsesDir, cfg.Store.RecoveryCapacity, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise response store: %w", err)
	}
	app.store = responseStore

	providerConfigs := make([]domain.ProviderConfig, 0, len(cfg.Providers))
	for _, entry := range cfg.Providers {
		providerConfigs = append(providerConfigs, entry.Domain())
	}

	app.providers = provider.NewRegistry(providerConfigs, provider.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		TimeoutWindow:    cfg.Breaker.TimeoutWindow,
	}, log)

	app.clients = provider.NewClientRegistry()
	for _, entry := range cfg.Providers {
		app.clients.Register(newProviderClient(entry, cfg.Completion.TimeoutMax))
	}

	app.sessions = session.NewManager(func(name string, data map[string]any) {
		app.router.Emit(context.Background(), name, data)
	}, log)

	app.queues = queue.NewManager(cfg.Completion.DequeueTimeout, log)

	app.service = broker.NewService(broker.Config{
		TimeoutDefault:  cfg.Completion.TimeoutDefault,
		TimeoutMin:      cfg.Completion.TimeoutMin,
		TimeoutMax:      cfg.Completion.TimeoutMax,
		CleanupDelay:    cfg.Completion.CleanupDelay,
		SessionIdle:     cfg.Sessions.IdleTimeout,
		CleanupInterval: cfg.Completion.CleanupInterval,
		Retry:           cfg.Retry.Policy(),
	}, app.router, app.store, app.providers, app.clients, app.sessions, app.queues, log)

	if err := app.service.RegisterHandlers(); err != nil {
		return nil, fmt.Errorf("failed to register completion handlers: %w", err)
	}
	if err := app.registerSystemHandlers(); err != nil {
		return nil, fmt.Errorf("failed to register system handlers: %w", err)
	}

	app.server = transport.NewServer(cfg.Server.SocketPath, cfg.Server.MaxLineBytes, app.router, log)

	return app, nil
}

// Start brings the completion service and socket transport up, then
// announces readiness on the event surface
func (a *Application) Start(ctx context.Context) error {
	a.service.Start(ctx)

	if err := a.server.Start(ctx); err != nil {
		return err
	}

	a.router.Emit(ctx, "system:ready", map[string]any{
		"service": version.Name,
		"version": version.Version,
		"socket":  a.getConfig().Server.SocketPath,
	})

	a.logger.Info("ksid started", "socket", a.getConfig().Server.SocketPath)
	return nil
}

// Stop shuts the transport down first so no new work arrives, then drains
// the completion service
func (a *Application) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.getConfig().Server.ShutdownTimeout)
	defer cancel()

	if err := a.server.Stop(shutdownCtx); err != nil {
		a.logger.Error("Failed to stop event socket", "error", err)
	}

	if err := a.service.Stop(shutdownCtx); err != nil {
		a.logger.Error("Failed to stop completion service", "error", err)
	}

	a.router.Shutdown()
	return nil
}

// ShutdownRequested closes when a client asks the daemon to exit via
// system:shutdown
func (a *Application) ShutdownRequested() <-chan struct{} {
	return a.shutdown
}

// registerSystemHandlers binds the daemon lifecycle surface
func (a *Application) registerSystemHandlers() error {
	handlers := map[string]event.Handler{
		"system:startup": func(ctx context.Context, data map[string]any) (map[string]any, error) {
			return map[string]any{
				"status":  "completion_service_ready",
				"service": version.Name,
				"version": version.Version,
				"pid":     os.Getpid(),
				"uptime":  time.Since(a.startedAt).String(),
			}, nil
		},
		"system:context": func(ctx context.Context, data map[string]any) (map[string]any, error) {
			cfg := a.getConfig()
			providers := make([]string, 0, len(cfg.Providers))
			for _, p := range cfg.Providers {
				providers = append(providers, p.Name)
			}
			return map[string]any{
				"service":       version.Name,
				"version":       version.Version,
				"socket":        cfg.Server.SocketPath,
				"responses_dir": cfg.Store.ResponsesDir,
				"providers":     providers,
			}, nil
		},
		"system:shutdown": func(ctx context.Context, data map[string]any) (map[string]any, error) {
			select {
			case <-a.shutdown:
			default:
				close(a.shutdown)
			}
			return map[string]any{"status": "shutting_down"}, nil
		},
	}

	for name, handler := range handlers {
		if err := a.router.Register(name, handler); err != nil {
			return err
		}
	}
	return nil
}

// applyProviderReload pushes a reloaded provider catalog into the live
// registry and client set. Breaker and stats state carries over for
// providers that survive the reload.
func (a *Application) applyProviderReload(cfg *config.Config) {
	if a.providers == nil || a.clients == nil {
		return
	}

	configs := make([]domain.ProviderConfig, 0, len(cfg.Providers))
	clients := make([]ports.ProviderClient, 0, len(cfg.Providers))
	for _, entry := range cfg.Providers {
		configs = append(configs, entry.Domain())
		clients = append(clients, newProviderClient(entry, cfg.Completion.TimeoutMax))
	}

	a.providers.Reload(configs, provider.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		TimeoutWindow:    cfg.Breaker.TimeoutWindow,
	})
	a.clients.Reload(clients)

	a.logger.Info("Provider catalog applied", "providers", len(configs))
}

func newProviderClient(entry config.ProviderEntry, timeout time.Duration) ports.ProviderClient {
	apiKey := ""
	if entry.APIKeyEnv != "" {
		apiKey = os.Getenv(entry.APIKeyEnv)
	}
	return provider.NewHTTPClient(entry.Name, entry.URL, apiKey, timeout)
}

func (a *Application) setConfig(cfg *config.Config) {
	a.configMu.Lock()
	a.config = cfg
	a.configMu.Unlock()
}

func (a *Application) getConfig() *config.Config {
	a.configMu.RLock()
	defer a.configMu.RUnlock()
	return a.config
}
