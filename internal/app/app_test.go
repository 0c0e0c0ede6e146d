package app

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/thushan/ksid/internal/adapter/provider"
	"github.com/thushan/ksid/internal/config"
	"github.com/thushan/ksid/internal/event"
	"github.com/thushan/ksid/internal/logger"
)

func newTestApplication(t *testing.T) *Application {
	t.Helper()

	log := logger.NewPlain()
	app := &Application{
		logger:    log,
		startedAt: time.Now(),
		shutdown:  make(chan struct{}),
	}
	app.setConfig(config.DefaultConfig())
	app.router = event.NewRouter(log)
	if err := app.registerSystemHandlers(); err != nil {
		t.Fatalf("failed to register system handlers: %v", err)
	}
	return app
}

func TestSystemStartupReportsServiceReady(t *testing.T) {
	app := newTestApplication(t)
	defer app.router.Shutdown()

	resp, err := app.router.Dispatch(context.Background(), "system:startup", nil)
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}

	if resp["status"] != "completion_service_ready" {
		t.Errorf("expected completion_service_ready, got %v", resp["status"])
	}
	if resp["pid"] != os.Getpid() {
		t.Errorf("expected current pid, got %v", resp["pid"])
	}
	if resp["service"] == "" || resp["version"] == "" {
		t.Errorf("expected service identity fields, got %v", resp)
	}
}

func TestSystemShutdownClosesChannelOnce(t *testing.T) {
	app := newTestApplication(t)
	defer app.router.Shutdown()

	resp, err := app.router.Dispatch(context.Background(), "system:shutdown", nil)
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}
	if resp["status"] != "shutting_down" {
		t.Errorf("expected shutting_down, got %v", resp["status"])
	}

	select {
	case <-app.ShutdownRequested():
	default:
		t.Fatal("expected the shutdown channel to be closed")
	}

	// A second request must not panic on the closed channel
	if _, err := app.router.Dispatch(context.Background(), "system:shutdown", nil); err != nil {
		t.Fatalf("repeated shutdown request failed: %v", err)
	}
}

func TestApplyProviderReloadUpdatesCatalogAndClients(t *testing.T) {
	app := newTestApplication(t)
	defer app.router.Shutdown()

	cfg := config.DefaultConfig()
	app.providers = provider.NewRegistry(nil, provider.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		TimeoutWindow:    cfg.Breaker.TimeoutWindow,
	}, app.logger)
	app.clients = provider.NewClientRegistry()

	app.applyProviderReload(cfg)

	if _, ok := app.providers.GetStatus("litellm"); !ok {
		t.Fatal("expected the stock provider after the initial apply")
	}
	if _, ok := app.clients.Get("litellm"); !ok {
		t.Fatal("expected a client for the stock provider")
	}

	reloaded := config.DefaultConfig()
	reloaded.Providers = []config.ProviderEntry{
		{Name: "groq", URL: "http://localhost:9999", Models: []string{"llama-3-70b"}, Priority: 20},
	}
	app.applyProviderReload(reloaded)

	if _, ok := app.providers.GetStatus("litellm"); ok {
		t.Error("expected the removed provider to leave the registry")
	}
	if _, ok := app.providers.GetStatus("groq"); !ok {
		t.Error("expected the reloaded provider in the registry")
	}
	if _, ok := app.clients.Get("groq"); !ok {
		t.Error("expected a client for the reloaded provider")
	}
	if _, ok := app.clients.Get("litellm"); ok {
		t.Error("expected the removed provider's client to be dropped")
	}
}
