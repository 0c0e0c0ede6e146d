package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/thushan/ksid/internal/logger"
)

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRouter(logger.NewPlain())

	handler := func(ctx context.Context, data map[string]any) (map[string]any, error) {
		return nil, nil
	}

	if err := r.Register("completion:async", handler); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	if err := r.Register("completion:async", handler); err == nil {
		t.Error("expected duplicate registration to fail")
	}
	if err := r.Register("", handler); err == nil {
		t.Error("expected empty event name to fail")
	}
	if err := r.Register("completion:other", nil); err == nil {
		t.Error("expected nil handler to fail")
	}
}

func TestDispatchReturnsHandlerResponse(t *testing.T) {
	r := NewRouter(logger.NewPlain())

	err := r.Register("completion:status", func(ctx context.Context, data map[string]any) (map[string]any, error) {
		return map[string]any{"status": "ok", "echo": data["ping"]}, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := r.Dispatch(context.Background(), "completion:status", map[string]any{"ping": "pong"})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if resp["status"] != "ok" || resp["echo"] != "pong" {
		t.Errorf("unexpected response: %v", resp)
	}
}

func TestDispatchUnknownEventFails(t *testing.T) {
	r := NewRouter(logger.NewPlain())

	if _, err := r.Dispatch(context.Background(), "no:such", nil); err == nil {
		t.Error("expected dispatch of unregistered event to fail")
	}
}

func TestEmitSwallowsHandlerErrors(t *testing.T) {
	r := NewRouter(logger.NewPlain())

	called := false
	err := r.Register("completion:failed", func(ctx context.Context, data map[string]any) (map[string]any, error) {
		called = true
		return nil, errors.New("handler exploded")
	})
	if err != nil {
		t.Fatal(err)
	}

	// Must not panic or propagate
	r.Emit(context.Background(), "completion:failed", nil)
	if !called {
		t.Error("expected the handler to run")
	}

	// No handler at all is fine too
	r.Emit(context.Background(), "completion:progress", nil)
}

func TestMonitorReceivesAllEvents(t *testing.T) {
	r := NewRouter(logger.NewPlain())
	defer r.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed, cleanup := r.Subscribe(ctx)
	defer cleanup()

	// Unhandled events still reach monitors
	r.Emit(context.Background(), "completion:result", map[string]any{"request_id": "req-1"})

	select {
	case envelope := <-feed:
		if envelope.Name != "completion:result" {
			t.Errorf("expected completion:result, got %s", envelope.Name)
		}
		if envelope.Data["request_id"] != "req-1" {
			t.Errorf("expected payload to carry through, got %v", envelope.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("monitor never received the event")
	}
}

func TestHasHandler(t *testing.T) {
	r := NewRouter(logger.NewPlain())

	if r.HasHandler("injection:process_result") {
		t.Error("expected no handler before registration")
	}

	err := r.Register("injection:process_result", func(ctx context.Context, data map[string]any) (map[string]any, error) {
		return data, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !r.HasHandler("injection:process_result") {
		t.Error("expected handler after registration")
	}
}
