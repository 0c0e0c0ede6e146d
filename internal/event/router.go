package event

import (
	"context"
	"fmt"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/thushan/ksid/internal/logger"
	"github.com/thushan/ksid/pkg/eventbus"
)

// Handler processes one named event. A nil response map means "no reply".
type Handler func(ctx context.Context, data map[string]any) (map[string]any, error)

// Envelope is the broadcast form of an event, delivered to monitor subscribers
type Envelope struct {
	Name string         `json:"event"`
	Data map[string]any `json:"data"`
}

// Router dispatches named events to explicitly registered handlers and
// mirrors every event onto a broadcast bus for monitors. Registration is
// explicit so the handler set is statically knowable.
type Router struct {
	handlers *xsync.Map[string, Handler]
	monitor  *eventbus.Bus[Envelope]
	logger   *logger.StyledLogger
}

func NewRouter(log *logger.StyledLogger) *Router {
	return &Router{
		handlers: xsync.NewMap[string, Handler](),
		monitor:  eventbus.New[Envelope](),
		logger:   log,
	}
}

// Register binds a handler to an event name. Double registration is a
// wiring bug and fails loudly.
func (r *Router) Register(name string, handler Handler) error {
	if name == "" {
		return fmt.Errorf("event name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler for %s cannot be nil", name)
	}
	if _, loaded := r.handlers.LoadOrStore(name, handler); loaded {
		return fmt.Errorf("handler already registered for %s", name)
	}
	return nil
}

// Dispatch invokes the handler for name and returns its response.
// The event is mirrored to monitors regardless of handler outcome.
func (r *Router) Dispatch(ctx context.Context, name string, data map[string]any) (map[string]any, error) {
	r.monitor.Publish(Envelope{Name: name, Data: data})

	handler, ok := r.handlers.Load(name)
	if !ok {
		return nil, fmt.Errorf("no handler registered for %s", name)
	}
	return handler(ctx, data)
}

// Emit is fire-and-forget dispatch: handler errors are logged, never returned.
// Events with no handler are still broadcast to monitors.
func (r *Router) Emit(ctx context.Context, name string, data map[string]any) {
	r.monitor.Publish(Envelope{Name: name, Data: data})

	handler, ok := r.handlers.Load(name)
	if !ok {
		return
	}
	if _, err := handler(ctx, data); err != nil {
		r.logger.Warn("event handler failed", "event", name, "error", err)
	}
}

// Request dispatches and expects the handler's response; unlike Emit the
// caller observes errors. Used for request-response contracts such as
// injection:process_result.
func (r *Router) Request(ctx context.Context, name string, data map[string]any) (map[string]any, error) {
	return r.Dispatch(ctx, name, data)
}

// HasHandler reports whether an event name is bound
func (r *Router) HasHandler(name string) bool {
	_, ok := r.handlers.Load(name)
	return ok
}

// Subscribe attaches a monitor that receives every event envelope
func (r *Router) Subscribe(ctx context.Context) (<-chan Envelope, func()) {
	return r.monitor.Subscribe(ctx)
}

// MonitorStats exposes the broadcast bus statistics
func (r *Router) MonitorStats() eventbus.Stats {
	return r.monitor.Stats()
}

// Shutdown stops the monitor bus
func (r *Router) Shutdown() {
	r.monitor.Shutdown()
}
