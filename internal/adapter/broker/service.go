package broker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thushan/ksid/internal/adapter/provider"
	"github.com/thushan/ksid/internal/core/domain"
	"github.com/thushan/ksid/internal/core/ports"
	"github.com/thushan/ksid/internal/event"
	"github.com/thushan/ksid/internal/logger"
	"github.com/thushan/ksid/internal/version"
)

const (
	DefaultTimeout = 300 * time.Second
	MinTimeout     = 60 * time.Second
	MaxTimeout     = 1800 * time.Second

	DefaultSessionIdle     = 60 * time.Minute
	DefaultCleanupInterval = 5 * time.Minute
)

// Config tunes the completion service
type Config struct {
	TimeoutDefault  time.Duration
	TimeoutMin      time.Duration
	TimeoutMax      time.Duration
	CleanupDelay    time.Duration
	SessionIdle     time.Duration
	CleanupInterval time.Duration
	Retry           domain.RetryPolicy
}

func DefaultServiceConfig() Config {
	return Config{
		TimeoutDefault:  DefaultTimeout,
		TimeoutMin:      MinTimeout,
		TimeoutMax:      MaxTimeout,
		CleanupDelay:    DefaultCleanupDelay,
		SessionIdle:     DefaultSessionIdle,
		CleanupInterval: DefaultCleanupInterval,
		Retry:           domain.DefaultRetryPolicy(),
	}
}

// Service is the completion broker: it accepts completion:async events,
// serializes them per conversation, selects providers, executes calls,
// persists standardized responses and drives retries. All state lives on
// the Service; there are no package-level singletons.
type Service struct {
	cfg       Config
	router    *event.Router
	store     ports.ResponseStore
	providers ports.ProviderRegistry
	clients   *provider.ClientRegistry
	sessions  ports.SessionManager
	queues    ports.QueueManager
	logger    *logger.StyledLogger

	active *activeTracker
	tasks  *taskRegistry
	retry  *retryController
	tokens *tokenCollector

	group     *errgroup.Group
	groupCtx  context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewService(
	cfg Config,
	router *event.Router,
	store ports.ResponseStore,
	providers ports.ProviderRegistry,
	clients *provider.ClientRegistry,
	sessions ports.SessionManager,
	queues ports.QueueManager,
	log *logger.StyledLogger,
) *Service {
	if cfg.TimeoutDefault <= 0 {
		cfg.TimeoutDefault = DefaultTimeout
	}
	if cfg.TimeoutMin <= 0 {
		cfg.TimeoutMin = MinTimeout
	}
	if cfg.TimeoutMax <= 0 {
		cfg.TimeoutMax = MaxTimeout
	}
	if cfg.SessionIdle <= 0 {
		cfg.SessionIdle = DefaultSessionIdle
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = domain.DefaultRetryPolicy()
	}

	s := &Service{
		cfg:       cfg,
		router:    router,
		store:     store,
		providers: providers,
		clients:   clients,
		sessions:  sessions,
		queues:    queues,
		logger:    log,
		active:    newActiveTracker(cfg.CleanupDelay),
		tasks:     newTaskRegistry(),
		tokens:    newTokenCollector(),
	}
	s.retry = newRetryController(s, cfg.Retry)
	return s
}

// RegisterHandlers binds every event this service consumes. Registration is
// explicit so the handler set is statically knowable.
func (s *Service) RegisterHandlers() error {
	handlers := map[string]event.Handler{
		"completion:async":           s.handleAsync,
		"completion:cancel":          s.handleCancel,
		"completion:status":          s.handleStatus,
		"completion:session_status":  s.handleSessionStatus,
		"completion:provider_status": s.handleProviderStatus,
		"completion:token_usage":     s.handleTokenUsage,
		"completion:retry_status":    s.retry.handleRetryStatus,
		"completion:failed":          s.retry.handleFailed,
		"checkpoint:collect":         s.handleCheckpointCollect,
		"checkpoint:restore":         s.handleCheckpointRestore,
	}

	for name, handler := range handlers {
		if err := s.router.Register(name, handler); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the service task group and the maintenance loop
func (s *Service) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		groupCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.group, s.groupCtx = errgroup.WithContext(groupCtx)

		s.group.Go(func() error {
			s.maintenanceLoop(s.groupCtx)
			return nil
		})

		s.logger.Info("Completion service ready", "version", version.Version)
	})
}

// Stop cancels every in-flight task, waits for the group and emits a
// completion:cancelled for each non-terminal request
func (s *Service) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.retry.shutdown()

		for _, ac := range s.active.NonTerminal() {
			if s.active.MarkTerminal(ac.RequestID, domain.CompletionCancelled, "shutdown") {
				s.tasks.Cancel(ac.RequestID)
				s.emit("completion:cancelled", map[string]any{
					"request_id": ac.RequestID,
				})
			}
		}

		if s.cancel != nil {
			s.cancel()
		}

		if s.group != nil {
			done := make(chan error, 1)
			go func() { done <- s.group.Wait() }()
			select {
			case err = <-done:
			case <-ctx.Done():
				err = ctx.Err()
			}
		}
	})
	return err
}

// maintenanceLoop sweeps expired locks and idle sessions on a fixed cadence
func (s *Service) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sessions.CleanupExpiredLocks()
			s.sessions.CleanupInactiveSessions(s.cfg.SessionIdle)
		}
	}
}

// emit publishes an event through the router, fire-and-forget
func (s *Service) emit(name string, data map[string]any) {
	ctx := context.Background()
	if s.groupCtx != nil {
		ctx = context.WithoutCancel(s.groupCtx)
	}
	s.router.Emit(ctx, name, data)
}

// clampTimeout applies the request timeout bounded by service limits
func (s *Service) clampTimeout(requestTimeout time.Duration) time.Duration {
	if requestTimeout <= 0 {
		return s.cfg.TimeoutDefault
	}
	if requestTimeout < s.cfg.TimeoutMin {
		return s.cfg.TimeoutMin
	}
	if requestTimeout > s.cfg.TimeoutMax {
		return s.cfg.TimeoutMax
	}
	return requestTimeout
}

// taskRegistry maps request ids to cancel functions so completion:cancel can
// target a running task by handle rather than by search
type taskRegistry struct {
	cancels map[string]context.CancelFunc
	mu      sync.Mutex
}

func newTaskRegistry() *taskRegistry {
	return &taskRegistry{
		cancels: make(map[string]context.CancelFunc),
	}
}

func (t *taskRegistry) Register(requestID string, cancel context.CancelFunc) {
	t.mu.Lock()
	t.cancels[requestID] = cancel
	t.mu.Unlock()
}

func (t *taskRegistry) Unregister(requestID string) {
	t.mu.Lock()
	delete(t.cancels, requestID)
	t.mu.Unlock()
}

// Cancel invokes the registered cancel func; returns false when no task is
// registered for the request (e.g. still queued)
func (t *taskRegistry) Cancel(requestID string) bool {
	t.mu.Lock()
	cancel, ok := t.cancels[requestID]
	t.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}
