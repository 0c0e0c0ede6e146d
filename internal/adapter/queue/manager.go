package queue

import (
	"context"
	"sync"
	"time"

	"github.com/thushan/ksid/internal/core/domain"
	"github.com/thushan/ksid/internal/core/ports"
	"github.com/thushan/ksid/internal/logger"
)

// DefaultDequeueTimeout bounds how long a dispatcher waits before checking
// whether its session has drained
const DefaultDequeueTimeout = 1 * time.Second

// sessionQueue is a FIFO of queued requests plus the dispatcher-active flag.
// The notify channel carries a wakeup token per enqueue so a blocked
// dispatcher observes new work without polling.
type sessionQueue struct {
	mu     sync.Mutex
	items  []ports.QueuedRequest
	notify chan struct{}
	active bool
}

// Manager serializes completion requests per session. Queues are created
// lazily on first use and destroyed once drained and inactive.
type Manager struct {
	queues         map[string]*sessionQueue
	dequeueTimeout time.Duration
	logger         *logger.StyledLogger
	mu             sync.Mutex
}

func NewManager(dequeueTimeout time.Duration, log *logger.StyledLogger) *Manager {
	if dequeueTimeout <= 0 {
		dequeueTimeout = DefaultDequeueTimeout
	}
	return &Manager{
		queues:         make(map[string]*sessionQueue),
		dequeueTimeout: dequeueTimeout,
		logger:         log,
	}
}

// Enqueue appends the request to its session's FIFO. The append happens
// under the manager lock so a queue being destroyed concurrently can never
// swallow the item.
func (m *Manager) Enqueue(sessionID, requestID string, data map[string]any) domain.QueueStatus {
	m.mu.Lock()
	q, ok := m.queues[sessionID]
	if !ok {
		q = &sessionQueue{
			notify: make(chan struct{}, 1),
		}
		m.queues[sessionID] = q
	}

	q.mu.Lock()
	q.items = append(q.items, ports.QueuedRequest{RequestID: requestID, Data: data})
	size := len(q.items)
	q.mu.Unlock()
	m.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}

	return domain.QueueStatus{Position: size, QueueSize: size}
}

// Dequeue pops the next request, blocking up to the dequeue timeout.
// A false result means the queue stayed empty for the whole wait.
func (m *Manager) Dequeue(ctx context.Context, sessionID string) (*ports.QueuedRequest, bool) {
	q := m.get(sessionID)
	if q == nil {
		return nil, false
	}

	deadline := time.NewTimer(m.dequeueTimeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return &item, true
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
			// re-check under the lock
		case <-deadline.C:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

// MarkActive claims the session's dispatcher slot. Exactly one dispatcher
// may drain a session at a time.
func (m *Manager) MarkActive(sessionID string) bool {
	q := m.getOrCreate(sessionID)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active {
		return false
	}
	q.active = true
	return true
}

// MarkInactiveIfEmpty releases the dispatcher slot only if the queue is
// still empty. The emptiness check and the release commit under one lock,
// so an enqueue racing a dispatcher exit cannot strand an item: either the
// item lands before the check (dispatcher keeps draining) or after the
// release (the next accept spawns a fresh dispatcher).
func (m *Manager) MarkInactiveIfEmpty(sessionID string) bool {
	q := m.get(sessionID)
	if q == nil {
		return true
	}

	q.mu.Lock()
	if len(q.items) > 0 {
		q.mu.Unlock()
		return false
	}
	q.active = false
	q.mu.Unlock()

	m.destroyIfIdle(sessionID)
	return true
}

// QueueDepth reports the number of queued requests for one session
func (m *Manager) QueueDepth(sessionID string) int {
	q := m.get(sessionID)
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// QueueDepths snapshots every live queue's depth
func (m *Manager) QueueDepths() map[string]int {
	m.mu.Lock()
	queues := make(map[string]*sessionQueue, len(m.queues))
	for id, q := range m.queues {
		queues[id] = q
	}
	m.mu.Unlock()

	out := make(map[string]int, len(queues))
	for id, q := range queues {
		q.mu.Lock()
		out[id] = len(q.items)
		q.mu.Unlock()
	}
	return out
}

func (m *Manager) get(sessionID string) *sessionQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queues[sessionID]
}

func (m *Manager) getOrCreate(sessionID string) *sessionQueue {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[sessionID]
	if !ok {
		q = &sessionQueue{
			notify: make(chan struct{}, 1),
		}
		m.queues[sessionID] = q
	}
	return q
}

// destroyIfIdle removes a drained, inactive queue from the map
func (m *Manager) destroyIfIdle(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[sessionID]
	if !ok {
		return
	}

	q.mu.Lock()
	idle := !q.active && len(q.items) == 0
	q.mu.Unlock()

	if idle {
		delete(m.queues, sessionID)
	}
}
