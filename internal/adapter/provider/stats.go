package provider

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// providerStats tracks per-provider call counters on lock-free counters,
// with mutex-guarded access only for the error string
type providerStats struct {
	totalCalls     *xsync.Counter
	totalFailures  *xsync.Counter
	totalLatencyMs *xsync.Counter

	mu        sync.Mutex
	lastError string
}

func newProviderStats() *providerStats {
	return &providerStats{
		totalCalls:     xsync.NewCounter(),
		totalFailures:  xsync.NewCounter(),
		totalLatencyMs: xsync.NewCounter(),
	}
}

func (s *providerStats) recordSuccess(latency time.Duration) {
	s.totalCalls.Inc()
	s.totalLatencyMs.Add(latency.Milliseconds())
}

func (s *providerStats) recordFailure(err error) {
	s.totalCalls.Inc()
	s.totalFailures.Inc()

	if err != nil {
		s.mu.Lock()
		s.lastError = err.Error()
		s.mu.Unlock()
	}
}

func (s *providerStats) snapshot() (calls, failures, latencyMs int64, lastError string) {
	s.mu.Lock()
	lastError = s.lastError
	s.mu.Unlock()
	return s.totalCalls.Value(), s.totalFailures.Value(), s.totalLatencyMs.Value(), lastError
}
