package store

import (
	"sort"
	"sync"
	"time"
)

const (
	// DefaultRecoveryCapacity bounds the in-memory recovery index
	DefaultRecoveryCapacity = 1000

	// evictionFraction of the oldest entries is dropped when the index fills
	evictionFraction = 10
)

type recoveryEntry struct {
	requestID string
	sessionID string
	original  map[string]any
	savedAt   time.Time
}

// recoveryIndex is a size-bounded map of in-flight request payloads.
// Eviction is by age, not LRU: when full, the oldest tenth goes.
type recoveryIndex struct {
	entries  map[string]*recoveryEntry
	capacity int
	mu       sync.RWMutex
}

func newRecoveryIndex(capacity int) *recoveryIndex {
	if capacity <= 0 {
		capacity = DefaultRecoveryCapacity
	}
	return &recoveryIndex{
		entries:  make(map[string]*recoveryEntry),
		capacity: capacity,
	}
}

func (r *recoveryIndex) Save(requestID, sessionID string, original map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) >= r.capacity {
		r.evictOldestLocked()
	}

	r.entries[requestID] = &recoveryEntry{
		requestID: requestID,
		sessionID: sessionID,
		original:  original,
		savedAt:   time.Now(),
	}
}

func (r *recoveryIndex) Get(requestID string) (map[string]any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[requestID]
	if !ok {
		return nil, false
	}
	return entry.original, true
}

func (r *recoveryIndex) Clear(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, requestID)
}

func (r *recoveryIndex) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *recoveryIndex) evictOldestLocked() {
	evictCount := r.capacity / evictionFraction
	if evictCount < 1 {
		evictCount = 1
	}

	oldest := make([]*recoveryEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		oldest = append(oldest, entry)
	}
	sort.Slice(oldest, func(i, j int) bool {
		return oldest[i].savedAt.Before(oldest[j].savedAt)
	})

	if evictCount > len(oldest) {
		evictCount = len(oldest)
	}
	for _, entry := range oldest[:evictCount] {
		delete(r.entries, entry.requestID)
	}
}
