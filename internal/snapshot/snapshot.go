// Package snapshot keeps the best-effort payment status echo served by the
// relay's status endpoint. It is never authoritative: the payments table is.
package snapshot

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Entry is what the status endpoint returns under payment_status.
type Entry struct {
	Status            string          `json:"status"`
	Details           string          `json:"details,omitempty"`
	CheckoutRequestID *string         `json:"checkoutRequestID,omitempty"`
	ResultCode        string          `json:"result_code,omitempty"`
	ResultDesc        string          `json:"result_desc,omitempty"`
	FullCallback      json.RawMessage `json:"full_callback,omitempty"`
}

type Store interface {
	Put(ctx context.Context, reference string, entry Entry) error
	// Get reports ok=false when there is no live entry for reference.
	Get(ctx context.Context, reference string) (entry Entry, ok bool, err error)
}

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryStore is a process-local TTL map. Entries are lost on restart and are
// not shared between relay instances.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.RWMutex
	items map[string]memoryEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, items: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Put(_ context.Context, reference string, entry Entry) error {
	var expiresAt time.Time
	if s.ttl > 0 {
		expiresAt = s.now().Add(s.ttl)
	}

	s.mu.Lock()
	s.evictExpired()
	s.items[reference] = memoryEntry{entry: entry, expiresAt: expiresAt}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, reference string) (Entry, bool, error) {
	s.mu.RLock()
	item, ok := s.items[reference]
	s.mu.RUnlock()

	if !ok || s.expired(item) {
		return Entry{}, false, nil
	}
	return item.entry, true, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// evictExpired must be called with mu held.
func (s *MemoryStore) evictExpired() {
	for ref, item := range s.items {
		if s.expired(item) {
			delete(s.items, ref)
		}
	}
}

func (s *MemoryStore) expired(item memoryEntry) bool {
	return !item.expiresAt.IsZero() && !s.now().Before(item.expiresAt)
}
