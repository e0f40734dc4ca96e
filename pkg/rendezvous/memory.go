package rendezvous

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// MemoryStore is an in-process Store for tests and single-node deployments.
// Entries expire lazily on read; the bridge's periodic sweep handles the
// rest. Safe for concurrent use.
type MemoryStore struct {
	clock clock.Clock

	mu        sync.Mutex
	pending   map[string]memoryEntry[PendingInvocation]
	responses map[string]memoryEntry[[]byte]
}

type memoryEntry[T any] struct {
	value     T
	expiresAt time.Time
}

// NewMemoryStore creates an empty MemoryStore. A nil clk uses the wall clock.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryStore{
		clock:     clk,
		pending:   make(map[string]memoryEntry[PendingInvocation]),
		responses: make(map[string]memoryEntry[[]byte]),
	}
}

// PutPending implements Store.
func (s *MemoryStore) PutPending(_ context.Context, inv PendingInvocation, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[inv.CorrelationID] = memoryEntry[PendingInvocation]{
		value:     inv,
		expiresAt: s.clock.Now().Add(ttl),
	}
	return nil
}

// GetPending implements Store.
func (s *MemoryStore) GetPending(_ context.Context, correlationID string) (*PendingInvocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.pending[correlationID]
	if !ok {
		return nil, nil
	}
	if !s.clock.Now().Before(entry.expiresAt) {
		delete(s.pending, correlationID)
		return nil, nil
	}
	inv := entry.value
	return &inv, nil
}

// DeletePending implements Store.
func (s *MemoryStore) DeletePending(_ context.Context, correlationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, correlationID)
	return nil
}

// PutResponse implements Store.
func (s *MemoryStore) PutResponse(_ context.Context, correlationID string, payload []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.responses[correlationID] = memoryEntry[[]byte]{
		value:     buf,
		expiresAt: s.clock.Now().Add(ttl),
	}
	return nil
}

// TakeResponse implements Store. The read and delete happen under one lock,
// so at most one caller consumes a given response.
func (s *MemoryStore) TakeResponse(_ context.Context, correlationID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.responses[correlationID]
	if !ok {
		return nil, nil
	}
	delete(s.responses, correlationID)
	if !s.clock.Now().Before(entry.expiresAt) {
		return nil, nil
	}
	return entry.value, nil
}

// ExpiredPending implements Store.
func (s *MemoryStore) ExpiredPending(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []string
	for id, entry := range s.pending {
		if !now.Before(entry.value.ExpiresAt) || !now.Before(entry.expiresAt) {
			expired = append(expired, id)
		}
	}
	return expired, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = make(map[string]memoryEntry[PendingInvocation])
	s.responses = make(map[string]memoryEntry[[]byte])
	return nil
}

// PendingCount reports in-flight invocations, for tests and introspection.
func (s *MemoryStore) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// ResponseCount reports staged replies, for tests and introspection.
func (s *MemoryStore) ResponseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.responses)
}
