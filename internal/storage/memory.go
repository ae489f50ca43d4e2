package storage

import (
	"context"
	"sync"
	"time"
)

// Ensure MemoryStore implements the Store interface
var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps session records in process memory. Suitable for a single
// instance; records do not survive restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates an in-memory session store with the given idle TTL
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	record, ok := s.records[id]
	s.mu.RUnlock()

	if !ok || s.now().After(record.ExpiresAt) {
		return nil, ErrSessionNotFound
	}

	return copyRecord(record), nil
}

func (s *MemoryStore) Put(_ context.Context, id string, record *Record) error {
	copied := copyRecord(record)
	copied.ExpiresAt = s.now().Add(s.ttl)

	s.mu.Lock()
	s.records[id] = copied
	s.mu.Unlock()
	return nil
}

// copyRecord clones a record including the Auth field, so neither the store
// nor the caller can mutate the other's copy through the shared pointer
func copyRecord(record *Record) *Record {
	copied := *record
	if record.Auth != nil {
		auth := *record.Auth
		copied.Auth = &auth
	}
	return &copied
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context) (int, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, record := range s.records {
		if now.After(record.ExpiresAt) {
			delete(s.records, id)
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
