package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps records in process memory. Used for tests and the
// "memory" storage driver.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]Record
	closed  bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]Record)}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, id uuid.UUID) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	rec, ok := m.records[id]
	if !ok {
		return Record{}, nil
	}
	return rec.Clone(), nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, id uuid.UUID, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if len(rec) == 0 {
		delete(m.records, id)
		return nil
	}
	m.records[id] = rec.Clone()
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
