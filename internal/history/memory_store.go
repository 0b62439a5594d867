package history

import (
	"context"
	"sync"
)

// MemoryStore keeps the most recent records in a ring buffer. Records are
// lost on restart.
type MemoryStore struct {
	records []ActionRecord
	maxSize int
	head    int // next write position
	count   int
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &MemoryStore{
		records: make([]ActionRecord, maxSize),
		maxSize: maxSize,
	}
}

// Record adds a record, evicting the oldest when full
func (m *MemoryStore) Record(ctx context.Context, rec ActionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[m.head] = rec
	m.head = (m.head + 1) % m.maxSize
	if m.count < m.maxSize {
		m.count++
	}
	return nil
}

// Query walks the buffer from newest to oldest
func (m *MemoryStore) Query(ctx context.Context, opts QueryOptions) ([]ActionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := opts.limit()
	result := make([]ActionRecord, 0, min(limit, m.count))
	for i := 0; i < m.count && len(result) < limit; i++ {
		idx := (m.head - 1 - i + m.maxSize) % m.maxSize
		if opts.matches(&m.records[idx]) {
			result = append(result, m.records[idx])
		}
	}
	return result, nil
}

// Close is a no-op for the memory store
func (m *MemoryStore) Close() error {
	return nil
}
