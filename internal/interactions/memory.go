package interactions

import (
	"context"
	"sync"

	"github.com/tributary-ai/completion-gateway/internal/types"
)

// DefaultMemoryCapacity bounds a MemoryStore created with capacity <= 0
const DefaultMemoryCapacity = 10000

// MemoryStore keeps the most recent records in process
type MemoryStore struct {
	mu       sync.RWMutex
	records  []*types.InteractionRecord
	capacity int
}

// NewMemoryStore creates a store that keeps at most capacity records
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{capacity: capacity}
}

func (s *MemoryStore) Insert(ctx context.Context, records []*types.InteractionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		copied := *rec
		s.records = append(s.records, &copied)
	}
	if over := len(s.records) - s.capacity; over > 0 {
		s.records = append(s.records[:0:0], s.records[over:]...)
	}
	return nil
}

// Recent returns up to limit records, newest first
func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]*types.InteractionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}

	out := make([]*types.InteractionRecord, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		copied := *s.records[i]
		out = append(out, &copied)
	}
	return out, nil
}

// Len returns the number of stored records
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) Close() error {
	return nil
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Reader = (*MemoryStore)(nil)
)
