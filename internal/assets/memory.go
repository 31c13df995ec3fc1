package assets

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in process. It satisfies both Manager and Sink.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// AddBinaryAsset appends rec.
func (s *MemoryStore) AddBinaryAsset(rec Record) {
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
}

// Add appends rec; it never fails.
func (s *MemoryStore) Add(_ context.Context, rec Record) error {
	s.AddBinaryAsset(rec)
	return nil
}

// Records returns a copy of the stored records ordered by path.
// Registration order depends on resolution order and is not stable.
func (s *MemoryStore) Records() []Record {
	s.mu.Lock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Path == out[j].Path {
			return out[i].ChunkType < out[j].ChunkType
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
