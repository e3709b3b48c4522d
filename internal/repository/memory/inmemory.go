// Package memory implements the append-only memory record store with
// cosine-similarity search: an in-process driver and a Redis driver.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/lyca499/cactus-app-1/internal/domain"
)

// InMemoryStore keeps records in an append-only slice. IDs are monotonically
// increasing; search ties are broken by insertion order.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []domain.MemoryRecord
	nextID  int64
}

// NewInMemoryStore creates an empty in-process store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{nextID: 1}
}

// Insert appends a record and returns its assigned id.
func (s *InMemoryStore) Insert(_ context.Context, rec domain.MemoryRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = s.nextID
	s.nextID++
	s.records = append(s.records, rec)
	return rec.ID, nil
}

// Get returns a record by id.
func (s *InMemoryStore) Get(_ context.Context, id int64) (domain.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return domain.MemoryRecord{}, domain.ErrNotFound
}

// Count reports the number of stored records.
func (s *InMemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

// SearchSimilar ranks all records by cosine similarity to the query
// embedding, filters by minSimilarity, and returns at most limit results in
// descending similarity order. Equal scores keep insertion order.
func (s *InMemoryStore) SearchSimilar(
	_ context.Context, embedding []float32, limit int, minSimilarity float64,
) ([]domain.ScoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scored := make([]domain.ScoredRecord, 0, len(s.records))
	for _, rec := range s.records {
		sim := domain.CosineSimilarity(embedding, rec.Embedding)
		if sim >= minSimilarity {
			scored = append(scored, domain.ScoredRecord{MemoryRecord: rec, Similarity: sim})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}
