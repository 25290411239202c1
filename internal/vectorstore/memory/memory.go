package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"ragqa/internal/domain"
)

// Storage is an append-only in-memory vector index searched by brute-force
// squared L2 distance.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	entries   []domain.VectorEntry
}

// NewStorage creates an empty index. A positive dimension pins the expected
// vector length; zero lets the first Add decide it.
func NewStorage(dimension int) *Storage {
	if dimension < 0 {
		dimension = 0
	}
	return &Storage{dimension: dimension}
}

// Add appends one entry per (chunk, vector) pair. Either every pair is stored or none is.
func (s *Storage) Add(ctx context.Context, chunks []domain.Chunk, vectors [][]float64) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks and vectors length mismatch: %d != %d", len(chunks), len(vectors))
	}
	if len(vectors) == 0 {
		return nil
	}
	want := len(vectors[0])
	if want == 0 {
		return errors.New("empty embedding vector")
	}
	for _, v := range vectors[1:] {
		if len(v) != want {
			return domain.DimensionError(want, len(v))
		}
	}
	entries := make([]domain.VectorEntry, len(chunks))
	for i := range chunks {
		entries[i] = domain.VectorEntry{Chunk: chunks[i], Vector: slices.Clone(vectors[i])}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension != 0 && s.dimension != want {
		return domain.DimensionError(s.dimension, want)
	}
	s.dimension = want
	s.entries = append(s.entries, entries...)
	return nil
}

// Search returns up to topK entries in ascending squared L2 distance from
// vector. Entries at equal distance keep insertion order. Result vectors are
// copies.
func (s *Storage) Search(ctx context.Context, vector []float64, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("top k must be positive, got %d", topK)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return []domain.SearchResult{}, nil
	}
	if len(vector) != s.dimension {
		return nil, domain.DimensionError(s.dimension, len(vector))
	}
	results := make([]domain.SearchResult, len(s.entries))
	for i := range s.entries {
		results[i] = domain.SearchResult{Entry: s.entries[i], Distance: squaredL2(s.entries[i].Vector, vector)}
	}
	slices.SortStableFunc(results, func(a, b domain.SearchResult) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})
	if topK < len(results) {
		results = results[:topK]
	}
	// Stored vectors are never handed out.
	for i := range results {
		results[i].Entry.Vector = slices.Clone(results[i].Entry.Vector)
	}
	return results, nil
}

// Len returns the number of stored entries.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Dimension returns the vector length the index accepts, or zero before the first Add.
func (s *Storage) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

func squaredL2(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

var _ domain.VectorStore = (*Storage)(nil)
