package knowledge

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store keeping chunks in a map and
// scoring searches by word overlap. It backs the no-database CLI path
// and the package tests; it is not a real vector index.
//
// Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks map[string]Chunk
	order  []string // insertion order, for deterministic ties
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chunks: make(map[string]Chunk)}
}

// Upsert inserts or replaces chunks by ID.
func (s *MemoryStore) Upsert(_ context.Context, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		if _, exists := s.chunks[c.ID]; !exists {
			s.order = append(s.order, c.ID)
		}
		s.chunks[c.ID] = c
	}
	return nil
}

// SimilaritySearch scores each chunk by the fraction of query words it
// contains and returns the top k in descending order.
func (s *MemoryStore) SimilaritySearch(_ context.Context, query string, k int, filter map[string]string) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	words := strings.Fields(strings.ToLower(query))

	var results []Result
	for _, id := range s.order {
		c, ok := s.chunks[id]
		if !ok || !metadataContains(c.Metadata, filter) {
			continue
		}
		score := overlapScore(strings.ToLower(c.Content), words)
		if score <= 0 {
			continue
		}
		results = append(results, Result{
			Content:  c.Content,
			Metadata: copyMetadata(c.Metadata),
			Score:    score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// GetByFilter returns chunks whose metadata contains every filter entry.
func (s *MemoryStore) GetByFilter(_ context.Context, filter map[string]string) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Chunk
	for _, id := range s.order {
		c, ok := s.chunks[id]
		if !ok || !metadataContains(c.Metadata, filter) {
			continue
		}
		out = append(out, Chunk{ID: c.ID, Content: c.Content, Metadata: copyMetadata(c.Metadata)})
	}
	return out, nil
}

// DeleteByIDs removes chunks by ID; unknown IDs are ignored.
func (s *MemoryStore) DeleteByIDs(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.chunks, id)
	}
	return nil
}

// Count returns the number of stored chunks.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

func metadataContains(metadata, filter map[string]string) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func overlapScore(content string, queryWords []string) float64 {
	if len(queryWords) == 0 {
		return 0
	}
	matched := 0
	for _, w := range queryWords {
		if strings.Contains(content, w) {
			matched++
		}
	}
	return float64(matched) / float64(len(queryWords))
}
