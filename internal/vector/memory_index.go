package vector

import (
	"context"
	"sort"
	"sync"
)

// MemoryIndex is an in-process Index. It holds every document in a map and
// scans linearly on search, which is fine for the per-team episode volumes
// this system sees between consolidation passes.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[string]Document
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: make(map[string]Document)}
}

// Upsert implements Index.
func (m *MemoryIndex) Upsert(_ context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	return nil
}

// Search implements Index.
func (m *MemoryIndex) Search(_ context.Context, query []float32, limit int, minScore float64) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []SearchResult
	for _, doc := range m.docs {
		score := CosineSimilarity(query, doc.Embedding)
		if score < minScore {
			continue
		}
		results = append(results, SearchResult{ID: doc.ID, Score: score, Payload: doc.Payload})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Close implements Index.
func (m *MemoryIndex) Close() error {
	return nil
}
