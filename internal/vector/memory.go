package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryIndex is an in-memory vector index using brute-force cosine search.
// Vectors are normalized on insert so search is an inner product.
type MemoryIndex struct {
	dimensions int
	ids        []string
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		ids:        make([]string, 0),
		vectors:    make([][]float32, 0),
	}, nil
}

// Dimensions returns the vector dimension.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Add appends vectors with the given IDs.
func (m *MemoryIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		if len(vectors[i]) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vectors[i]), m.dimensions)
		}
		m.ids = append(m.ids, id)
		m.vectors = append(m.vectors, Normalize(vectors[i]))
	}
	return nil
}

// Search returns the top-k vectors by cosine similarity.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	scores, err := m.scoreAll(ctx, query)
	if err != nil {
		return nil, err
	}
	if k <= 0 || len(scores) == 0 {
		return nil, nil
	}
	if k > len(scores) {
		k = len(scores)
	}
	return scores[:k], nil
}

// SearchAbove returns every vector whose cosine similarity to query is
// strictly greater than minScore, most similar first.
func (m *MemoryIndex) SearchAbove(ctx context.Context, query []float32, minScore float64) ([]*VectorResult, error) {
	scores, err := m.scoreAll(ctx, query)
	if err != nil {
		return nil, err
	}
	n := sort.Search(len(scores), func(i int) bool { return scores[i].Score <= minScore })
	return scores[:n], nil
}

func (m *MemoryIndex) scoreAll(ctx context.Context, query []float32) ([]*VectorResult, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := Normalize(query)
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*VectorResult, len(m.ids))
	for i, vec := range m.vectors {
		results[i] = &VectorResult{ID: m.ids[i], Score: InnerProduct(q, vec)}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// Remove removes vectors by ID.
func (m *MemoryIndex) Remove(ctx context.Context, ids []string) error {
	removeSet := make(map[string]bool)
	for _, id := range ids {
		removeSet[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	newIDs := make([]string, 0, len(m.ids))
	newVectors := make([][]float32, 0, len(m.vectors))
	for i, id := range m.ids {
		if !removeSet[id] {
			newIDs = append(newIDs, id)
			newVectors = append(newVectors, m.vectors[i])
		}
	}
	m.ids = newIDs
	m.vectors = newVectors
	return nil
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Close releases the index contents.
func (m *MemoryIndex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = nil
	m.vectors = nil
	return nil
}
