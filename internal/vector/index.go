// Package vector provides embedding similarity and an in-memory profile index.
package vector

import "context"

// VectorIndex stores embeddings by id and answers similarity queries.
type VectorIndex interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	SearchAbove(ctx context.Context, query []float32, minScore float64) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	Size() int
	Close() error
}

// VectorResult is a single similarity hit.
type VectorResult struct {
	ID    string
	Score float64 // cosine similarity in [-1, 1]
}
