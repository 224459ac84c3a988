// Package vector holds the similarity primitives and the vector index used for book
// neighbor lookups.
package vector

import "context"

// VectorIndex stores vectors by ID and answers top-k cosine queries. It is the seam an
// approximate nearest-neighbor backend would plug into.
type VectorIndex interface {
	Upsert(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	Get(id string) ([]float32, bool)
	Size() int
	Close() error
}

// VectorResult is a single search hit.
type VectorResult struct {
	ID    string
	Score float64 // cosine similarity in [-1, 1]
}
