package embedding

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sync/atomic"

	"github.com/hyperjump/hondana/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests and offline runs. The vector is
// drawn from a PRNG seeded with the text hash, so identical text always gets an
// identical unit vector and unrelated texts are nearly orthogonal.
type MockEmbedder struct {
	dimensions int
	calls      atomic.Int64
	texts      atomic.Int64
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a deterministic embedding based on the text hash.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	e.texts.Add(1)
	return e.vector(text), nil
}

// EmbedBatch embeds every text in one call.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.calls.Add(1)
	e.texts.Add(int64(len(texts)))
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = e.vector(text)
	}
	return embeddings, nil
}

func (e *MockEmbedder) vector(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	emb := make([]float32, e.dimensions)
	for i := range emb {
		emb[i] = float32(rng.NormFloat64())
	}
	utils.NormalizeL2(emb)
	return emb
}

// Calls returns how many Embed/EmbedBatch calls were made.
func (e *MockEmbedder) Calls() int64 { return e.calls.Load() }

// Texts returns how many texts were embedded.
func (e *MockEmbedder) Texts() int64 { return e.texts.Load() }

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
