// Package embedding wraps text embedding providers (HTTP, ONNX, deterministic mock)
// behind one interface and adds retry, rate limiting and caching in Client.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// ErrEmbeddingUnavailable is returned once a provider call has exhausted its retries
// or failed permanently. No vectors are returned alongside it.
var ErrEmbeddingUnavailable = errors.New("embedding unavailable")

// ProviderError is a non-2xx response from an embedding provider.
type ProviderError struct {
	StatusCode int
	RetryAfter time.Duration
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("embedding provider returned %d", e.StatusCode)
	}
	return fmt.Sprintf("embedding provider returned %d: %s", e.StatusCode, e.Message)
}

// RateLimited reports whether the provider asked us to slow down.
func (e *ProviderError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Temporary reports whether the request may succeed if retried.
func (e *ProviderError) Temporary() bool {
	switch {
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode == http.StatusRequestTimeout:
		return true
	case e.StatusCode >= 500 && e.StatusCode <= 599:
		return true
	default:
		return false
	}
}
