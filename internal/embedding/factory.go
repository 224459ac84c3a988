package embedding

import (
	"fmt"
	"net/http"
	"os"

	"github.com/hyperjump/hondana/internal/config"
)

// NewProvider creates the raw provider named by cfg.Provider. Wrap it with NewClient
// before use so calls are retried and rate limited.
func NewProvider(cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "http", "":
		apiKey := ""
		if cfg.APIKeyEnv != "" {
			apiKey = os.Getenv(cfg.APIKeyEnv)
		}
		e, err := NewHTTPEmbedder(cfg.Endpoint, cfg.Model, apiKey, cfg.Dimensions, &http.Client{})
		if err != nil {
			return nil, err
		}
		return e, nil
	case "onnx":
		e, err := NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "mock":
		return NewMockEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: http, onnx, mock)", cfg.Provider)
	}
}
