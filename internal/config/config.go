// Package config provides configuration loading and structs for the Hondana engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Migration  MigrationConfig  `yaml:"migration"`
	Profile    ProfileConfig    `yaml:"profile"`
	Collab     CollabConfig     `yaml:"collab"`
	Ranking    RankingConfig    `yaml:"ranking"`
	Similarity SimilarityConfig `yaml:"similarity"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig holds database paths. DatabasePath is owned by the engine
// (embeddings and similarity snapshots); CatalogPath is the read-only platform database.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	CatalogPath  string `yaml:"catalog_path"`
}

// EmbeddingConfig holds provider and client settings.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // http, onnx or mock
	Endpoint  string `yaml:"endpoint"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	ModelPath string `yaml:"model_path"`
	MaxTokens int    `yaml:"max_tokens"`

	Dimensions        int           `yaml:"dimensions"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	MaxConcurrency    int           `yaml:"max_concurrency"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	BatchSize         int           `yaml:"batch_size"`
	CacheSize         int           `yaml:"cache_size"`
	BreakerFailures   uint32        `yaml:"breaker_failures"`
	BreakerTimeout    time.Duration `yaml:"breaker_timeout"`
}

// MaxChunkOverlap is the largest accepted overlap fraction: half a chunk.
const MaxChunkOverlap = 0.5

// ChunkingConfig holds chapter segmentation settings. ChunkSize is in characters,
// ChunkOverlap is a fraction of ChunkSize.
type ChunkingConfig struct {
	ChunkSize    int     `yaml:"chunk_size"`
	ChunkOverlap float64 `yaml:"chunk_overlap"`
}

// MigrationConfig holds corpus regeneration settings.
type MigrationConfig struct {
	BatchSize int           `yaml:"batch_size"`
	Workers   int           `yaml:"workers"`
	Cooldown  time.Duration `yaml:"cooldown"`
}

// ProfileConfig holds behavior profile settings.
type ProfileConfig struct {
	HalfLifeDays           float64       `yaml:"half_life_days"`
	MaxRating              float64       `yaml:"max_rating"`
	HighRatingThreshold    float64       `yaml:"high_rating_threshold"`
	ImplicitReadWeight     float64       `yaml:"implicit_read_weight"`
	ImplicitBookmarkWeight float64       `yaml:"implicit_bookmark_weight"`
	ImplicitPurchaseWeight float64       `yaml:"implicit_purchase_weight"`
	CacheSize              int           `yaml:"cache_size"`
	CacheTTL               time.Duration `yaml:"cache_ttl"`
}

// CollabConfig holds collaborative filter settings.
type CollabConfig struct {
	MinCoRatedBooks    int     `yaml:"min_co_rated_books"`
	Neighbors          int     `yaml:"neighbors"`
	MinSimilarity      float64 `yaml:"min_similarity"`
	RatingWeight       float64 `yaml:"rating_weight"`
	CategoryWeight     float64 `yaml:"category_weight"`
	TopCategories      int     `yaml:"top_categories"`
	Workers            int     `yaml:"workers"`
	RefreshRatingDelta int     `yaml:"refresh_rating_delta"`
}

// BlendWeights are the collaborative, content and popularity weights of the ranker.
type BlendWeights struct {
	Collaborative float64 `yaml:"collaborative"`
	Content       float64 `yaml:"content"`
	Popularity    float64 `yaml:"popularity"`
}

// Sum returns the total weight.
func (w BlendWeights) Sum() float64 {
	return w.Collaborative + w.Content + w.Popularity
}

// RankingConfig holds recommendation ranker settings.
type RankingConfig struct {
	Weights           BlendWeights `yaml:"weights"`
	ColdStartWeights  BlendWeights `yaml:"cold_start_weights"`
	ContentCandidates int          `yaml:"content_candidates"`
	PopularCandidates int          `yaml:"popular_candidates"`
	DefaultCount      int          `yaml:"default_count"`
	MaxCount          int          `yaml:"max_count"`
}

// SimilarityConfig holds vector comparison settings.
type SimilarityConfig struct {
	PlagiarismThreshold float64 `yaml:"plagiarism_threshold"`
	ScanPageSize        int     `yaml:"scan_page_size"`
	IndexType           string  `yaml:"index_type"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.CatalogPath = expandPath(cfg.Storage.CatalogPath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects settings that defaults cannot repair.
func Validate(cfg *Config) error {
	switch cfg.Embedding.Provider {
	case "http", "onnx", "mock":
	default:
		return fmt.Errorf("unknown embedding provider: %s (supported: http, onnx, mock)", cfg.Embedding.Provider)
	}
	if cfg.Chunking.ChunkOverlap < 0 || cfg.Chunking.ChunkOverlap > MaxChunkOverlap {
		return fmt.Errorf("chunk_overlap must be in [0, %v]: %v", MaxChunkOverlap, cfg.Chunking.ChunkOverlap)
	}
	if t := cfg.Similarity.PlagiarismThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("plagiarism_threshold must be in (0, 1]: %v", t)
	}
	for name, w := range map[string]BlendWeights{"weights": cfg.Ranking.Weights, "cold_start_weights": cfg.Ranking.ColdStartWeights} {
		if w.Collaborative < 0 || w.Content < 0 || w.Popularity < 0 {
			return fmt.Errorf("ranking %s must be non-negative", name)
		}
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
