package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/hondana/data/embeddings.db"
	}
	if cfg.Storage.CatalogPath == "" {
		cfg.Storage.CatalogPath = "/usr/local/var/hondana/data/catalog.db"
	}

	applyEmbeddingDefaults(&cfg.Embedding)

	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = 2000
	}
	if cfg.Chunking.ChunkOverlap == 0 {
		cfg.Chunking.ChunkOverlap = 0.1
	}
	if cfg.Migration.BatchSize == 0 {
		cfg.Migration.BatchSize = 25
	}
	if cfg.Migration.Workers == 0 {
		cfg.Migration.Workers = 4
	}
	if cfg.Migration.Cooldown == 0 {
		cfg.Migration.Cooldown = 5 * time.Second
	}

	if cfg.Profile.HalfLifeDays == 0 {
		cfg.Profile.HalfLifeDays = 90
	}
	if cfg.Profile.MaxRating == 0 {
		cfg.Profile.MaxRating = 5
	}
	if cfg.Profile.HighRatingThreshold == 0 {
		cfg.Profile.HighRatingThreshold = 4
	}
	if cfg.Profile.ImplicitReadWeight == 0 {
		cfg.Profile.ImplicitReadWeight = 0.6
	}
	if cfg.Profile.ImplicitBookmarkWeight == 0 {
		cfg.Profile.ImplicitBookmarkWeight = 0.4
	}
	if cfg.Profile.ImplicitPurchaseWeight == 0 {
		cfg.Profile.ImplicitPurchaseWeight = 0.3
	}
	if cfg.Profile.CacheSize == 0 {
		cfg.Profile.CacheSize = 1000
	}
	if cfg.Profile.CacheTTL == 0 {
		cfg.Profile.CacheTTL = 10 * time.Minute
	}

	if cfg.Collab.MinCoRatedBooks == 0 {
		cfg.Collab.MinCoRatedBooks = 3
	}
	if cfg.Collab.Neighbors == 0 {
		cfg.Collab.Neighbors = 50
	}
	if cfg.Collab.MinSimilarity == 0 {
		cfg.Collab.MinSimilarity = 0.1
	}
	if cfg.Collab.RatingWeight == 0 && cfg.Collab.CategoryWeight == 0 {
		cfg.Collab.RatingWeight = 0.7
		cfg.Collab.CategoryWeight = 0.3
	}
	if cfg.Collab.TopCategories == 0 {
		cfg.Collab.TopCategories = 5
	}
	if cfg.Collab.Workers == 0 {
		cfg.Collab.Workers = 4
	}
	if cfg.Collab.RefreshRatingDelta == 0 {
		cfg.Collab.RefreshRatingDelta = 3
	}

	// A weight set is only defaulted as a whole; zero is a meaningful individual weight.
	if cfg.Ranking.Weights.Sum() == 0 {
		cfg.Ranking.Weights = BlendWeights{Collaborative: 0.5, Content: 0.3, Popularity: 0.2}
	}
	if cfg.Ranking.ColdStartWeights.Sum() == 0 {
		cfg.Ranking.ColdStartWeights = BlendWeights{Collaborative: 0, Content: 0.4, Popularity: 0.6}
	}
	if cfg.Ranking.ContentCandidates == 0 {
		cfg.Ranking.ContentCandidates = 100
	}
	if cfg.Ranking.PopularCandidates == 0 {
		cfg.Ranking.PopularCandidates = 100
	}
	if cfg.Ranking.DefaultCount == 0 {
		cfg.Ranking.DefaultCount = 20
	}
	if cfg.Ranking.MaxCount == 0 {
		cfg.Ranking.MaxCount = 200
	}

	if cfg.Similarity.PlagiarismThreshold == 0 {
		cfg.Similarity.PlagiarismThreshold = 0.92
	}
	if cfg.Similarity.ScanPageSize == 0 {
		cfg.Similarity.ScanPageSize = 500
	}
	if cfg.Similarity.IndexType == "" {
		cfg.Similarity.IndexType = "memory"
	}
}

func applyEmbeddingDefaults(e *EmbeddingConfig) {
	if e.Provider == "" {
		e.Provider = "http"
	}
	if e.Endpoint == "" {
		e.Endpoint = "http://localhost:11434/v1/embeddings"
	}
	if e.Model == "" {
		e.Model = "all-minilm"
	}
	if e.MaxTokens == 0 {
		e.MaxTokens = 512
	}
	if e.Dimensions == 0 {
		e.Dimensions = 384
	}
	if e.Timeout == 0 {
		e.Timeout = 30 * time.Second
	}
	if e.MaxRetries == 0 {
		e.MaxRetries = 4
	}
	if e.InitialBackoff == 0 {
		e.InitialBackoff = 500 * time.Millisecond
	}
	if e.MaxBackoff == 0 {
		e.MaxBackoff = 20 * time.Second
	}
	if e.MaxConcurrency == 0 {
		e.MaxConcurrency = 6
	}
	if e.RequestsPerSecond == 0 {
		e.RequestsPerSecond = 10
	}
	if e.Burst == 0 {
		e.Burst = e.MaxConcurrency
	}
	if e.BatchSize == 0 {
		e.BatchSize = 16
	}
	if e.CacheSize == 0 {
		e.CacheSize = 10000
	}
	if e.BreakerFailures == 0 {
		e.BreakerFailures = 5
	}
	if e.BreakerTimeout == 0 {
		e.BreakerTimeout = 30 * time.Second
	}
}
