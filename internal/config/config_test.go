package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "./embeddings.db"
embedding:
  provider: mock
  timeout: 5s
  max_retries: 2
collab:
  min_co_rated_books: 2
ranking:
  weights:
    collaborative: 0.6
    content: 0.2
    popularity: 0.2
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Embedding.Provider != "mock" || cfg.Embedding.Timeout != 5*time.Second || cfg.Embedding.MaxRetries != 2 {
		t.Errorf("unexpected embedding config: %+v", cfg.Embedding)
	}
	if cfg.Collab.MinCoRatedBooks != 2 {
		t.Errorf("min_co_rated_books: got %d", cfg.Collab.MinCoRatedBooks)
	}
	if cfg.Ranking.Weights.Collaborative != 0.6 {
		t.Errorf("collaborative weight: got %v", cfg.Ranking.Weights.Collaborative)
	}
	if cfg.Ranking.ColdStartWeights.Popularity != 0.6 {
		t.Errorf("cold start weights should still default: %+v", cfg.Ranking.ColdStartWeights)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./data/embeddings.db"
  catalog_path: "./data/catalog.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Dir(path)
	if want := filepath.Join(dir, "data", "embeddings.db"); cfg.Storage.DatabasePath != want {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, want)
	}
	if want := filepath.Join(dir, "data", "catalog.db"); cfg.Storage.CatalogPath != want {
		t.Errorf("catalog_path = %s, want %s", cfg.Storage.CatalogPath, want)
	}
}

func TestLoad_rejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown provider", "embedding:\n  provider: carrier-pigeon\n"},
		{"overlap too large", "chunking:\n  chunk_overlap: 1.5\n"},
		{"overlap above half a chunk", "chunking:\n  chunk_overlap: 0.6\n"},
		{"threshold above one", "similarity:\n  plagiarism_threshold: 1.2\n"},
		{"negative weight", "ranking:\n  weights:\n    collaborative: -1\n    content: 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_acceptsHalfChunkOverlap(t *testing.T) {
	cfg, err := Load(writeConfig(t, "chunking:\n  chunk_overlap: 0.5\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Chunking.ChunkOverlap != MaxChunkOverlap {
		t.Errorf("chunk_overlap = %v", cfg.Chunking.ChunkOverlap)
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8090 {
		t.Errorf("server defaults: %+v", cfg.Server)
	}
	if cfg.Chunking.ChunkSize != 2000 || cfg.Chunking.ChunkOverlap != 0.1 {
		t.Errorf("chunking defaults: %+v", cfg.Chunking)
	}
	if cfg.Collab.MinCoRatedBooks != 3 || cfg.Collab.Neighbors != 50 || cfg.Collab.MinSimilarity != 0.1 {
		t.Errorf("collab defaults: %+v", cfg.Collab)
	}
	if cfg.Collab.RatingWeight != 0.7 || cfg.Collab.CategoryWeight != 0.3 {
		t.Errorf("collab weights: %+v", cfg.Collab)
	}
	want := BlendWeights{Collaborative: 0.5, Content: 0.3, Popularity: 0.2}
	if cfg.Ranking.Weights != want {
		t.Errorf("ranking weights: got %+v, want %+v", cfg.Ranking.Weights, want)
	}
	wantCold := BlendWeights{Collaborative: 0, Content: 0.4, Popularity: 0.6}
	if cfg.Ranking.ColdStartWeights != wantCold {
		t.Errorf("cold start weights: got %+v, want %+v", cfg.Ranking.ColdStartWeights, wantCold)
	}
	if cfg.Similarity.PlagiarismThreshold != 0.92 {
		t.Errorf("plagiarism threshold: got %v", cfg.Similarity.PlagiarismThreshold)
	}
	if cfg.Migration.BatchSize != 25 {
		t.Errorf("migration batch size: got %d", cfg.Migration.BatchSize)
	}
	if cfg.Embedding.Burst != cfg.Embedding.MaxConcurrency {
		t.Errorf("burst should follow max_concurrency: %d vs %d", cfg.Embedding.Burst, cfg.Embedding.MaxConcurrency)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestApplyDefaults_keepsZeroCollaborativeWeight(t *testing.T) {
	cfg := &Config{Ranking: RankingConfig{Weights: BlendWeights{Content: 0.5, Popularity: 0.5}}}
	ApplyDefaults(cfg)
	if cfg.Ranking.Weights.Collaborative != 0 {
		t.Errorf("explicit weight set should be kept, got %+v", cfg.Ranking.Weights)
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{DatabasePath: "/tmp/embeddings.db", CatalogPath: "/tmp/catalog.db"},
	}
	ApplyDefaults(cfg)
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if loaded.Embedding.Timeout != cfg.Embedding.Timeout {
		t.Errorf("timeout round trip: got %v, want %v", loaded.Embedding.Timeout, cfg.Embedding.Timeout)
	}
}
