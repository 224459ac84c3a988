package main

import (
	"context"
	"fmt"

	"github.com/hyperjump/hondana/internal/catalog"
	"github.com/hyperjump/hondana/internal/collab"
	"github.com/hyperjump/hondana/internal/config"
	"github.com/hyperjump/hondana/internal/embedding"
	"github.com/hyperjump/hondana/internal/indexer"
	"github.com/hyperjump/hondana/internal/profile"
	"github.com/hyperjump/hondana/internal/ranking"
	"github.com/hyperjump/hondana/internal/search"
	"github.com/hyperjump/hondana/internal/server"
	"github.com/hyperjump/hondana/internal/storage"
	"github.com/hyperjump/hondana/internal/vector"
	"go.uber.org/zap"
)

// Components holds initialized services.
type Components struct {
	Storage   *storage.SQLiteStorage
	Catalog   *catalog.SQLiteCatalog
	Client    *embedding.Client
	BookIndex vector.VectorIndex
	Indexer   *indexer.Indexer
	Engine    *search.Engine
	Profiler  *profile.Profiler
	Filter    *collab.Filter
	Ranker    *ranking.Ranker
}

// Services returns the subset the HTTP API exposes.
func (c *Components) Services() server.Services {
	return server.Services{
		Indexer:  c.Indexer,
		Engine:   c.Engine,
		Ranker:   c.Ranker,
		Filter:   c.Filter,
		Profiler: c.Profiler,
		Storage:  c.Storage,
	}
}

func (c *Components) Close() {
	if c.Profiler != nil {
		c.Profiler.Close()
	}
	if c.Client != nil {
		_ = c.Client.Close()
	}
	if c.BookIndex != nil {
		_ = c.BookIndex.Close()
	}
	if c.Catalog != nil {
		_ = c.Catalog.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	fail := func(err error) (*Components, error) {
		c.Close()
		return nil, err
	}

	var err error
	if c.Storage, err = storage.NewSQLiteStorage(cfg.Storage.DatabasePath); err != nil {
		return fail(fmt.Errorf("failed to initialize storage: %w", err))
	}
	if c.Catalog, err = catalog.NewSQLiteCatalog(cfg.Storage.CatalogPath); err != nil {
		return fail(fmt.Errorf("failed to initialize catalog: %w", err))
	}

	provider, err := embedding.NewProvider(cfg.Embedding)
	if err != nil {
		if cfg.Embedding.Provider != "onnx" {
			return fail(fmt.Errorf("failed to initialize embedding provider: %w", err))
		}
		// Same fallback as a build without cgo: keep the CLI usable offline.
		logger.Warn("onnx provider unavailable, falling back to mock embeddings", zap.Error(err))
		provider = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	}
	c.Client = embedding.NewClient(provider, cfg.Embedding, embedding.WithLogger(logger))

	if c.BookIndex, err = vector.NewVectorIndex(cfg.Similarity.IndexType, cfg.Embedding.Dimensions); err != nil {
		return fail(fmt.Errorf("failed to initialize vector index: %w", err))
	}

	// The engine owns the book index and centroids; the indexer writes books through it.
	c.Engine = search.NewEngine(c.Storage, c.BookIndex, cfg.Similarity, search.WithLogger(logger),
		search.WithRefresher(search.RefresherFunc(func(ctx context.Context, chapterID string) (bool, error) {
			return c.Indexer.EnsureChapterFresh(ctx, chapterID)
		})))
	c.Indexer = indexer.NewIndexer(c.Storage, c.Catalog, c.Client, cfg,
		indexer.WithLogger(logger), indexer.WithBookSink(c.Engine))
	if c.Profiler, err = profile.NewProfiler(c.Catalog, c.Catalog, cfg.Profile, profile.WithLogger(logger)); err != nil {
		return fail(err)
	}
	c.Filter = collab.NewFilter(c.Catalog, c.Profiler, c.Storage, cfg.Collab, collab.WithLogger(logger))
	c.Ranker = ranking.NewRanker(c.Profiler, c.Filter, c.Engine, c.Catalog, cfg.Ranking, ranking.WithLogger(logger))

	n, err := c.Engine.RefreshBookIndex(ctx)
	if err != nil {
		return fail(fmt.Errorf("failed to load book index: %w", err))
	}
	logger.Info("components initialized",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("index_type", cfg.Similarity.IndexType),
		zap.Int("indexed_books", n),
	)
	return c, nil
}
