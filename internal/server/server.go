// Package server provides the internal HTTP API for Hondana.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/hondana/internal/collab"
	"github.com/hyperjump/hondana/internal/config"
	"github.com/hyperjump/hondana/internal/indexer"
	"github.com/hyperjump/hondana/internal/profile"
	"github.com/hyperjump/hondana/internal/ranking"
	"github.com/hyperjump/hondana/internal/search"
	"github.com/hyperjump/hondana/internal/storage"
	"github.com/hyperjump/hondana/pkg/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Services are the engine components the API exposes.
type Services struct {
	Indexer  *indexer.Indexer
	Engine   *search.Engine
	Ranker   *ranking.Ranker
	Filter   *collab.Filter
	Profiler *profile.Profiler
	Storage  storage.Storage
}

// Server is the HTTP server for the Hondana API.
type Server struct {
	Services
	config *config.Config
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(svc Services, cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		Services: svc,
		config:   cfg,
		logger:   utils.OrNop(logger),
	}
}

// Handler builds the router. Batch endpoints (migrations, similarity refresh) run
// without the request timeout.
func (s *Server) Handler() http.Handler {
	timeout := s.config.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(timeout))
			r.Get("/status", s.handleStatus)
			r.Post("/chapters/{id}/embeddings", s.handleGenerateChapter)
			r.Get("/chapters/{id}/plagiarism", s.handlePlagiarism)
			r.Post("/books/{id}/embedding", s.handleUpsertBook)
			r.Get("/books/{id}/similar", s.handleSimilarBooks)
			r.Get("/users/{id}/recommendations", s.handleRecommendations)
			r.Post("/users/{id}/events", s.handleUserEvent)
		})
		r.Post("/migrations", s.handleMigrate)
		r.Post("/similarity/refresh", s.handleSimilarityRefresh)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
