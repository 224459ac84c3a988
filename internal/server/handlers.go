package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/hondana/internal/catalog"
	"github.com/hyperjump/hondana/internal/embedding"
	"github.com/hyperjump/hondana/internal/models"
	"github.com/hyperjump/hondana/internal/storage"
	"go.uber.org/zap"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Storage.Stats(r.Context())
	if err != nil {
		s.logger.Error("status: storage stats failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"storage":       stats,
		"indexed_books": s.Engine.IndexedBooks(),
	}
	if s.config != nil {
		resp["config"] = map[string]interface{}{
			"embedding_provider":   s.config.Embedding.Provider,
			"embedding_model":      s.config.Embedding.Model,
			"embedding_dimensions": s.config.Embedding.Dimensions,
			"chunk_size":           s.config.Chunking.ChunkSize,
			"chunk_overlap":        s.config.Chunking.ChunkOverlap,
			"plagiarism_threshold": s.config.Similarity.PlagiarismThreshold,
			"min_co_rated_books":   s.config.Collab.MinCoRatedBooks,
			"database_path":        s.config.Storage.DatabasePath,
			"catalog_path":         s.config.Storage.CatalogPath,
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGenerateChapter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("generate chapter embeddings request", zap.String("chapter_id", id))
	result, err := s.Indexer.GenerateEmbeddingsForChapter(r.Context(), id)
	if err != nil {
		s.fail(w, "chapter embedding failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleUpsertBook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	updated, err := s.Indexer.UpsertBookEmbedding(r.Context(), id)
	if err != nil {
		s.fail(w, "book embedding failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"book_id": id, "updated": updated})
}

func (s *Server) handleMigrate(w http.ResponseWriter, r *http.Request) {
	batchSize, err := queryInt(r, "batch_size")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := s.Indexer.MigrateCorpusEmbeddings(r.Context(), batchSize)
	if err != nil {
		s.fail(w, "migration failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

type plagiarismResponse struct {
	ChapterID string                    `json:"chapter_id"`
	Threshold float64                   `json:"threshold"`
	Matches   []*models.PlagiarismMatch `json:"matches"`
}

func (s *Server) handlePlagiarism(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	matches, err := s.Engine.CheckPlagiarism(r.Context(), id)
	if err != nil {
		s.fail(w, "plagiarism check failed", err)
		return
	}
	if matches == nil {
		matches = []*models.PlagiarismMatch{}
	}
	s.respondJSON(w, http.StatusOK, plagiarismResponse{
		ChapterID: id,
		Threshold: s.config.Similarity.PlagiarismThreshold,
		Matches:   matches,
	})
}

func (s *Server) handleSimilarBooks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	count, err := queryInt(r, "count")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	books, err := s.Engine.FindSimilarBooks(r.Context(), id, count)
	if err != nil {
		s.fail(w, "similar books failed", err)
		return
	}
	if books == nil {
		books = []models.ScoredBook{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"book_id": id, "books": books})
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	count, err := queryInt(r, "count")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.Ranker.Recommend(r.Context(), id, count)
	if err != nil {
		s.fail(w, "recommendation failed", err)
		return
	}
	if result.Recommendations == nil {
		result.Recommendations = []*models.Recommendation{}
	}
	s.respondJSON(w, http.StatusOK, result)
}

var eventTypes = map[string]bool{"rating": true, "read": true, "bookmark": true, "purchase": true}

type userEventRequest struct {
	Type   string `json:"type"`
	BookID string `json:"book_id"`
}

// handleUserEvent is called after the application records an interaction. The
// interaction itself lives in the application database; here the cached profile is
// dropped and the caller learns whether the similarity snapshot is due.
func (s *Server) handleUserEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req userEventRequest
	if err := decodeOptional(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type != "" && !eventTypes[req.Type] {
		s.respondError(w, http.StatusBadRequest, "unknown event type: "+req.Type)
		return
	}
	s.Profiler.Invalidate(id)
	resp := map[string]interface{}{"user_id": id, "status": "invalidated"}
	if s.Filter != nil {
		due, err := s.Filter.NeedsRefresh(r.Context(), id)
		if err != nil {
			s.logger.Warn("refresh check failed", zap.String("user_id", id), zap.Error(err))
		} else {
			resp["similarity_refresh_due"] = due
		}
	}
	s.logger.Debug("user event", zap.String("user_id", id), zap.String("type", req.Type), zap.String("book_id", req.BookID))
	s.respondJSON(w, http.StatusAccepted, resp)
}

type refreshRequest struct {
	UserIDs []string `json:"user_ids"`
}

func (s *Server) handleSimilarityRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeOptional(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	report, err := s.Filter.RefreshSnapshots(r.Context(), req.UserIDs)
	if err != nil {
		s.fail(w, "similarity refresh failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

// fail maps engine errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, embedding.ErrEmbeddingUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// queryInt reads an optional integer query parameter; absent means 0.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return n, nil
}

// decodeOptional decodes a JSON body, accepting an empty one.
func decodeOptional(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
