package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/hondana/internal/catalog"
	"github.com/hyperjump/hondana/internal/collab"
	"github.com/hyperjump/hondana/internal/config"
	"github.com/hyperjump/hondana/internal/embedding"
	"github.com/hyperjump/hondana/internal/indexer"
	"github.com/hyperjump/hondana/internal/models"
	"github.com/hyperjump/hondana/internal/profile"
	"github.com/hyperjump/hondana/internal/ranking"
	"github.com/hyperjump/hondana/internal/search"
	"github.com/hyperjump/hondana/internal/storage"
	"github.com/hyperjump/hondana/internal/vector"
	"go.uber.org/zap"
)

type testStack struct {
	cat     *catalog.MemoryCatalog
	store   *storage.SQLiteStorage
	handler http.Handler
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Embedding.Dimensions = 16
	cfg.Embedding.MaxRetries = 1
	cfg.Embedding.InitialBackoff = time.Millisecond
	cfg.Embedding.MaxBackoff = 2 * time.Millisecond
	cfg.Chunking.ChunkSize = 200

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "embeddings.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	cat := catalog.NewMemoryCatalog()

	client := embedding.NewClient(embedding.NewMockEmbedder(16), cfg.Embedding)
	t.Cleanup(func() { _ = client.Close() })
	bookIndex, err := vector.NewMemoryIndex(16)
	if err != nil {
		t.Fatal(err)
	}
	idx := indexer.NewIndexer(store, cat, client, cfg, indexer.WithBookIndex(bookIndex))
	engine := search.NewEngine(store, bookIndex, cfg.Similarity, search.WithRefresher(idx))
	profiler, err := profile.NewProfiler(cat, cat, cfg.Profile)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(profiler.Close)
	filter := collab.NewFilter(cat, profiler, store, cfg.Collab)
	ranker := ranking.NewRanker(profiler, filter, engine, cat, cfg.Ranking)

	srv := NewServer(Services{
		Indexer:  idx,
		Engine:   engine,
		Ranker:   ranker,
		Filter:   filter,
		Profiler: profiler,
		Storage:  store,
	}, cfg, zap.NewNop())
	return &testStack{cat: cat, store: store, handler: srv.Handler()}
}

func (s *testStack) do(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func prose(topic string, sentences int) string {
	var b strings.Builder
	for i := 0; i < sentences; i++ {
		fmt.Fprintf(&b, "The %s chapter continues with event number %d. ", topic, i)
	}
	return b.String()
}

func TestHandleHealth(t *testing.T) {
	s := newTestStack(t)
	w := s.do(t, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleGenerateChapter(t *testing.T) {
	s := newTestStack(t)
	s.cat.AddChapter("b1", "c1", prose("harbor", 20))

	w := s.do(t, http.MethodPost, "/api/v1/chapters/c1/embeddings", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var res models.ChapterResult
	decode(t, w, &res)
	if res.Status != models.ChapterEmbedded || res.Chunks == 0 {
		t.Errorf("result: %+v", res)
	}

	w = s.do(t, http.MethodPost, "/api/v1/chapters/c1/embeddings", "")
	decode(t, w, &res)
	if res.Status != models.ChapterUnchanged {
		t.Errorf("second call should be unchanged, got %s", res.Status)
	}

	if w := s.do(t, http.MethodPost, "/api/v1/chapters/missing/embeddings", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing chapter: got %d", w.Code)
	}
}

func TestHandlePlagiarism(t *testing.T) {
	s := newTestStack(t)
	text := prose("lighthouse", 30)
	s.cat.AddChapter("b1", "original", text)
	s.cat.AddChapter("b2", "copy", text)
	s.cat.AddChapter("b3", "other", prose("desert", 30)+" Completely unrelated words about sand and camels.")
	for _, id := range []string{"original", "other"} {
		if w := s.do(t, http.MethodPost, "/api/v1/chapters/"+id+"/embeddings", ""); w.Code != http.StatusOK {
			t.Fatalf("embed %s: %d", id, w.Code)
		}
	}

	// The candidate has not been embedded yet; the check brings it up to date first.
	w := s.do(t, http.MethodGet, "/api/v1/chapters/copy/plagiarism", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var out plagiarismResponse
	decode(t, w, &out)
	if len(out.Matches) == 0 || out.Matches[0].MatchedChapterID != "original" {
		t.Fatalf("expected a match on the original chapter, got %+v", out.Matches)
	}
	if !out.Matches[0].NeedsReview || out.Threshold != 0.92 {
		t.Errorf("match: %+v threshold %v", out.Matches[0], out.Threshold)
	}

	if w := s.do(t, http.MethodGet, "/api/v1/chapters/ghost/plagiarism", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown chapter: got %d", w.Code)
	}
}

func TestHandleSimilarBooks(t *testing.T) {
	s := newTestStack(t)
	for _, b := range []models.BookMetadata{
		{BookID: "b1", Title: "Tides", Description: "A story of the sea.", Categories: []string{"sea"}},
		{BookID: "b2", Title: "Dunes", Description: "A story of the desert.", Categories: []string{"desert"}},
		{BookID: "b3", Title: "Reefs", Description: "Another story of the sea.", Categories: []string{"sea"}},
	} {
		s.cat.AddBook(b)
		if w := s.do(t, http.MethodPost, "/api/v1/books/"+b.BookID+"/embedding", ""); w.Code != http.StatusOK {
			t.Fatalf("embed book %s: %d", b.BookID, w.Code)
		}
	}

	w := s.do(t, http.MethodGet, "/api/v1/books/b1/similar?count=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		Books []models.ScoredBook `json:"books"`
	}
	decode(t, w, &out)
	if len(out.Books) != 2 {
		t.Errorf("expected 2 other books, got %+v", out.Books)
	}
	for _, b := range out.Books {
		if b.BookID == "b1" {
			t.Error("a book should not be similar to itself")
		}
	}

	if w := s.do(t, http.MethodGet, "/api/v1/books/b1/similar?count=many", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad count: got %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/api/v1/books/nope/similar", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown book: got %d", w.Code)
	}
}

func TestHandleRecommendations_coldStart(t *testing.T) {
	s := newTestStack(t)
	now := time.Now()
	s.cat.Read("x", "popular", now)
	s.cat.Read("y", "popular", now)
	s.cat.Read("x", "niche", now)

	w := s.do(t, http.MethodGet, "/api/v1/users/newcomer/recommendations?count=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var res models.RecommendationResult
	decode(t, w, &res)
	if !res.ColdStart {
		t.Error("a user without history should take the cold start path")
	}
	if len(res.Recommendations) == 0 || res.Recommendations[0].BookID != "popular" {
		t.Errorf("recommendations: %v", res.BookIDs())
	}

	if w := s.do(t, http.MethodGet, "/api/v1/users/newcomer/recommendations?count=x", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad count: got %d", w.Code)
	}
}

func TestHandleRecommendations_emptyPool(t *testing.T) {
	s := newTestStack(t)
	w := s.do(t, http.MethodGet, "/api/v1/users/anyone/recommendations", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var raw map[string]json.RawMessage
	decode(t, w, &raw)
	if string(raw["recommendations"]) != "[]" {
		t.Errorf("recommendations should be an empty list, got %s", raw["recommendations"])
	}
	if string(raw["fallback"]) != `"candidate_pool_empty"` {
		t.Errorf("fallback: got %s", raw["fallback"])
	}
}

func TestHandleUserEvent(t *testing.T) {
	s := newTestStack(t)
	w := s.do(t, http.MethodPost, "/api/v1/users/u1/events", `{"type":"rating","book_id":"b1"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status: got %d", w.Code)
	}
	var out map[string]interface{}
	decode(t, w, &out)
	if out["status"] != "invalidated" || out["similarity_refresh_due"] != true {
		t.Errorf("response: %v", out)
	}

	if w := s.do(t, http.MethodPost, "/api/v1/users/u1/events", `{"type":"sneeze"}`); w.Code != http.StatusBadRequest {
		t.Errorf("unknown type: got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/v1/users/u1/events", `{`); w.Code != http.StatusBadRequest {
		t.Errorf("bad body: got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/v1/users/u1/events", ""); w.Code != http.StatusAccepted {
		t.Errorf("empty body: got %d", w.Code)
	}
}

func TestHandleSimilarityRefresh(t *testing.T) {
	s := newTestStack(t)
	now := time.Now()
	for _, book := range []string{"A", "B", "C"} {
		s.cat.Rate("u", book, 5, now)
		s.cat.Rate("n", book, 4, now)
	}

	w := s.do(t, http.MethodPost, "/api/v1/similarity/refresh", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var report collab.RefreshReport
	decode(t, w, &report)
	if report.Users != 2 || report.Failed != 0 {
		t.Errorf("report: %+v", report)
	}
	if n, _ := s.store.CountUserSimilarities(context.Background()); n != 1 {
		t.Errorf("stored pairs: got %d", n)
	}

	w = s.do(t, http.MethodPost, "/api/v1/similarity/refresh", `{"user_ids":["u"]}`)
	decode(t, w, &report)
	if report.Users != 1 {
		t.Errorf("targeted refresh users: got %d", report.Users)
	}
}

func TestHandleMigrate(t *testing.T) {
	s := newTestStack(t)
	s.cat.AddBook(models.BookMetadata{BookID: "b1", Title: "Tides"})
	s.cat.AddChapter("b1", "c1", prose("harbor", 10))
	s.cat.AddChapter("b1", "c2", prose("storm", 10))

	w := s.do(t, http.MethodPost, "/api/v1/migrations?batch_size=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var report models.MigrationReport
	decode(t, w, &report)
	if report.Embedded != 2 || report.BooksEmbedded != 1 || report.Batches != 2 {
		t.Errorf("report: %+v", report)
	}

	if w := s.do(t, http.MethodPost, "/api/v1/migrations?batch_size=lots", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad batch size: got %d", w.Code)
	}
}

func TestHandleStatusAndMetrics(t *testing.T) {
	s := newTestStack(t)
	w := s.do(t, http.MethodGet, "/api/v1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out map[string]json.RawMessage
	decode(t, w, &out)
	for _, key := range []string{"storage", "indexed_books", "config"} {
		if _, ok := out[key]; !ok {
			t.Errorf("status response missing %q", key)
		}
	}

	w = s.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "hondana_http_requests_total") {
		t.Error("metrics should include API request counters")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("chapter x: %w", catalog.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("book x: %w", storage.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("embed: %w", embedding.ErrEmbeddingUnavailable), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
