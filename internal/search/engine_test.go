package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/hondana/internal/catalog"
	"github.com/hyperjump/hondana/internal/config"
	"github.com/hyperjump/hondana/internal/embedding"
	"github.com/hyperjump/hondana/internal/indexer"
	"github.com/hyperjump/hondana/internal/models"
	"github.com/hyperjump/hondana/internal/storage"
	"github.com/hyperjump/hondana/internal/vector"
)

func story(subject string, sentences int) string {
	var b strings.Builder
	for i := 0; i < sentences; i++ {
		fmt.Fprintf(&b, "The %s walked past house number %d and kept going. ", subject, i)
		if i%5 == 4 {
			b.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(b.String())
}

type fixture struct {
	store  *storage.SQLiteStorage
	cat    *catalog.MemoryCatalog
	index  *vector.MemoryIndex
	idx    *indexer.Indexer
	engine *Engine
}

func newFixture(t *testing.T, dims int) *fixture {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Chunking.ChunkSize = 300
	cfg.Embedding.Dimensions = dims
	cfg.Similarity.ScanPageSize = 3

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "embeddings.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	index, err := vector.NewMemoryIndex(dims)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{store: store, cat: catalog.NewMemoryCatalog(), index: index}
	client := embedding.NewClient(embedding.NewMockEmbedder(dims), cfg.Embedding)
	f.engine = NewEngine(store, index, cfg.Similarity)
	f.idx = indexer.NewIndexer(store, f.cat, client, cfg, indexer.WithBookSink(f.engine))
	return f
}

func TestEngine_CheckPlagiarism_exactDuplicate(t *testing.T) {
	f := newFixture(t, 64)
	ctx := context.Background()

	original := story("lighthouse keeper", 40)
	f.cat.AddChapter("b1", "c1", original)
	f.cat.AddChapter("b1", "c2", story("baker's apprentice", 40))
	f.cat.AddChapter("b2", "copy", original)
	for _, id := range []string{"c1", "c2", "copy"} {
		if _, err := f.idx.GenerateEmbeddingsForChapter(ctx, id); err != nil {
			t.Fatal(err)
		}
	}

	matches, err := f.engine.CheckPlagiarism(ctx, "copy")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected exactly one matched chapter, got %d", len(matches))
	}
	m := matches[0]
	if m.MatchedChapterID != "c1" || m.MatchedBookID != "b1" {
		t.Errorf("matched %s/%s", m.MatchedBookID, m.MatchedChapterID)
	}
	if math.Abs(m.Similarity-1) > 1e-6 {
		t.Errorf("duplicate similarity %v, want ≈1.0", m.Similarity)
	}
	if !m.NeedsReview {
		t.Error("matches are flagged for review")
	}
	chunks, _ := f.store.CountChunks(ctx, "copy")
	if len(m.Pairs) < chunks {
		t.Errorf("every duplicated chunk should pair up: %d pairs for %d chunks", len(m.Pairs), chunks)
	}
	for _, p := range m.Pairs {
		if p.Similarity < 0.92 {
			t.Errorf("pair below threshold: %+v", p)
		}
	}
}

func TestEngine_CheckPlagiarism_noMatch(t *testing.T) {
	f := newFixture(t, 64)
	ctx := context.Background()
	f.cat.AddChapter("b1", "c1", story("sailor", 20))
	f.cat.AddChapter("b2", "c2", story("astronomer", 20))
	for _, id := range []string{"c1", "c2"} {
		if _, err := f.idx.GenerateEmbeddingsForChapter(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	matches, err := f.engine.CheckPlagiarism(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Errorf("unrelated chapters should not match: %+v", matches)
	}
}

func TestEngine_CheckPlagiarism_missingChapter(t *testing.T) {
	f := newFixture(t, 8)
	if _, err := f.engine.CheckPlagiarism(context.Background(), "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected storage.ErrNotFound, got %v", err)
	}
}

func TestEngine_CheckPlagiarism_refreshesCandidate(t *testing.T) {
	f := newFixture(t, 64)
	ctx := context.Background()
	engine := NewEngine(f.store, f.index, config.SimilarityConfig{PlagiarismThreshold: 0.92, ScanPageSize: 10}, WithRefresher(f.idx))

	text := story("clockmaker", 15)
	f.cat.AddChapter("b1", "c1", text)
	if _, err := f.idx.GenerateEmbeddingsForChapter(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	// The candidate was never embedded; the refresher generates it first.
	f.cat.AddChapter("b2", "c2", text)
	matches, err := engine.CheckPlagiarism(ctx, "c2")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].MatchedChapterID != "c1" {
		t.Errorf("matches: %+v", matches)
	}
}

func seedBooks(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	books := []*models.BookEmbedding{
		{BookID: "b1", Vector: []float32{1, 0, 0}, CategoryTags: []string{"fantasy"}, ContentHash: "1"},
		{BookID: "b2", Vector: []float32{0.9, 0.1, 0}, CategoryTags: []string{"fantasy"}, ContentHash: "2"},
		{BookID: "b3", Vector: []float32{0, 1, 0}, CategoryTags: []string{"romance"}, ContentHash: "3"},
		{BookID: "b4", Vector: []float32{-1, 0, 0}, CategoryTags: []string{"horror"}, ContentHash: "4"},
	}
	for _, b := range books {
		if err := f.store.UpsertBookEmbedding(ctx, b); err != nil {
			t.Fatal(err)
		}
	}
	n, err := f.engine.RefreshBookIndex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 || f.engine.IndexedBooks() != 4 {
		t.Fatalf("indexed %d books", n)
	}
}

func TestEngine_FindSimilarBooks(t *testing.T) {
	f := newFixture(t, 3)
	seedBooks(t, f)
	ctx := context.Background()

	got, err := f.engine.FindSimilarBooks(ctx, "b1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].BookID != "b2" || got[1].BookID != "b3" {
		t.Errorf("similar books: %+v", got)
	}
	for _, b := range got {
		if b.BookID == "b1" {
			t.Error("a book is not similar to itself")
		}
	}

	all, _ := f.engine.FindSimilarBooks(ctx, "b1", 0)
	if len(all) != 3 || all[2].BookID != "b4" || all[2].Score > -0.99 {
		t.Errorf("default count should return the rest, opposite last: %+v", all)
	}

	if _, err := f.engine.FindSimilarBooks(ctx, "nope", 3); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected storage.ErrNotFound, got %v", err)
	}
}

func TestEngine_CategoryCentroidAndContentScores(t *testing.T) {
	f := newFixture(t, 3)
	seedBooks(t, f)
	ctx := context.Background()

	centroid := f.engine.CategoryCentroid(ctx, map[string]float64{"romance": 1, "unknown": 5})
	if len(centroid) != 3 || centroid[1] != 1 {
		t.Errorf("romance centroid: %v", centroid)
	}
	if f.engine.CategoryCentroid(ctx, map[string]float64{"unknown": 1}) != nil {
		t.Error("unknown categories should give no centroid")
	}

	centroid = f.engine.CategoryCentroid(ctx, map[string]float64{"fantasy": 1})
	scores, err := f.engine.ContentScores(ctx, centroid, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(scores) != 2 {
		t.Fatalf("scores: %+v", scores)
	}
	for _, s := range scores {
		if s.BookID != "b1" && s.BookID != "b2" {
			t.Errorf("fantasy centroid should rank fantasy books first: %+v", scores)
		}
	}
	if none, _ := f.engine.ContentScores(ctx, nil, 5); none != nil {
		t.Error("no query vector means no content scores")
	}
}

func TestEngine_centroidsFollowBookWrites(t *testing.T) {
	f := newFixture(t, 16)
	ctx := context.Background()
	if n, err := f.engine.RefreshBookIndex(ctx); err != nil || n != 0 {
		t.Fatalf("empty refresh: %d, %v", n, err)
	}

	f.cat.AddBook(models.BookMetadata{BookID: "b1", Title: "Dragons", Description: "A wyrm wakes", Categories: []string{"fantasy"}})
	f.cat.AddChapter("b1", "c1", story("dragon", 10))
	report, err := f.idx.MigrateCorpusEmbeddings(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if report.BooksEmbedded != 1 || f.engine.IndexedBooks() != 1 {
		t.Fatalf("migration: %+v, indexed %d", report, f.engine.IndexedBooks())
	}
	centroid := f.engine.CategoryCentroid(ctx, map[string]float64{"fantasy": 1})
	if centroid == nil {
		t.Fatal("fantasy centroid missing after migration")
	}
	scores, err := f.engine.ContentScores(ctx, centroid, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(scores) != 1 || scores[0].BookID != "b1" {
		t.Errorf("content scores: %+v", scores)
	}

	// Retagging moves the book to its new category.
	f.cat.AddBook(models.BookMetadata{BookID: "b1", Title: "Dragons", Description: "A wyrm wakes", Categories: []string{"horror"}})
	if updated, err := f.idx.UpsertBookEmbedding(ctx, "b1"); err != nil || !updated {
		t.Fatalf("retag: %v, %v", updated, err)
	}
	if f.engine.CategoryCentroid(ctx, map[string]float64{"fantasy": 1}) != nil {
		t.Error("fantasy should be empty after retagging")
	}
	if f.engine.CategoryCentroid(ctx, map[string]float64{"horror": 1}) == nil {
		t.Error("horror centroid missing after retagging")
	}
}
