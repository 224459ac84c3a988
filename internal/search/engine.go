// Package search answers similarity questions over stored embeddings: plagiarism
// checks across chapter chunks, "more like this" book lookups, and content scores
// for the recommendation ranker.
package search

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/hondana/internal/config"
	"github.com/hyperjump/hondana/internal/metrics"
	"github.com/hyperjump/hondana/internal/models"
	"github.com/hyperjump/hondana/internal/storage"
	"github.com/hyperjump/hondana/internal/vector"
	"github.com/hyperjump/hondana/pkg/utils"
	"go.uber.org/zap"
)

const defaultSimilarCount = 10

// ChapterRefresher regenerates a chapter's embeddings when its text changed.
type ChapterRefresher interface {
	EnsureChapterFresh(ctx context.Context, chapterID string) (bool, error)
}

// RefresherFunc adapts a function to ChapterRefresher.
type RefresherFunc func(ctx context.Context, chapterID string) (bool, error)

// EnsureChapterFresh calls f.
func (f RefresherFunc) EnsureChapterFresh(ctx context.Context, chapterID string) (bool, error) {
	return f(ctx, chapterID)
}

// Engine runs similarity queries over the embedding store and the book vector index.
type Engine struct {
	storage   storage.Storage
	bookIndex vector.VectorIndex
	config    config.SimilarityConfig
	refresher ChapterRefresher
	logger    *zap.Logger

	mu             sync.RWMutex
	categories     map[string][]float32            // category -> mean book vector
	members        map[string]map[string][]float32 // category -> book -> vector
	bookCategories map[string][]string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithRefresher makes CheckPlagiarism bring a stale candidate chapter up to date first.
func WithRefresher(r ChapterRefresher) EngineOption {
	return func(e *Engine) { e.refresher = r }
}

// NewEngine creates a similarity engine with the given dependencies.
func NewEngine(store storage.Storage, bookIndex vector.VectorIndex, cfg config.SimilarityConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		storage:    store,
		bookIndex:  bookIndex,
		config:     cfg,
		categories:     make(map[string][]float32),
		members:        make(map[string]map[string][]float32),
		bookCategories: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = utils.OrNop(e.logger)
	return e
}

// CheckPlagiarism compares every chunk of the candidate chapter with every chunk of
// every other chapter and returns, per matched chapter, the chunk pairs at or above the
// plagiarism threshold. Matches are for human review only. Results are ordered by
// similarity, highest first.
func (e *Engine) CheckPlagiarism(ctx context.Context, chapterID string) ([]*models.PlagiarismMatch, error) {
	if e.refresher != nil {
		if _, err := e.refresher.EnsureChapterFresh(ctx, chapterID); err != nil {
			return nil, fmt.Errorf("failed to refresh chapter %s: %w", chapterID, err)
		}
	}
	candidate, err := e.storage.GetChunkEmbeddings(ctx, chapterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks for chapter %s: %w", chapterID, err)
	}
	if len(candidate) == 0 {
		return nil, fmt.Errorf("chapter %s has no chunk embeddings: %w", chapterID, storage.ErrNotFound)
	}

	threshold := e.config.PlagiarismThreshold
	matches := make(map[string]*models.PlagiarismMatch)
	after := ""
	for {
		page, err := e.storage.ScanChunkEmbeddings(ctx, after, e.config.ScanPageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunks: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, other := range page {
			if other.ChapterID == chapterID {
				continue
			}
			for _, c := range candidate {
				sim := vector.CosineSimilarity(c.Vector, other.Vector)
				if sim < threshold {
					continue
				}
				m := matches[other.ChapterID]
				if m == nil {
					m = &models.PlagiarismMatch{
						MatchedChapterID: other.ChapterID,
						MatchedBookID:    other.BookID,
						NeedsReview:      true,
					}
					matches[other.ChapterID] = m
				}
				m.Pairs = append(m.Pairs, models.ChunkPair{
					CandidateChunkIndex: c.ChunkIndex,
					MatchedChunkID:      other.ChunkID,
					MatchedChunkIndex:   other.ChunkIndex,
					Similarity:          sim,
				})
				if sim > m.Similarity {
					m.Similarity = sim
				}
			}
		}
		after = page[len(page)-1].ChunkID
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	out := make([]*models.PlagiarismMatch, 0, len(matches))
	for _, m := range matches {
		sort.Slice(m.Pairs, func(i, j int) bool {
			if m.Pairs[i].Similarity != m.Pairs[j].Similarity {
				return m.Pairs[i].Similarity > m.Pairs[j].Similarity
			}
			if m.Pairs[i].CandidateChunkIndex != m.Pairs[j].CandidateChunkIndex {
				return m.Pairs[i].CandidateChunkIndex < m.Pairs[j].CandidateChunkIndex
			}
			return m.Pairs[i].MatchedChunkIndex < m.Pairs[j].MatchedChunkIndex
		})
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].MatchedChapterID < out[j].MatchedChapterID
	})
	if len(out) > 0 {
		metrics.PlagiarismFlags.Inc()
		e.logger.Info("plagiarism candidates found",
			zap.String("chapter_id", chapterID),
			zap.Int("matched_chapters", len(out)),
			zap.Float64("max_similarity", out[0].Similarity),
		)
	}
	return out, nil
}

// FindSimilarBooks returns up to count books closest to bookID, excluding the book itself.
func (e *Engine) FindSimilarBooks(ctx context.Context, bookID string, count int) ([]models.ScoredBook, error) {
	if count <= 0 {
		count = defaultSimilarCount
	}
	vec, ok := e.bookIndex.Get(bookID)
	if !ok {
		emb, err := e.storage.GetBookEmbedding(ctx, bookID)
		if err != nil {
			return nil, fmt.Errorf("failed to load book %s: %w", bookID, err)
		}
		vec = emb.Vector
		if err := e.IndexBook(ctx, emb); err != nil {
			return nil, err
		}
	}
	results, err := e.bookIndex.Search(ctx, vec, count+1)
	if err != nil {
		return nil, fmt.Errorf("book search failed: %w", err)
	}
	out := make([]models.ScoredBook, 0, count)
	for _, r := range results {
		if r.ID == bookID {
			continue
		}
		out = append(out, models.ScoredBook{BookID: r.ID, Score: r.Score})
		if len(out) == count {
			break
		}
	}
	return out, nil
}

// ContentScores returns the topN books by cosine similarity to query.
func (e *Engine) ContentScores(ctx context.Context, query []float32, topN int) ([]models.ScoredBook, error) {
	if len(query) == 0 || topN <= 0 {
		return nil, nil
	}
	results, err := e.bookIndex.Search(ctx, query, topN)
	if err != nil {
		return nil, fmt.Errorf("content search failed: %w", err)
	}
	out := make([]models.ScoredBook, len(results))
	for i, r := range results {
		out[i] = models.ScoredBook{BookID: r.ID, Score: r.Score}
	}
	return out, nil
}

// CategoryCentroid maps a category preference onto embedding space: the weighted mean
// of the per-category mean book vectors. Categories with no embedded books are ignored;
// nil means nothing matched.
func (e *Engine) CategoryCentroid(ctx context.Context, weights map[string]float64) []float32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cats := make([]string, 0, len(weights))
	for c := range weights {
		if _, ok := e.categories[c]; ok {
			cats = append(cats, c)
		}
	}
	sort.Strings(cats)
	vecs := make([][]float32, len(cats))
	ws := make([]float64, len(cats))
	for i, c := range cats {
		vecs[i] = e.categories[c]
		ws[i] = weights[c]
	}
	return vector.WeightedCentroid(vecs, ws)
}

// RefreshBookIndex loads every stored book embedding into the book index and rebuilds
// the per-category centroids. It returns the number of books indexed.
func (e *Engine) RefreshBookIndex(ctx context.Context) (int, error) {
	books, err := e.storage.ListBookEmbeddings(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list book embeddings: %w", err)
	}
	ids := make([]string, len(books))
	vecs := make([][]float32, len(books))
	members := make(map[string]map[string][]float32)
	bookCategories := make(map[string][]string, len(books))
	for i, b := range books {
		ids[i] = b.BookID
		vecs[i] = b.Vector
		bookCategories[b.BookID] = append([]string(nil), b.CategoryTags...)
		for _, c := range b.CategoryTags {
			if members[c] == nil {
				members[c] = make(map[string][]float32)
			}
			members[c][b.BookID] = b.Vector
		}
	}
	if err := e.bookIndex.Upsert(ctx, ids, vecs); err != nil {
		return 0, fmt.Errorf("failed to index books: %w", err)
	}

	e.mu.Lock()
	e.members = members
	e.bookCategories = bookCategories
	e.categories = make(map[string][]float32, len(members))
	for c := range members {
		e.recomputeCentroid(c)
	}
	categories := len(e.categories)
	e.mu.Unlock()

	e.logger.Info("book index refreshed", zap.Int("books", len(books)), zap.Int("categories", categories))
	return len(books), nil
}

// IndexBook puts one book embedding into the book index and moves the book into the
// centroids of its current categories, dropping it from categories it no longer carries.
func (e *Engine) IndexBook(ctx context.Context, b *models.BookEmbedding) error {
	if err := e.bookIndex.Upsert(ctx, []string{b.BookID}, [][]float32{b.Vector}); err != nil {
		return fmt.Errorf("failed to index book %s: %w", b.BookID, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	touched := make(map[string]struct{})
	for _, c := range e.bookCategories[b.BookID] {
		delete(e.members[c], b.BookID)
		touched[c] = struct{}{}
	}
	for _, c := range b.CategoryTags {
		if e.members[c] == nil {
			e.members[c] = make(map[string][]float32)
		}
		e.members[c][b.BookID] = b.Vector
		touched[c] = struct{}{}
	}
	e.bookCategories[b.BookID] = append([]string(nil), b.CategoryTags...)
	for c := range touched {
		e.recomputeCentroid(c)
	}
	return nil
}

// recomputeCentroid must be called with mu held.
func (e *Engine) recomputeCentroid(category string) {
	books := e.members[category]
	ids := make([]string, 0, len(books))
	for id := range books {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	vecs := make([][]float32, len(ids))
	for i, id := range ids {
		vecs[i] = books[id]
	}
	if v := vector.Centroid(vecs); v != nil {
		e.categories[category] = v
		return
	}
	delete(e.categories, category)
	delete(e.members, category)
}

// IndexedBooks returns the number of books in the book index.
func (e *Engine) IndexedBooks() int {
	return e.bookIndex.Size()
}
