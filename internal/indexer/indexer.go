// Package indexer turns chapter and book text into stored embeddings: chunking,
// embedding, hash-based change detection and corpus migration.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/hondana/internal/catalog"
	"github.com/hyperjump/hondana/internal/config"
	"github.com/hyperjump/hondana/internal/contenthash"
	"github.com/hyperjump/hondana/internal/metrics"
	"github.com/hyperjump/hondana/internal/models"
	"github.com/hyperjump/hondana/internal/storage"
	"github.com/hyperjump/hondana/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrStaleContentHash means the stored embeddings no longer match the source text.
var ErrStaleContentHash = errors.New("stale content hash")

const (
	minMigrationBatch = 1
	maxMigrationBatch = 200
)

// EmbeddingClient is the part of embedding.Client the indexer needs.
type EmbeddingClient interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ProviderCalls() int64
	Throttled() bool
}

// BookSink receives every book embedding the indexer writes or confirms unchanged.
type BookSink interface {
	IndexBook(ctx context.Context, b *models.BookEmbedding) error
}

// Indexer generates and stores chapter, chunk and book embeddings.
type Indexer struct {
	storage   storage.Storage
	content   catalog.ContentStore
	client    EmbeddingClient
	chunker   *Chunker
	migration config.MigrationConfig
	books     BookSink
	logger    *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for chapter and migration events.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithBookSink keeps sink in sync with every book embedding written.
func WithBookSink(sink BookSink) IndexerOption {
	return func(idx *Indexer) { idx.books = sink }
}

// NewIndexer creates an indexer with the given dependencies.
func NewIndexer(
	store storage.Storage,
	content catalog.ContentStore,
	client EmbeddingClient,
	cfg *config.Config,
	opts ...IndexerOption,
) *Indexer {
	idx := &Indexer{
		storage:   store,
		content:   content,
		client:    client,
		chunker:   NewChunker(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap),
		migration: cfg.Migration,
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = utils.OrNop(idx.logger)
	return idx
}

// GenerateEmbeddingsForChapter embeds a chapter's chunks and full text and replaces its
// stored rows in one transaction. When the stored hash matches the current text the call
// is a no-op and makes no provider calls. On failure nothing is written.
func (idx *Indexer) GenerateEmbeddingsForChapter(ctx context.Context, chapterID string) (*models.ChapterResult, error) {
	ch, err := idx.content.GetChapterText(ctx, chapterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chapter %s: %w", chapterID, err)
	}
	hash := contenthash.Of(ch.Text)
	res := &models.ChapterResult{ChapterID: ch.ID, BookID: ch.BookID, ContentHash: hash}

	stored, err := idx.checkChapter(ctx, ch.ID, hash)
	switch {
	case err == nil:
		res.Status = models.ChapterUnchanged
		res.Chunks = stored.ChunkCount
		metrics.ChaptersProcessed.WithLabelValues(string(res.Status)).Inc()
		return res, nil
	case !errors.Is(err, ErrStaleContentHash):
		return nil, err
	}

	text := Preprocess(ch.Text)
	if text == "" {
		if err := idx.storage.DeleteChapterEmbeddings(ctx, ch.ID); err != nil {
			return nil, fmt.Errorf("failed to clear empty chapter %s: %w", ch.ID, err)
		}
		res.Status = models.ChapterEmpty
		metrics.ChaptersProcessed.WithLabelValues(string(res.Status)).Inc()
		return res, nil
	}

	segments := idx.chunker.Chunk(text)
	texts := make([]string, 0, len(segments)+1)
	for _, seg := range segments {
		texts = append(texts, seg.Text)
	}
	// The chapter vector comes from the full text, not an average of chunks.
	texts = append(texts, text)

	vecs, err := idx.client.EmbedBatch(ctx, texts)
	if err != nil {
		metrics.ChaptersProcessed.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to embed chapter %s: %w", ch.ID, err)
	}

	chunks := make([]*models.ChapterChunkEmbedding, len(segments))
	for i, seg := range segments {
		chunkHash := contenthash.Of(seg.Text)
		chunks[i] = &models.ChapterChunkEmbedding{
			ChunkID:     contenthash.ChunkID(ch.ID, seg.Index, chunkHash),
			ChapterID:   ch.ID,
			BookID:      ch.BookID,
			ChunkIndex:  seg.Index,
			StartOffset: seg.Start,
			EndOffset:   seg.End,
			Vector:      vecs[i],
			ContentHash: chunkHash,
		}
	}
	chapter := &models.ChapterContentEmbedding{
		ChapterID:   ch.ID,
		BookID:      ch.BookID,
		Vector:      vecs[len(vecs)-1],
		ContentHash: hash,
	}
	if err := idx.storage.ReplaceChapterEmbeddings(ctx, chapter, chunks); err != nil {
		metrics.ChaptersProcessed.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to store chapter %s: %w", ch.ID, err)
	}

	res.Status = models.ChapterEmbedded
	res.Chunks = len(chunks)
	metrics.ChaptersProcessed.WithLabelValues(string(res.Status)).Inc()
	idx.logger.Debug("chapter embedded",
		zap.String("chapter_id", ch.ID),
		zap.String("book_id", ch.BookID),
		zap.Int("chunks", len(chunks)),
	)
	return res, nil
}

// checkChapter returns the stored chapter row if it matches hash and its chunks exist,
// or an error wrapping ErrStaleContentHash.
func (idx *Indexer) checkChapter(ctx context.Context, chapterID, hash string) (*models.ChapterContentEmbedding, error) {
	stored, err := idx.storage.GetChapterEmbedding(ctx, chapterID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("chapter %s has no embeddings: %w", chapterID, ErrStaleContentHash)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load stored chapter %s: %w", chapterID, err)
	}
	if stored.ContentHash != hash {
		return nil, fmt.Errorf("chapter %s changed: %w", chapterID, ErrStaleContentHash)
	}
	n, err := idx.storage.CountChunks(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	if n == 0 || n != stored.ChunkCount {
		return nil, fmt.Errorf("chapter %s has %d of %d chunks: %w", chapterID, n, stored.ChunkCount, ErrStaleContentHash)
	}
	return stored, nil
}

// EnsureChapterFresh regenerates a chapter's embeddings if the source text changed since
// they were written. It reports whether a regeneration happened.
func (idx *Indexer) EnsureChapterFresh(ctx context.Context, chapterID string) (bool, error) {
	ch, err := idx.content.GetChapterText(ctx, chapterID)
	if err != nil {
		return false, fmt.Errorf("failed to load chapter %s: %w", chapterID, err)
	}
	_, err = idx.checkChapter(ctx, chapterID, contenthash.Of(ch.Text))
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrStaleContentHash) {
		return false, err
	}
	idx.logger.Info("regenerating stale chapter", zap.String("chapter_id", chapterID), zap.Error(err))
	res, err := idx.GenerateEmbeddingsForChapter(ctx, chapterID)
	if err != nil {
		return false, err
	}
	return res.Status == models.ChapterEmbedded, nil
}

// bookText is what a book embedding is computed from: title, description and tags only.
func bookText(meta *models.BookMetadata, categories []string) string {
	var b strings.Builder
	b.WriteString(meta.Title)
	if meta.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(meta.Description)
	}
	if len(categories) > 0 {
		b.WriteString("\n\nCategories: ")
		b.WriteString(strings.Join(categories, ", "))
	}
	return b.String()
}

// UpsertBookEmbedding embeds a book's descriptive metadata. It reports whether a new
// vector was written; an unchanged metadata hash makes no provider call.
func (idx *Indexer) UpsertBookEmbedding(ctx context.Context, bookID string) (bool, error) {
	meta, err := idx.content.GetBookMetadata(ctx, bookID)
	if err != nil {
		return false, fmt.Errorf("failed to load book %s: %w", bookID, err)
	}
	categories := append([]string(nil), meta.Categories...)
	sort.Strings(categories)
	hash := contenthash.OfParts(meta.Title, meta.Description, strings.Join(categories, ","))

	stored, err := idx.storage.GetBookEmbedding(ctx, bookID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("failed to load stored book %s: %w", bookID, err)
	}
	if stored != nil && stored.ContentHash == hash {
		if idx.books != nil {
			if err := idx.books.IndexBook(ctx, stored); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	vecs, err := idx.client.EmbedBatch(ctx, []string{bookText(meta, categories)})
	if err != nil {
		return false, fmt.Errorf("failed to embed book %s: %w", bookID, err)
	}
	emb := &models.BookEmbedding{
		BookID:       bookID,
		Vector:       vecs[0],
		CategoryTags: categories,
		ContentHash:  hash,
		UpdatedAt:    time.Now(),
	}
	if err := idx.storage.UpsertBookEmbedding(ctx, emb); err != nil {
		return false, fmt.Errorf("failed to store book %s: %w", bookID, err)
	}
	if idx.books != nil {
		if err := idx.books.IndexBook(ctx, emb); err != nil {
			return false, err
		}
	}
	idx.logger.Debug("book embedded", zap.String("book_id", bookID))
	return true, nil
}

// ClampBatchSize applies the migration batch size rules: non-positive means the
// configured default, and the result is kept within [1, 200].
func (idx *Indexer) ClampBatchSize(batchSize int) int {
	if batchSize <= 0 {
		batchSize = idx.migration.BatchSize
	}
	if batchSize < minMigrationBatch {
		batchSize = minMigrationBatch
	}
	if batchSize > maxMigrationBatch {
		batchSize = maxMigrationBatch
	}
	return batchSize
}

// MigrateCorpusEmbeddings (re)generates book and chapter embeddings for the whole corpus.
// Chapters run in sequential batches with up to Migration.Workers concurrent chapters per
// batch; rows whose hash still matches are skipped. Failing books and chapters are logged
// and listed in the report without aborting the run. When the provider rate-limited a
// batch, the next batch waits Migration.Cooldown first. Only context cancellation stops
// the run early; the partial report is returned with the error.
func (idx *Indexer) MigrateCorpusEmbeddings(ctx context.Context, batchSize int) (*models.MigrationReport, error) {
	batchSize = idx.ClampBatchSize(batchSize)
	report := &models.MigrationReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		BatchSize: batchSize,
	}
	metrics.MigrationRuns.Inc()
	callsBefore := idx.client.ProviderCalls()
	finish := func(err error) (*models.MigrationReport, error) {
		report.FinishedAt = time.Now()
		report.ProviderCalls = idx.client.ProviderCalls() - callsBefore
		idx.logger.Info("corpus migration finished",
			zap.String("run_id", report.RunID),
			zap.Int("books", report.Books),
			zap.Int("chapters", report.Chapters),
			zap.Int("embedded", report.Embedded),
			zap.Int("unchanged", report.Unchanged),
			zap.Int("failed", report.Failed),
			zap.Int64("provider_calls", report.ProviderCalls),
			zap.Error(err),
		)
		return report, err
	}

	bookIDs, err := idx.content.ListBookIDs(ctx)
	if err != nil {
		return finish(fmt.Errorf("failed to list books: %w", err))
	}
	report.Books = len(bookIDs)
	idx.logger.Info("corpus migration started",
		zap.String("run_id", report.RunID),
		zap.Int("books", len(bookIDs)),
		zap.Int("batch_size", batchSize),
	)

	var mu sync.Mutex
	skip := func(kind, id string, err error) {
		mu.Lock()
		report.Skipped = append(report.Skipped, models.SkippedItem{Kind: kind, ID: id, Error: err.Error()})
		mu.Unlock()
		idx.logger.Warn("migration skipped item", zap.String("kind", kind), zap.String("id", id), zap.Error(err))
	}

	var chapterIDs []string
	g := idx.workerGroup()
	for _, bookID := range bookIDs {
		bookID := bookID
		chapters, err := idx.content.ListChaptersForBook(ctx, bookID)
		if err != nil {
			if ctx.Err() != nil {
				return finish(ctx.Err())
			}
			skip("book", bookID, err)
			continue
		}
		chapterIDs = append(chapterIDs, chapters...)
		g.Go(func() error {
			updated, err := idx.UpsertBookEmbedding(ctx, bookID)
			if err != nil {
				if ctx.Err() == nil {
					skip("book", bookID, err)
				}
				return nil
			}
			if updated {
				mu.Lock()
				report.BooksEmbedded++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return finish(err)
	}
	report.Chapters = len(chapterIDs)

	for start := 0; start < len(chapterIDs); start += batchSize {
		if start > 0 && idx.client.Throttled() && idx.migration.Cooldown > 0 {
			report.Cooldowns++
			idx.logger.Info("provider rate limited; cooling down", zap.Duration("cooldown", idx.migration.Cooldown))
			if err := sleepCtx(ctx, idx.migration.Cooldown); err != nil {
				return finish(err)
			}
		}
		end := start + batchSize
		if end > len(chapterIDs) {
			end = len(chapterIDs)
		}
		report.Batches++

		g := idx.workerGroup()
		for _, chapterID := range chapterIDs[start:end] {
			chapterID := chapterID
			g.Go(func() error {
				res, err := idx.GenerateEmbeddingsForChapter(ctx, chapterID)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					report.Failed++
					report.Skipped = append(report.Skipped, models.SkippedItem{Kind: "chapter", ID: chapterID, Error: err.Error()})
					idx.logger.Warn("chapter embedding failed", zap.String("chapter_id", chapterID), zap.Error(err))
					return nil
				}
				switch res.Status {
				case models.ChapterEmbedded:
					report.Embedded++
				default:
					report.Unchanged++
				}
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return finish(err)
		}
	}
	return finish(nil)
}

func (idx *Indexer) workerGroup() *errgroup.Group {
	g := &errgroup.Group{}
	workers := idx.migration.Workers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)
	return g
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
