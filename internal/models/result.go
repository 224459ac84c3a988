package models

import "time"

// ChunkPair is one candidate chunk that closely matches a corpus chunk.
type ChunkPair struct {
	CandidateChunkIndex int     `json:"candidate_chunk_index"`
	MatchedChunkID      string  `json:"matched_chunk_id"`
	MatchedChunkIndex   int     `json:"matched_chunk_index"`
	Similarity          float64 `json:"similarity"`
}

// PlagiarismMatch groups flagged chunk pairs by the matched chapter.
// A match is a prompt for human review, never a verdict.
type PlagiarismMatch struct {
	MatchedChapterID string      `json:"matched_chapter_id"`
	MatchedBookID    string      `json:"matched_book_id"`
	Similarity       float64     `json:"similarity"`
	Pairs            []ChunkPair `json:"pairs"`
	NeedsReview      bool        `json:"needs_review"`
}

// ScoredBook is a book with a similarity score.
type ScoredBook struct {
	BookID string  `json:"book_id"`
	Score  float64 `json:"score"`
}

// Recommendation is one ranked book with its normalized component scores.
type Recommendation struct {
	BookID             string  `json:"book_id"`
	Rank               int     `json:"rank"`
	Score              float64 `json:"score"`
	CollaborativeScore float64 `json:"collaborative_score"`
	ContentScore       float64 `json:"content_score"`
	PopularityScore    float64 `json:"popularity_score"`
}

// RecommendationResult is the ranked output for a user. Fallback names the
// degraded path taken, if any.
type RecommendationResult struct {
	UserID          string            `json:"user_id"`
	ColdStart       bool              `json:"cold_start"`
	Fallback        string            `json:"fallback,omitempty"`
	Recommendations []*Recommendation `json:"recommendations"`
	QueryTime       int64             `json:"query_time_ms"`
}

// BookIDs returns the recommended book ids in rank order.
func (r *RecommendationResult) BookIDs() []string {
	ids := make([]string, len(r.Recommendations))
	for i, rec := range r.Recommendations {
		ids[i] = rec.BookID
	}
	return ids
}

// ChapterStatus is the outcome of embedding one chapter.
type ChapterStatus string

const (
	// ChapterEmbedded means new vectors were written.
	ChapterEmbedded ChapterStatus = "embedded"
	// ChapterUnchanged means the stored hash matched and nothing was written.
	ChapterUnchanged ChapterStatus = "unchanged"
	// ChapterEmpty means the chapter had no text; stale rows were removed.
	ChapterEmpty ChapterStatus = "empty"
)

// ChapterResult reports what GenerateEmbeddingsForChapter did.
type ChapterResult struct {
	ChapterID   string        `json:"chapter_id"`
	BookID      string        `json:"book_id"`
	Status      ChapterStatus `json:"status"`
	Chunks      int           `json:"chunks"`
	ContentHash string        `json:"content_hash"`
}

// SkippedItem is a book or chapter a migration run could not process.
type SkippedItem struct {
	Kind  string `json:"kind"`
	ID    string `json:"id"`
	Error string `json:"error"`
}

// MigrationReport summarizes a corpus regeneration run.
type MigrationReport struct {
	RunID         string        `json:"run_id"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	BatchSize     int           `json:"batch_size"`
	Batches       int           `json:"batches"`
	Books         int           `json:"books"`
	BooksEmbedded int           `json:"books_embedded"`
	Chapters      int           `json:"chapters"`
	Embedded      int           `json:"embedded"`
	Unchanged     int           `json:"unchanged"`
	Failed        int           `json:"failed"`
	Cooldowns     int           `json:"cooldowns"`
	ProviderCalls int64         `json:"provider_calls"`
	Skipped       []SkippedItem `json:"skipped"`
}
