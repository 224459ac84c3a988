// Package cli formats engine results for the hondana command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/hondana/internal/collab"
	"github.com/hyperjump/hondana/internal/models"
	"github.com/hyperjump/hondana/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat accepts "text" or "json"; anything else is an error.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

const rule = "─────────────────────────────────────────────────────────"

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteRecommendations writes a recommendation result in the given format.
func WriteRecommendations(w io.Writer, res *models.RecommendationResult, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, res)
	}
	path := "personalized"
	if res.ColdStart {
		path = "cold start"
	}
	fmt.Fprintf(w, "\n%d recommendations for %s in %dms (%s)\n\n", len(res.Recommendations), res.UserID, res.QueryTime, path)
	if res.Fallback != "" {
		fmt.Fprintf(w, "No candidates left to recommend (%s)\n", res.Fallback)
		return nil
	}
	for _, rec := range res.Recommendations {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "Rank: %d | Book: %s | Score: %.4f\n", rec.Rank, rec.BookID, rec.Score)
		fmt.Fprintf(w, "  collaborative %.4f  content %.4f  popularity %.4f\n",
			rec.CollaborativeScore, rec.ContentScore, rec.PopularityScore)
	}
	return nil
}

// WritePlagiarism writes plagiarism matches for chapterID.
func WritePlagiarism(w io.Writer, chapterID string, threshold float64, matches []*models.PlagiarismMatch, format OutputFormat) error {
	if format == OutputJSON {
		if matches == nil {
			matches = []*models.PlagiarismMatch{}
		}
		return WriteJSON(w, map[string]interface{}{"chapter_id": chapterID, "threshold": threshold, "matches": matches})
	}
	if len(matches) == 0 {
		fmt.Fprintf(w, "No chunks of %s reach similarity %.2f\n", chapterID, threshold)
		return nil
	}
	fmt.Fprintf(w, "\n%d chapters flagged for review against %s (threshold %.2f)\n\n", len(matches), chapterID, threshold)
	for _, m := range matches {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "Chapter: %s (book %s) | Max similarity: %.4f | Pairs: %d\n",
			m.MatchedChapterID, m.MatchedBookID, m.Similarity, len(m.Pairs))
		for _, p := range m.Pairs {
			fmt.Fprintf(w, "  chunk %d ~ chunk %d  %.4f\n", p.CandidateChunkIndex, p.MatchedChunkIndex, p.Similarity)
		}
	}
	return nil
}

// WriteSimilarBooks writes the books closest to bookID.
func WriteSimilarBooks(w io.Writer, bookID string, books []models.ScoredBook, format OutputFormat) error {
	if format == OutputJSON {
		if books == nil {
			books = []models.ScoredBook{}
		}
		return WriteJSON(w, map[string]interface{}{"book_id": bookID, "books": books})
	}
	fmt.Fprintf(w, "\nBooks similar to %s:\n", bookID)
	for i, b := range books {
		fmt.Fprintf(w, "%3d. %-36s %.4f\n", i+1, b.BookID, b.Score)
	}
	return nil
}

// WriteChapterResult writes the outcome of a chapter embedding run.
func WriteChapterResult(w io.Writer, res *models.ChapterResult, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, res)
	}
	fmt.Fprintf(w, "Chapter %s (book %s): %s, %d chunks, hash %s\n",
		res.ChapterID, res.BookID, res.Status, res.Chunks, utils.Truncate(res.ContentHash, 12))
	return nil
}

// WriteMigrationReport writes a corpus migration report.
func WriteMigrationReport(w io.Writer, r *models.MigrationReport, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, r)
	}
	fmt.Fprintf(w, "Migration %s finished in %s\n", r.RunID, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "  books:    %d (%d embedded)\n", r.Books, r.BooksEmbedded)
	fmt.Fprintf(w, "  chapters: %d (%d embedded, %d unchanged, %d failed)\n", r.Chapters, r.Embedded, r.Unchanged, r.Failed)
	fmt.Fprintf(w, "  batches:  %d of size %d, %d cooldowns, %d provider calls\n", r.Batches, r.BatchSize, r.Cooldowns, r.ProviderCalls)
	for _, s := range r.Skipped {
		fmt.Fprintf(w, "  skipped %s %s: %s\n", s.Kind, s.ID, utils.Truncate(s.Error, 120))
	}
	return nil
}

// WriteRefreshReport writes a similarity refresh report.
func WriteRefreshReport(w io.Writer, r *collab.RefreshReport, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, r)
	}
	fmt.Fprintf(w, "Refreshed %d users in %s: %d pair rows, %d cold start, %d failed\n",
		r.Users, r.Duration.Round(time.Millisecond), r.RowsWritten, r.ColdStart, r.Failed)
	return nil
}
