package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/hondana/internal/collab"
	"github.com/hyperjump/hondana/internal/models"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"text", OutputText, false},
		{"JSON", OutputJSON, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestWriteRecommendations(t *testing.T) {
	res := &models.RecommendationResult{
		UserID:    "u1",
		ColdStart: true,
		QueryTime: 3,
		Recommendations: []*models.Recommendation{
			{BookID: "b1", Rank: 1, Score: 0.6, PopularityScore: 1},
			{BookID: "b2", Rank: 2, Score: 0.4, ContentScore: 1},
		},
	}

	var buf bytes.Buffer
	if err := WriteRecommendations(&buf, res, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.RecommendationResult
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.UserID != "u1" || len(decoded.Recommendations) != 2 || !decoded.ColdStart {
		t.Errorf("decoded: %+v", decoded)
	}

	buf.Reset()
	if err := WriteRecommendations(&buf, res, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"2 recommendations for u1", "cold start", "Book: b1", "Rank: 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteRecommendations_fallback(t *testing.T) {
	var buf bytes.Buffer
	res := &models.RecommendationResult{UserID: "u1", Fallback: "candidate_pool_empty"}
	if err := WriteRecommendations(&buf, res, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "candidate_pool_empty") {
		t.Errorf("fallback not reported: %s", buf.String())
	}
}

func TestWritePlagiarism(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePlagiarism(&buf, "c1", 0.92, nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"matches": []`) {
		t.Errorf("nil matches should encode as an empty list: %s", buf.String())
	}

	buf.Reset()
	matches := []*models.PlagiarismMatch{{
		MatchedChapterID: "c9",
		MatchedBookID:    "b9",
		Similarity:       0.97,
		NeedsReview:      true,
		Pairs:            []models.ChunkPair{{CandidateChunkIndex: 0, MatchedChunkIndex: 4, Similarity: 0.97}},
	}}
	if err := WritePlagiarism(&buf, "c1", 0.92, matches, OutputText); err != nil {
		t.Fatal(err)
	}
	if out := buf.String(); !strings.Contains(out, "Chapter: c9 (book b9)") || !strings.Contains(out, "chunk 0 ~ chunk 4") {
		t.Errorf("text output:\n%s", out)
	}
}

func TestWriteSimilarBooks(t *testing.T) {
	var buf bytes.Buffer
	books := []models.ScoredBook{{BookID: "b2", Score: 0.8}}
	if err := WriteSimilarBooks(&buf, "b1", books, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "1. b2") {
		t.Errorf("text output:\n%s", buf.String())
	}
}

func TestWriteMigrationReport(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := &models.MigrationReport{
		RunID:      "run-1",
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Books:      2,
		Chapters:   5,
		Embedded:   4,
		Failed:     1,
		Skipped:    []models.SkippedItem{{Kind: "chapter", ID: "c3", Error: "rejected input"}},
	}
	var buf bytes.Buffer
	if err := WriteMigrationReport(&buf, r, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"run-1 finished in 1.5s", "4 embedded", "1 failed", "skipped chapter c3: rejected input"} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteRefreshReport(t *testing.T) {
	var buf bytes.Buffer
	r := &collab.RefreshReport{Users: 3, RowsWritten: 4, Duration: 2 * time.Second}
	if err := WriteRefreshReport(&buf, r, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Refreshed 3 users in 2s: 4 pair rows") {
		t.Errorf("text output: %s", buf.String())
	}
}
