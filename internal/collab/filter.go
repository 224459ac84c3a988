// Package collab implements user-based collaborative filtering: it finds users with
// overlapping reading histories, scores each pair, materializes the neighbor set as a
// batch job, and turns a user's neighbors into per-book scores.
package collab

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/hyperjump/hondana/internal/catalog"
	"github.com/hyperjump/hondana/internal/config"
	"github.com/hyperjump/hondana/internal/metrics"
	"github.com/hyperjump/hondana/internal/models"
	"github.com/hyperjump/hondana/internal/profile"
	"github.com/hyperjump/hondana/internal/storage"
	"github.com/hyperjump/hondana/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ProfileSource supplies behavior profiles.
type ProfileSource interface {
	Profile(ctx context.Context, userID string) (*models.UserBehaviorProfile, error)
}

// SimilarityStore persists pairwise similarities and per-user snapshots.
type SimilarityStore interface {
	ReplaceUserSimilarities(ctx context.Context, userID string, rows []*models.UserSimilarity, snapshot *models.SimilaritySnapshot) error
	GetNeighbors(ctx context.Context, userID string, k int, floor float64) ([]models.Neighbor, error)
	GetSimilaritySnapshot(ctx context.Context, userID string) (*models.SimilaritySnapshot, error)
}

// Filter computes and serves user neighborhoods.
type Filter struct {
	interactions catalog.InteractionStore
	profiles     ProfileSource
	store        SimilarityStore
	config       config.CollabConfig
	now          func() time.Time
	logger       *zap.Logger
}

// FilterOption configures a Filter.
type FilterOption func(*Filter)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) FilterOption {
	return func(f *Filter) { f.logger = l }
}

// WithClock replaces time.Now for snapshot timestamps.
func WithClock(now func() time.Time) FilterOption {
	return func(f *Filter) { f.now = now }
}

// NewFilter creates a collaborative filter.
func NewFilter(interactions catalog.InteractionStore, profiles ProfileSource, store SimilarityStore, cfg config.CollabConfig, opts ...FilterOption) *Filter {
	f := &Filter{
		interactions: interactions,
		profiles:     profiles,
		store:        store,
		config:       cfg,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = utils.OrNop(f.logger)
	return f
}

// MinCoRated is the number of shared books that makes two users neighbor candidates.
func (f *Filter) MinCoRated() int {
	if f.config.MinCoRatedBooks <= 0 {
		return 1
	}
	return f.config.MinCoRatedBooks
}

// Index maps a book id to the users who interacted with it.
type Index map[string][]string

// BuildIndex builds the inverted index for bookIDs.
func (f *Filter) BuildIndex(ctx context.Context, bookIDs []string) (Index, error) {
	idx := make(Index, len(bookIDs))
	for _, id := range bookIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		users, err := f.interactions.ListUsersWhoInteractedWith(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to list users for book %s: %w", id, err)
		}
		idx[id] = users
	}
	return idx, nil
}

// Candidates returns the users other than userID that appear under at least minShared
// books of the index, sorted by id.
func (idx Index) Candidates(userID string, minShared int) []string {
	counts := make(map[string]int)
	for _, users := range idx {
		for _, u := range users {
			if u != userID {
				counts[u]++
			}
		}
	}
	var out []string
	for u, n := range counts {
		if n >= minShared {
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out
}

// CandidateNeighbors returns the users sharing at least MinCoRated books with userID.
func (f *Filter) CandidateNeighbors(ctx context.Context, userID string) ([]string, error) {
	prof, err := f.profiles.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return f.candidates(ctx, prof)
}

func (f *Filter) candidates(ctx context.Context, prof *models.UserBehaviorProfile) ([]string, error) {
	if prof.IsColdStart() {
		return nil, nil
	}
	books := make([]string, 0)
	for id := range interacted(prof) {
		books = append(books, id)
	}
	sort.Strings(books)
	idx, err := f.BuildIndex(ctx, books)
	if err != nil {
		return nil, err
	}
	return idx.Candidates(prof.UserID, f.MinCoRated()), nil
}

// ComputeNeighbors scores every candidate neighbor of userID and returns the pairs
// ordered by score, highest first. A user without interactions yields
// profile.ErrInsufficientData.
func (f *Filter) ComputeNeighbors(ctx context.Context, userID string) ([]*models.UserSimilarity, error) {
	prof, err := f.profiles.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if prof.IsColdStart() {
		return nil, fmt.Errorf("user %s: %w", userID, profile.ErrInsufficientData)
	}
	return f.computeNeighbors(ctx, prof)
}

func (f *Filter) computeNeighbors(ctx context.Context, prof *models.UserBehaviorProfile) ([]*models.UserSimilarity, error) {
	candidates, err := f.candidates(ctx, prof)
	if err != nil {
		return nil, err
	}
	rows := make([]*models.UserSimilarity, 0, len(candidates))
	for _, id := range candidates {
		other, err := f.profiles.Profile(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load profile of candidate %s: %w", id, err)
		}
		rows = append(rows, f.Compare(prof, other))
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].SimilarityScore != rows[j].SimilarityScore {
			return rows[i].SimilarityScore > rows[j].SimilarityScore
		}
		return rows[i].Other(prof.UserID) < rows[j].Other(prof.UserID)
	})
	return rows, nil
}

// RefreshReport summarizes a batch similarity refresh.
type RefreshReport struct {
	Users       int           `json:"users"`
	ColdStart   int           `json:"cold_start"`
	Failed      int           `json:"failed"`
	RowsWritten int           `json:"rows_written"`
	Duration    time.Duration `json:"duration"`
}

// RefreshSnapshots recomputes the neighbor sets of userIDs, or of every known user when
// userIDs is empty. Each user's pair rows are replaced and a snapshot recorded in one
// write; users without interactions get an empty snapshot that clears stale pairs.
// A failing user is logged and counted; only cancellation aborts the batch.
func (f *Filter) RefreshSnapshots(ctx context.Context, userIDs []string) (*RefreshReport, error) {
	start := time.Now()
	if len(userIDs) == 0 {
		var err error
		if userIDs, err = f.interactions.ListUserIDs(ctx); err != nil {
			return nil, fmt.Errorf("failed to list users: %w", err)
		}
	}

	var coldStart, failed, rows atomic.Int64
	g := &errgroup.Group{}
	workers := f.config.Workers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)
	for _, userID := range userIDs {
		userID := userID
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			n, cold, err := f.refreshUser(ctx, userID)
			switch {
			case err != nil && ctx.Err() != nil:
				return ctx.Err()
			case err != nil:
				failed.Add(1)
				f.logger.Warn("similarity refresh failed", zap.String("user_id", userID), zap.Error(err))
			case cold:
				coldStart.Add(1)
			}
			rows.Add(int64(n))
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	report := &RefreshReport{
		Users:       len(userIDs),
		ColdStart:   int(coldStart.Load()),
		Failed:      int(failed.Load()),
		RowsWritten: int(rows.Load()),
		Duration:    time.Since(start),
	}
	metrics.SimilarityRefreshDuration.Observe(report.Duration.Seconds())
	metrics.SimilarityRowsWritten.Add(float64(report.RowsWritten))
	f.logger.Info("similarity refresh finished",
		zap.Int("users", report.Users),
		zap.Int("rows", report.RowsWritten),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration),
	)
	return report, err
}

func (f *Filter) refreshUser(ctx context.Context, userID string) (int, bool, error) {
	prof, err := f.profiles.Profile(ctx, userID)
	if err != nil {
		return 0, false, err
	}
	var rows []*models.UserSimilarity
	if !prof.IsColdStart() {
		if rows, err = f.computeNeighbors(ctx, prof); err != nil {
			return 0, false, err
		}
	}
	neighbors := 0
	for _, r := range rows {
		if r.SimilarityScore > f.config.MinSimilarity {
			neighbors++
		}
	}
	snapshot := &models.SimilaritySnapshot{
		UserID:        userID,
		ComputedAt:    f.now(),
		RatingCount:   len(prof.Ratings),
		NeighborCount: neighbors,
	}
	if err := f.store.ReplaceUserSimilarities(ctx, userID, rows, snapshot); err != nil {
		return 0, false, err
	}
	return len(rows), prof.IsColdStart(), nil
}

// NeedsRefresh reports whether userID has no snapshot or has rated at least
// RefreshRatingDelta books more (or fewer) since the last one.
func (f *Filter) NeedsRefresh(ctx context.Context, userID string) (bool, error) {
	snap, err := f.store.GetSimilaritySnapshot(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	prof, err := f.profiles.Profile(ctx, userID)
	if err != nil {
		return false, err
	}
	delta := len(prof.Ratings) - snap.RatingCount
	if delta < 0 {
		delta = -delta
	}
	return delta >= f.config.RefreshRatingDelta, nil
}

// Snapshot returns the last recorded snapshot of userID, wrapping storage.ErrNotFound
// when the user was never refreshed.
func (f *Filter) Snapshot(ctx context.Context, userID string) (*models.SimilaritySnapshot, error) {
	return f.store.GetSimilaritySnapshot(ctx, userID)
}

// Neighbors reads the materialized top-K neighbors of userID scoring above the floor.
func (f *Filter) Neighbors(ctx context.Context, userID string) ([]models.Neighbor, error) {
	return f.store.GetNeighbors(ctx, userID, f.config.Neighbors, f.config.MinSimilarity)
}

// BookScores predicts a rating for every book the neighbors rated and exclude does not
// contain: the similarity-weighted average of the neighbors' ratings. Neighbors at or
// below the similarity floor do not vote.
func (f *Filter) BookScores(ctx context.Context, neighbors []models.Neighbor, exclude map[string]struct{}) (map[string]float64, error) {
	num := make(map[string]float64)
	den := make(map[string]float64)
	for _, n := range neighbors {
		if n.Score <= f.config.MinSimilarity {
			continue
		}
		prof, err := f.profiles.Profile(ctx, n.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to load profile of neighbor %s: %w", n.UserID, err)
		}
		for bookID, rating := range prof.Ratings {
			if _, skip := exclude[bookID]; skip {
				continue
			}
			num[bookID] += n.Score * rating
			den[bookID] += n.Score
		}
	}
	scores := make(map[string]float64, len(num))
	for bookID, w := range den {
		scores[bookID] = num[bookID] / w
	}
	return scores, nil
}
