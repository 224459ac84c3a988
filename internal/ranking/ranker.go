// Package ranking blends collaborative, content and popularity signals into a ranked
// list of book recommendations.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/hondana/internal/catalog"
	"github.com/hyperjump/hondana/internal/config"
	"github.com/hyperjump/hondana/internal/metrics"
	"github.com/hyperjump/hondana/internal/models"
	"github.com/hyperjump/hondana/internal/profile"
	"github.com/hyperjump/hondana/internal/storage"
	"github.com/hyperjump/hondana/pkg/utils"
	"go.uber.org/zap"
)

// ErrCandidatePoolEmpty means nothing was left to recommend after filtering. Recommend
// records it in RecommendationResult.Fallback instead of returning it.
var ErrCandidatePoolEmpty = errors.New("candidate_pool_empty")

// ProfileSource supplies behavior profiles.
type ProfileSource interface {
	Profile(ctx context.Context, userID string) (*models.UserBehaviorProfile, error)
}

// NeighborSource serves the materialized collaborative neighborhood of a user.
type NeighborSource interface {
	Snapshot(ctx context.Context, userID string) (*models.SimilaritySnapshot, error)
	Neighbors(ctx context.Context, userID string) ([]models.Neighbor, error)
	BookScores(ctx context.Context, neighbors []models.Neighbor, exclude map[string]struct{}) (map[string]float64, error)
}

// ContentSource scores books by semantic closeness to a preference vector.
type ContentSource interface {
	CategoryCentroid(ctx context.Context, weights map[string]float64) []float32
	ContentScores(ctx context.Context, query []float32, topN int) ([]models.ScoredBook, error)
}

// Ranker produces recommendations. The final score is
// Score = (Wc * Sc) + (Wv * Sv) + (Wp * Sp), each signal min-max normalized over the
// candidate set.
type Ranker struct {
	profiles     ProfileSource
	neighbors    NeighborSource
	content      ContentSource
	interactions catalog.InteractionStore
	config       config.RankingConfig
	logger       *zap.Logger
}

// RankerOption configures a Ranker.
type RankerOption func(*Ranker)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) RankerOption {
	return func(r *Ranker) { r.logger = l }
}

// NewRanker creates a ranker over the given signal sources.
func NewRanker(profiles ProfileSource, neighbors NeighborSource, content ContentSource, interactions catalog.InteractionStore, cfg config.RankingConfig, opts ...RankerOption) *Ranker {
	r := &Ranker{
		profiles:     profiles,
		neighbors:    neighbors,
		content:      content,
		interactions: interactions,
		config:       cfg,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = utils.OrNop(r.logger)
	return r
}

// ClampCount maps a requested result count onto [1, MaxCount]; non-positive means default.
func (r *Ranker) ClampCount(count int) int {
	if count <= 0 {
		count = r.config.DefaultCount
	}
	if r.config.MaxCount > 0 && count > r.config.MaxCount {
		count = r.config.MaxCount
	}
	if count <= 0 {
		count = 1
	}
	return count
}

// Recommend returns up to count books for userID. Users without a usable neighborhood
// take the cold-start path. Books the user already read, purchased or rated are never
// returned. An empty pool yields an empty list with Fallback set, not an error.
func (r *Ranker) Recommend(ctx context.Context, userID string, count int) (*models.RecommendationResult, error) {
	start := time.Now()
	count = r.ClampCount(count)

	prof, err := r.profiles.Profile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile for %s: %w", userID, err)
	}
	exclude := prof.ConsumedBookIDs()

	collaborative, err := r.collaborativeScores(ctx, prof, exclude)
	coldStart := errors.Is(err, profile.ErrInsufficientData)
	if err != nil && !coldStart {
		return nil, err
	}
	weights := r.config.Weights
	if coldStart {
		weights = r.config.ColdStartWeights
		collaborative = nil
		r.logger.Debug("cold start ranking", zap.String("user_id", userID), zap.String("reason", err.Error()))
	}

	content, err := r.contentScores(ctx, prof)
	if err != nil {
		return nil, err
	}
	popularity, err := r.interactions.CountInteractionsByBook(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count interactions: %w", err)
	}

	var candidates []string
	if coldStart {
		candidates = union(topBooks(content, r.config.ContentCandidates), topBooks(toFloat(popularity), r.config.PopularCandidates))
	} else {
		candidates = union(keys(collaborative), topBooks(content, r.config.ContentCandidates))
	}

	recs := blend(candidates, weights, collaborative, content, toFloat(popularity))
	filtered := recs[:0]
	for _, rec := range recs {
		if _, consumed := exclude[rec.BookID]; !consumed {
			filtered = append(filtered, rec)
		}
	}
	if len(filtered) > count {
		filtered = filtered[:count]
	}
	for i, rec := range filtered {
		rec.Rank = i + 1
	}

	result := &models.RecommendationResult{
		UserID:          userID,
		ColdStart:       coldStart,
		Recommendations: filtered,
	}
	path := "personalized"
	if coldStart {
		path = "cold_start"
	}
	if len(filtered) == 0 {
		result.Fallback = ErrCandidatePoolEmpty.Error()
		path = "empty"
	}
	elapsed := time.Since(start)
	result.QueryTime = elapsed.Milliseconds()
	metrics.Recommendations.WithLabelValues(path).Inc()
	metrics.RecommendationLatency.Observe(elapsed.Seconds())
	r.logger.Debug("recommendations ranked",
		zap.String("user_id", userID),
		zap.String("path", path),
		zap.Int("candidates", len(candidates)),
		zap.Int("returned", len(filtered)),
	)
	return result, nil
}

// collaborativeScores wraps profile.ErrInsufficientData when the user has no behavior,
// no snapshot, or no neighbor.
func (r *Ranker) collaborativeScores(ctx context.Context, prof *models.UserBehaviorProfile, exclude map[string]struct{}) (map[string]float64, error) {
	if prof.IsColdStart() {
		return nil, fmt.Errorf("empty profile: %w", profile.ErrInsufficientData)
	}
	if _, err := r.neighbors.Snapshot(ctx, prof.UserID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("no similarity snapshot: %w", profile.ErrInsufficientData)
		}
		return nil, fmt.Errorf("failed to read similarity snapshot: %w", err)
	}
	neighbors, err := r.neighbors.Neighbors(ctx, prof.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to read neighbors: %w", err)
	}
	// Every stored neighbor already shares min_co_rated_books books with the user, so a
	// single one above the floor is a usable neighborhood.
	if len(neighbors) == 0 {
		return nil, fmt.Errorf("no neighbors above the similarity floor: %w", profile.ErrInsufficientData)
	}
	return r.neighbors.BookScores(ctx, neighbors, exclude)
}

// contentScores searches with the centroid of the user's category preference, or of
// the stated onboarding categories when there is no behavior yet.
func (r *Ranker) contentScores(ctx context.Context, prof *models.UserBehaviorProfile) (map[string]float64, error) {
	weights := prof.CategoryPreference
	if len(weights) == 0 && len(prof.PreferredCategories) > 0 {
		weights = make(map[string]float64, len(prof.PreferredCategories))
		for _, c := range prof.PreferredCategories {
			weights[c] = 1
		}
	}
	if len(weights) == 0 {
		return nil, nil
	}
	query := r.content.CategoryCentroid(ctx, weights)
	scored, err := r.content.ContentScores(ctx, query, r.config.ContentCandidates)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(scored))
	for _, s := range scored {
		out[s.BookID] = s.Score
	}
	return out, nil
}
