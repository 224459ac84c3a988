// Package profile turns a user's raw interaction events into a UserBehaviorProfile:
// decayed, rating-weighted category preferences plus the user's rating history.
package profile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/hyperjump/hondana/internal/catalog"
	"github.com/hyperjump/hondana/internal/config"
	"github.com/hyperjump/hondana/internal/models"
	"github.com/hyperjump/hondana/pkg/utils"
	"go.uber.org/zap"
)

// ErrInsufficientData means a user has too few signals for the personalized path. It is
// a routing signal toward cold start, never a failure reported to the end user.
var ErrInsufficientData = errors.New("insufficient interaction data")

// Profiler computes and caches behavior profiles.
type Profiler struct {
	interactions catalog.InteractionStore
	content      catalog.ContentStore
	config       config.ProfileConfig
	cache        *profileCache
	now          func() time.Time
	logger       *zap.Logger
}

// ProfilerOption configures a Profiler.
type ProfilerOption func(*Profiler)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) ProfilerOption {
	return func(p *Profiler) { p.logger = l }
}

// WithClock replaces time.Now for recency decay.
func WithClock(now func() time.Time) ProfilerOption {
	return func(p *Profiler) { p.now = now }
}

// NewProfiler creates a profiler. A non-positive cfg.CacheSize disables caching.
func NewProfiler(interactions catalog.InteractionStore, content catalog.ContentStore, cfg config.ProfileConfig, opts ...ProfilerOption) (*Profiler, error) {
	cache, err := newProfileCache(cfg.CacheSize, cfg.CacheTTL)
	if err != nil {
		return nil, err
	}
	p := &Profiler{
		interactions: interactions,
		content:      content,
		config:       cfg,
		cache:        cache,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = utils.OrNop(p.logger)
	return p, nil
}

// Profile returns the behavior profile of userID. A user with no interactions gets the
// explicit empty profile, not an error. Returned profiles may be shared through the cache
// and must not be modified.
func (p *Profiler) Profile(ctx context.Context, userID string) (*models.UserBehaviorProfile, error) {
	if cached, ok := p.cache.get(userID); ok {
		return cached, nil
	}
	gen := p.cache.generation(userID)
	in, err := p.interactions.GetUserInteractions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load interactions for %s: %w", userID, err)
	}

	var prof *models.UserBehaviorProfile
	if in.Empty() {
		prof = models.NewEmptyProfile(userID, in.PreferredCategories)
	} else {
		prof, err = p.build(ctx, in)
		if err != nil {
			return nil, err
		}
	}
	p.cache.set(prof, gen)
	return prof, nil
}

// Require returns the profile only if it is active, and ErrInsufficientData otherwise.
func (p *Profiler) Require(ctx context.Context, userID string) (*models.UserBehaviorProfile, error) {
	prof, err := p.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if prof.IsColdStart() {
		return nil, fmt.Errorf("user %s: %w", userID, ErrInsufficientData)
	}
	return prof, nil
}

// Invalidate drops the cached profile of userID, e.g. after a new interaction.
func (p *Profiler) Invalidate(userID string) {
	p.cache.del(userID)
}

// Close releases the cache.
func (p *Profiler) Close() {
	p.cache.close()
}

type bookSignal struct {
	weight float64
	at     time.Time
}

func (p *Profiler) build(ctx context.Context, in *models.Interactions) (*models.UserBehaviorProfile, error) {
	now := p.now()
	prof := &models.UserBehaviorProfile{
		UserID:              in.UserID,
		Kind:                models.ProfileActive,
		Ratings:             make(map[string]float64, len(in.Ratings)),
		CategoryPreference:  make(map[string]float64),
		PreferredCategories: in.PreferredCategories,
		ComputedAt:          now,
	}

	signals := make(map[string]*bookSignal)
	touch := func(bookID string, at time.Time) *bookSignal {
		s := signals[bookID]
		if s == nil {
			s = &bookSignal{at: at}
			signals[bookID] = s
		}
		if at.After(s.at) {
			s.at = at
		}
		if at.After(prof.LastActiveAt) {
			prof.LastActiveAt = at
		}
		return s
	}

	// An explicit rating overrides implicit signals; among implicit ones the strongest wins.
	var ratingSum float64
	for _, r := range in.Ratings {
		touch(r.BookID, r.At)
		prof.Ratings[r.BookID] = r.Value
		ratingSum += r.Value
		if r.Value >= p.config.HighRatingThreshold {
			prof.HighlyRatedBookIDs = append(prof.HighlyRatedBookIDs, r.BookID)
		}
	}
	if len(in.Ratings) > 0 {
		prof.AverageRating = ratingSum / float64(len(in.Ratings))
	}
	implicit := func(events []models.Event, weight float64) []string {
		seen := make(map[string]struct{}, len(events))
		var ids []string
		for _, e := range events {
			s := touch(e.BookID, e.At)
			if _, rated := prof.Ratings[e.BookID]; !rated && weight > s.weight {
				s.weight = weight
			}
			if _, dup := seen[e.BookID]; !dup {
				seen[e.BookID] = struct{}{}
				ids = append(ids, e.BookID)
			}
		}
		sort.Strings(ids)
		return ids
	}
	prof.ReadBookIDs = implicit(in.Reads, p.config.ImplicitReadWeight)
	prof.BookmarkedBookIDs = implicit(in.Bookmarks, p.config.ImplicitBookmarkWeight)
	prof.PurchasedBookIDs = implicit(in.Purchases, p.config.ImplicitPurchaseWeight)
	prof.TotalBooksRead = len(prof.ReadBookIDs)
	sort.Strings(prof.HighlyRatedBookIDs)

	for bookID, v := range prof.Ratings {
		signals[bookID].weight = utils.Clamp(v/p.config.MaxRating, 0, 1)
	}

	bookIDs := make([]string, 0, len(signals))
	for id := range signals {
		bookIDs = append(bookIDs, id)
	}
	sort.Strings(bookIDs)
	categories, err := p.content.GetBookCategories(ctx, bookIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load book categories: %w", err)
	}

	halfLife := time.Duration(p.config.HalfLifeDays * float64(24*time.Hour))
	var total float64
	for _, bookID := range bookIDs {
		s := signals[bookID]
		contribution := s.weight * decay(now.Sub(s.at), halfLife)
		if contribution <= 0 {
			continue
		}
		for _, c := range categories[bookID] {
			prof.CategoryPreference[c] += contribution
			total += contribution
		}
	}
	if total > 0 {
		for c, w := range prof.CategoryPreference {
			prof.CategoryPreference[c] = w / total
		}
	}

	p.logger.Debug("profile computed",
		zap.String("user_id", in.UserID),
		zap.Int("books", len(bookIDs)),
		zap.Int("categories", len(prof.CategoryPreference)),
	)
	return prof, nil
}

// decay is 0.5^(age/halfLife). Future timestamps count as age 0; a non-positive half
// life disables decay.
func decay(age, halfLife time.Duration) float64 {
	if halfLife <= 0 || age <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}
