package collab

import (
	"math"
	"sort"

	"github.com/hyperjump/hondana/internal/models"
)

// Pearson returns the correlation of paired samples. It is 0 with fewer than two points
// or when either side has zero variance.
func Pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n < 2 || n != len(ys) {
		return 0
	}
	var mx, my float64
	for i := range xs {
		mx += xs[i]
		my += ys[i]
	}
	mx /= float64(n)
	my /= float64(n)

	var cov, vx, vy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	r := cov / math.Sqrt(vx*vy)
	return math.Max(-1, math.Min(1, r))
}

// Jaccard returns |a ∩ b| / |a ∪ b|, and 0 when both sets are empty.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, x := range a {
		set[x] = true
	}
	inter := 0
	union := len(set)
	seen := make(map[string]bool, len(b))
	for _, x := range b {
		if seen[x] {
			continue
		}
		seen[x] = true
		if set[x] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

// interacted returns every book the user rated, read, bookmarked or purchased.
func interacted(p *models.UserBehaviorProfile) map[string]struct{} {
	out := make(map[string]struct{}, len(p.Ratings)+len(p.ReadBookIDs))
	for id := range p.Ratings {
		out[id] = struct{}{}
	}
	for _, ids := range [][]string{p.ReadBookIDs, p.BookmarkedBookIDs, p.PurchasedBookIDs} {
		for _, id := range ids {
			out[id] = struct{}{}
		}
	}
	return out
}

// Compare scores the pair (a, b): Pearson correlation over books both rated, Jaccard
// overlap of their top categories, and the weighted blend of the two. CommonBookIDs lists
// every book both users interacted with. The result is canonical (UserIDA < UserIDB).
func (f *Filter) Compare(a, b *models.UserBehaviorProfile) *models.UserSimilarity {
	booksA, booksB := interacted(a), interacted(b)
	var common []string
	for id := range booksA {
		if _, ok := booksB[id]; ok {
			common = append(common, id)
		}
	}
	sort.Strings(common)

	var xs, ys []float64
	for _, id := range common {
		ra, okA := a.Ratings[id]
		rb, okB := b.Ratings[id]
		if okA && okB {
			xs = append(xs, ra)
			ys = append(ys, rb)
		}
	}

	sim := &models.UserSimilarity{
		UserIDA:           a.UserID,
		UserIDB:           b.UserID,
		CommonBookIDs:     common,
		RatingCorrelation: Pearson(xs, ys),
		CategoryOverlap:   Jaccard(a.TopCategories(f.config.TopCategories), b.TopCategories(f.config.TopCategories)),
		ComputedAt:        f.now(),
	}
	sim.SimilarityScore = f.config.RatingWeight*sim.RatingCorrelation + f.config.CategoryWeight*sim.CategoryOverlap
	sim.Canonicalize()
	return sim
}
