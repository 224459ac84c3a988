package ranking

import (
	"sort"

	"github.com/hyperjump/hondana/internal/config"
	"github.com/hyperjump/hondana/internal/models"
	"github.com/hyperjump/hondana/pkg/utils"
)

// blend normalizes each signal over candidates, applies the weighted sum and returns
// the candidates ordered by score, book id ascending on ties.
func blend(candidates []string, w config.BlendWeights, collaborative, content, popularity map[string]float64) []*models.Recommendation {
	sc := utils.MinMaxNormalize(collaborative, candidates)
	sv := utils.MinMaxNormalize(content, candidates)
	sp := utils.MinMaxNormalize(popularity, candidates)

	recs := make([]*models.Recommendation, 0, len(candidates))
	for _, id := range candidates {
		recs = append(recs, &models.Recommendation{
			BookID:             id,
			Score:              w.Collaborative*sc[id] + w.Content*sv[id] + w.Popularity*sp[id],
			CollaborativeScore: sc[id],
			ContentScore:       sv[id],
			PopularityScore:    sp[id],
		})
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Score != recs[j].Score {
			return recs[i].Score > recs[j].Score
		}
		return recs[i].BookID < recs[j].BookID
	})
	return recs
}

// topBooks returns the n highest-valued ids, id ascending on ties.
func topBooks(values map[string]float64, n int) []string {
	ids := keys(values)
	sort.SliceStable(ids, func(i, j int) bool {
		return values[ids[i]] > values[ids[j]]
	})
	if n >= 0 && len(ids) > n {
		ids = ids[:n]
	}
	return ids
}

// keys returns the sorted keys of m.
func keys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// union merges id lists, keeping first-seen order and dropping duplicates.
func union(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, l := range lists {
		for _, id := range l {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func toFloat(counts map[string]int) map[string]float64 {
	out := make(map[string]float64, len(counts))
	for k, v := range counts {
		out[k] = float64(v)
	}
	return out
}
