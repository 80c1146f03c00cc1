package stats

import (
	"sort"

	"github.com/verte-zerg/signdrill/internal/model"
)

// SelectWeakSigns selects the lowest-accuracy signs from aggregates.
func SelectWeakSigns(aggs []model.SignAggregate, top int) map[model.Label]struct{} {
	weakSet := map[model.Label]struct{}{}
	candidates := make([]model.SignAggregate, 0, len(aggs))
	for _, agg := range aggs {
		if _, ok := model.ParseLabel(agg.Sign); ok && agg.Total() > 0 {
			candidates = append(candidates, agg)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		ai, _ := SignAccuracy(candidates[i])
		aj, _ := SignAccuracy(candidates[j])
		if ai == aj {
			return candidates[i].Sign < candidates[j].Sign
		}
		return ai < aj
	})
	if top <= 0 || top > len(candidates) {
		top = len(candidates)
	}
	for _, agg := range candidates[:top] {
		label, _ := model.ParseLabel(agg.Sign)
		weakSet[label] = struct{}{}
	}
	return weakSet
}
