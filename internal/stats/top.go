package stats

import (
	"sort"

	"github.com/verte-zerg/signdrill/internal/model"
)

// TopSignsByPractice returns the n signs with the most practice sessions.
func TopSignsByPractice(sessions []model.SessionAggregate, n int) []string {
	if n <= 0 || len(sessions) == 0 {
		return nil
	}
	counts := map[string]int{}
	for _, s := range sessions {
		counts[s.Sign]++
	}
	signs := make([]string, 0, len(counts))
	for sign := range counts {
		signs = append(signs, sign)
	}
	sort.Slice(signs, func(i, j int) bool {
		if counts[signs[i]] == counts[signs[j]] {
			return signs[i] < signs[j]
		}
		return counts[signs[i]] > counts[signs[j]]
	})
	if n > len(signs) {
		n = len(signs)
	}
	return signs[:n]
}
