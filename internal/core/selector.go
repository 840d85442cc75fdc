package core

import (
	"math"
	"sort"

	"github.com/playmind/guessball/internal/store"
)

// Engine decision thresholds.
const (
	guessConfidence        = 0.9  // commit to a guess at or above this
	questionMatchThreshold = 0.92 // fuzzy question-to-attribute resolution
	entityMatchThreshold   = 0.9  // fuzzy guess-to-entity resolution
)

// scoredAttribute is one selector candidate with its information-value
// score. Lower scores are better.
type scoredAttribute struct {
	stat  store.AttributeStat
	score float64
}

// rankAttributes scores every informative attribute and returns them best
// first. An attribute is skipped when it was already asked, sits in a
// confirmed exclusive group, or would not split the candidate set
// (trueCount of zero or of the whole pool).
func (e *Engine) rankAttributes(stats []store.AttributeStat, st *ConstraintState) []scoredAttribute {
	asked := make(map[string]struct{}, len(st.AskedIDs))
	for _, id := range st.AskedIDs {
		asked[id] = struct{}{}
	}

	var ranked []scoredAttribute
	for _, stat := range stats {
		if stat.TotalCount <= 0 {
			continue
		}
		if _, ok := asked[stat.AttributeID]; ok {
			continue
		}
		if attr, ok := e.catalog.Get(stat.AttributeID); ok && st.InConfirmedGroup(attr) {
			continue
		}
		if stat.TrueCount == 0 || stat.TrueCount == stat.TotalCount {
			continue
		}
		p := float64(stat.TrueCount) / float64(stat.TotalCount)
		coverage := float64(stat.KnownCount) / float64(stat.TotalCount)
		score := math.Abs(0.5-p) + (1-coverage)*0.2
		ranked = append(ranked, scoredAttribute{stat: stat, score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.score != b.score {
			return a.score < b.score
		}
		if a.stat.KnownCount != b.stat.KnownCount {
			return a.stat.KnownCount > b.stat.KnownCount
		}
		return a.stat.AttributeID < b.stat.AttributeID
	})
	return ranked
}
