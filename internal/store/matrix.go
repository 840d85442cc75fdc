package store

import (
	"sort"

	"github.com/playmind/guessball/internal/core/model"
)

// Matrix is an entity-by-attribute fact table with pure aggregate queries.
// MemoryStore computes its aggregates on one, and the matrix cache holds an
// atomically swapped snapshot of one.
type Matrix struct {
	Rows []MatrixRow
}

// filter applies the constraint-free elimination rule: a candidate survives
// unless a recorded fact contradicts a constraint. A "yes" constraint
// eliminates candidates recorded "no" on that attribute, a "no" constraint
// eliminates candidates recorded "yes". Unrecorded cells never eliminate.
// Rejected guesses are excluded by normalized name.
func (m *Matrix) filter(yesIDs, noIDs, rejectedNorms []string) []MatrixRow {
	rejected := make(map[string]struct{}, len(rejectedNorms))
	for _, r := range rejectedNorms {
		rejected[r] = struct{}{}
	}

	var out []MatrixRow
	for _, row := range m.Rows {
		if _, ok := rejected[row.Entity.NormalizedName]; ok {
			continue
		}
		keep := true
		for _, id := range yesIDs {
			if row.Facts[id] == model.AnswerNo {
				keep = false
				break
			}
		}
		if keep {
			for _, id := range noIDs {
				if row.Facts[id] == model.AnswerYes {
					keep = false
					break
				}
			}
		}
		if keep {
			out = append(out, row)
		}
	}
	return out
}

// Summary aggregates the filtered pool: count, total weight, and the top
// candidate by prior weight (ties broken by name for determinism).
func (m *Matrix) Summary(yesIDs, noIDs, rejectedNorms []string) *CandidateSummary {
	pool := m.filter(yesIDs, noIDs, rejectedNorms)
	sum := &CandidateSummary{CandidateCount: int64(len(pool))}
	for _, row := range pool {
		sum.TotalWeight += row.Entity.PriorWeight
		better := row.Entity.PriorWeight > sum.TopWeight ||
			(row.Entity.PriorWeight == sum.TopWeight && (sum.TopEntityName == "" || row.Entity.Name < sum.TopEntityName))
		if better {
			sum.TopWeight = row.Entity.PriorWeight
			sum.TopEntityID = row.Entity.ID
			sum.TopEntityName = row.Entity.Name
		}
	}
	return sum
}

// Stats counts, for every attribute seen in the filtered pool that is not
// already asked, how many candidates are recorded true and how many are
// recorded at all. Results are ordered by attribute id.
func (m *Matrix) Stats(yesIDs, noIDs, askedIDs, rejectedNorms []string) []AttributeStat {
	pool := m.filter(yesIDs, noIDs, rejectedNorms)
	asked := make(map[string]struct{}, len(askedIDs))
	for _, id := range askedIDs {
		asked[id] = struct{}{}
	}

	total := int64(len(pool))
	byAttr := make(map[string]*AttributeStat)
	for _, row := range pool {
		for attrID, answer := range row.Facts {
			if _, ok := asked[attrID]; ok {
				continue
			}
			st := byAttr[attrID]
			if st == nil {
				st = &AttributeStat{AttributeID: attrID, TotalCount: total}
				byAttr[attrID] = st
			}
			switch answer {
			case model.AnswerYes:
				st.TrueCount++
				st.KnownCount++
			case model.AnswerNo:
				st.KnownCount++
			}
		}
	}

	stats := make([]AttributeStat, 0, len(byAttr))
	for _, st := range byAttr {
		stats = append(stats, *st)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].AttributeID < stats[j].AttributeID })
	return stats
}

// Gaps lists entities in the matrix with no recorded value for the given
// attribute, up to limit.
func (m *Matrix) Gaps(attributeID, attributeLabel string, limit int) []Gap {
	var out []Gap
	for _, row := range m.Rows {
		if limit > 0 && len(out) >= limit {
			break
		}
		if _, ok := row.Facts[attributeID]; !ok {
			out = append(out, Gap{
				EntityID:       row.Entity.ID,
				EntityName:     row.Entity.Name,
				AttributeID:    attributeID,
				AttributeLabel: attributeLabel,
			})
		}
	}
	return out
}
