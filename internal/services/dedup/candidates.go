package dedup

import (
	"fmt"
	"sort"

	"github.com/lithium-07/dedup-webset/internal/models"
)

const (
	companyPoolMin = 0.3
	companyPoolCap = 5
	entityPoolMin  = 0.6
	entityPoolCap  = 3
	entityRejectJW = 0.9
)

// PoolResult is the outcome of candidate assembly: either an immediate
// rejection shortcut (entity mode high-similarity), or a ranked pool to hand
// to the adjudicator. An empty pool with no Reject means accept outright.
type PoolResult struct {
	Pool       []*models.CanonicalRow
	Reject     *models.CanonicalRow
	Reason     string
	Details    string
	Similarity float64
}

// BuildPool ranks the union of fuzzy-ambiguous rows and vector-recall hits
// against the new row, filters by the mode's floor, and caps to the mode's
// top-K.
func BuildPool(newRow *models.CanonicalRow, candidates []*models.CanonicalRow, mode models.Mode) PoolResult {
	type scored struct {
		row   *models.CanonicalRow
		score float64
	}

	seen := make(map[string]bool, len(candidates))
	ranked := make([]scored, 0, len(candidates))

	for _, cand := range candidates {
		if cand == nil || cand.RowID == newRow.RowID || seen[cand.RowID] {
			continue
		}
		seen[cand.RowID] = true

		if mode == models.ModeEntity {
			titleSim := JaroWinkler(newRow.NormalizedTitle, cand.NormalizedTitle)
			if titleSim > entityRejectJW {
				return PoolResult{
					Reject:     cand,
					Reason:     models.ReasonEntityVeryHighSimilarity,
					Details:    fmt.Sprintf("normalized title similarity %.3f to %q", titleSim, cand.Name),
					Similarity: titleSim,
				}
			}
			nameSim := JaroWinkler(newRow.Name, cand.Name)
			if nameSim > entityRejectJW {
				return PoolResult{
					Reject:     cand,
					Reason:     models.ReasonHighSimilarityMatch,
					Details:    fmt.Sprintf("name similarity %.3f to %q", nameSim, cand.Name),
					Similarity: nameSim,
				}
			}
			score := titleSim
			if nameSim > score {
				score = nameSim
			}
			if score < entityPoolMin {
				continue
			}
			ranked = append(ranked, scored{row: cand, score: score})
			continue
		}

		score := 0.6 * JaroWinkler(newRow.Name, cand.Name)
		if newRow.ETLD1 != "" && newRow.ETLD1 == cand.ETLD1 {
			score += 0.2
		}
		if newRow.Brand != "" && newRow.Brand == cand.Brand {
			score += 0.2
		}
		if score <= companyPoolMin {
			continue
		}
		ranked = append(ranked, scored{row: cand, score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	limit := companyPoolCap
	if mode == models.ModeEntity {
		limit = entityPoolCap
	}
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	result := PoolResult{Pool: make([]*models.CanonicalRow, 0, len(ranked))}
	for _, s := range ranked {
		result.Pool = append(result.Pool, s.row)
	}
	return result
}

// Candidates converts a pool to the adjudicator's wire shape.
func Candidates(newRow *models.CanonicalRow, pool []*models.CanonicalRow) []models.Candidate {
	out := make([]models.Candidate, 0, len(pool))
	for _, row := range pool {
		out = append(out, models.Candidate{
			ID:    row.RowID,
			Name:  row.Name,
			URL:   row.URL,
			Brand: row.Brand,
			ETLD1: row.ETLD1,
			Score: JaroWinkler(newRow.Name, row.Name),
		})
	}
	return out
}
