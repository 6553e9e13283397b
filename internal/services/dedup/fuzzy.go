package dedup

import (
	"fmt"
	"strings"

	"github.com/xrash/smetrics"

	"github.com/lithium-07/dedup-webset/internal/models"
)

// Outcome classifies a (new, existing) pair.
type Outcome int

const (
	OutcomeUnique Outcome = iota
	OutcomeAmbiguous
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeAmbiguous:
		return "ambiguous"
	default:
		return "unique"
	}
}

// Match is the result of one fuzzy comparison: the classification, the
// similarity score that drove it, and the rejection reason when duplicate.
type Match struct {
	Outcome    Outcome
	Similarity float64
	Reason     string
	Details    string
}

// JaroWinkler computes similarity on lowercased input.
func JaroWinkler(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	return smetrics.JaroWinkler(strings.ToLower(a), strings.ToLower(b), 0.7, 4)
}

// Compare classifies newRow against an accepted row. Rules are evaluated in
// fixed order; the first decisive rule wins.
func Compare(newRow, existing *models.CanonicalRow, mode models.Mode) Match {
	// Rule 1: video-platform items compare by normalized title only.
	if newRow.IsVideoPlatform && existing.IsVideoPlatform {
		sim := JaroWinkler(newRow.NormalizedTitle, existing.NormalizedTitle)
		switch {
		case sim > 0.95:
			return Match{
				Outcome:    OutcomeDuplicate,
				Similarity: sim,
				Reason:     models.ReasonNearDuplicate,
				Details:    fmt.Sprintf("video title similarity %.3f to %q", sim, existing.Name),
			}
		case sim > 0.85:
			return Match{Outcome: OutcomeAmbiguous, Similarity: sim}
		default:
			return Match{Outcome: OutcomeUnique, Similarity: sim}
		}
	}

	// Rule 2: same registrable domain means the subdomains cannot make the
	// pair distinct (generic vs generic, generic vs organizational, or both
	// organizational all collapse).
	if subdomainsSimilar(newRow, existing) {
		if mode == models.ModeCompany {
			return Match{
				Outcome:    OutcomeDuplicate,
				Similarity: 1,
				Reason:     models.ReasonSubdomainDuplicate,
				Details:    fmt.Sprintf("same registrable domain %s as %q", existing.ETLD1, existing.Name),
			}
		}
		// Entity mode falls through to name comparison.
	}

	// Rule 3: same brand across different registrable domains.
	if newRow.Brand != "" && len(newRow.Brand) > 2 && newRow.Brand == existing.Brand && newRow.ETLD1 != existing.ETLD1 {
		bothGeneric := newRow.SubClass == models.SubdomainGeneric && existing.SubClass == models.SubdomainGeneric
		bothSpecific := newRow.SubClass == models.SubdomainOther && existing.SubClass == models.SubdomainOther
		nameSim := JaroWinkler(newRow.Name, existing.Name)

		switch {
		case bothGeneric && mode == models.ModeCompany:
			return Match{
				Outcome:    OutcomeDuplicate,
				Similarity: nameSim,
				Reason:     models.ReasonNearDuplicate,
				Details:    fmt.Sprintf("same brand %q on %s and %s", newRow.Brand, newRow.ETLD1, existing.ETLD1),
			}
		case bothSpecific:
			if nameSim > 0.8 {
				return Match{
					Outcome:    OutcomeDuplicate,
					Similarity: nameSim,
					Reason:     models.ReasonNearDuplicate,
					Details:    fmt.Sprintf("same brand %q, name similarity %.3f", newRow.Brand, nameSim),
				}
			}
			return Match{Outcome: OutcomeAmbiguous, Similarity: nameSim}
		default:
			return Match{Outcome: OutcomeAmbiguous, Similarity: nameSim}
		}
	}

	// Rule 4: name similarity. Names of one or two characters carry too
	// little signal for a deterministic verdict, so they skip to the later
	// rules (and usually end up in the candidate pool).
	longNames := len(newRow.Name) > 2 && len(existing.Name) > 2

	if mode == models.ModeEntity {
		sim := JaroWinkler(newRow.NormalizedTitle, existing.NormalizedTitle)
		if longNames && sim > 0.92 {
			return Match{
				Outcome:    OutcomeDuplicate,
				Similarity: sim,
				Reason:     models.ReasonEntityFuzzyMatch,
				Details:    fmt.Sprintf("normalized title similarity %.3f to %q", sim, existing.Name),
			}
		}
		if newRow.Brand != existing.Brand && newRow.ETLD1 != existing.ETLD1 {
			return Match{Outcome: OutcomeUnique, Similarity: sim}
		}
		return Match{Outcome: OutcomeAmbiguous, Similarity: sim}
	}

	sim := JaroWinkler(newRow.Name, existing.Name)
	if longNames && sim > 0.95 {
		return Match{
			Outcome:    OutcomeDuplicate,
			Similarity: sim,
			Reason:     models.ReasonNearDuplicate,
			Details:    fmt.Sprintf("name similarity %.3f to %q", sim, existing.Name),
		}
	}

	// Rule 5: different brand and different registrable domain.
	if newRow.Brand != existing.Brand && newRow.ETLD1 != existing.ETLD1 {
		return Match{Outcome: OutcomeUnique, Similarity: sim}
	}

	// Rule 6: everything else stays ambiguous.
	return Match{Outcome: OutcomeAmbiguous, Similarity: sim}
}

// subdomainsSimilar reports whether the two hosts share a registrable domain
// AND their subdomains cannot mark distinct properties: both generic, one
// generic and one organizational, or both organizational. A specific
// subdomain (regional site, product property) on either side keeps the pair
// unresolved so the later rules decide.
func subdomainsSimilar(a, b *models.CanonicalRow) bool {
	if a.ETLD1 == "" || a.ETLD1 != b.ETLD1 {
		return false
	}
	aGeneric := a.SubClass == models.SubdomainGeneric
	bGeneric := b.SubClass == models.SubdomainGeneric
	aOrg := IsOrganizationalSubdomain(a.Subdomain)
	bOrg := IsOrganizationalSubdomain(b.Subdomain)

	switch {
	case aGeneric && bGeneric:
		return true
	case (aGeneric && bOrg) || (aOrg && bGeneric):
		return true
	case aOrg && bOrg:
		return true
	default:
		return false
	}
}
