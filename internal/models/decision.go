package models

// DecisionKind discriminates the pending-decision sum type.
type DecisionKind string

const (
	DecisionPair    DecisionKind = "pair"
	DecisionEntity  DecisionKind = "entity"
	DecisionCompany DecisionKind = "company"
)

// Candidate is one accepted row offered to the adjudicator for comparison
// against a new ambiguous row.
type Candidate struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	URL   string  `json:"url"`
	Brand string  `json:"brand,omitempty"`
	ETLD1 string  `json:"etld1,omitempty"`
	Score float64 `json:"-"`
}

// Decision is a pending dedup question staged for the LLM adjudicator.
// Exactly one shape per Kind:
//   - DecisionPair: one new row against one accepted row (host-pair cacheable)
//   - DecisionEntity: one new entity against its ranked candidate set
//   - DecisionCompany: one new company against its ranked candidate set
type Decision struct {
	Kind       DecisionKind
	JobID      string
	NewID      string
	NewName    string
	NewURL     string
	NewBrand   string
	NewETLD1   string
	Candidates []Candidate
	Raw        Item
}

// HostPairKeys returns the sorted host-pair cache keys this decision settles,
// one per candidate that carries a usable host.
func (d *Decision) HostPairKeys(hostOf func(rawURL string) string) []string {
	newHost := hostOf(d.NewURL)
	if newHost == "" {
		return nil
	}
	keys := make([]string, 0, len(d.Candidates))
	for _, c := range d.Candidates {
		h := hostOf(c.URL)
		if h == "" {
			continue
		}
		keys = append(keys, HostPairKey(newHost, h))
	}
	return keys
}

// HostPairKey builds the order-independent cache key for a host pair.
func HostPairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}
