package dedup

import (
	"sync"

	"github.com/lithium-07/dedup-webset/internal/models"
)

// pendingEntry tracks one row awaiting an LLM verdict.
type pendingEntry struct {
	row        *models.CanonicalRow
	candidates []models.Candidate
}

// pendingRegistry maps tmpIDs to rows awaiting adjudication. One per engine.
type pendingRegistry struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
}

func newPendingRegistry() *pendingRegistry {
	return &pendingRegistry{entries: make(map[string]*pendingEntry)}
}

func (r *pendingRegistry) add(tmpID string, row *models.CanonicalRow, candidates []models.Candidate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[tmpID] = &pendingEntry{row: row, candidates: candidates}
}

// take removes and returns the entry for tmpID. The second return is false
// when the verdict has already been applied (or the id was never pending),
// which callers treat as a no-op so each pending row resolves exactly once.
func (r *pendingRegistry) take(tmpID string) (*pendingEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[tmpID]
	if ok {
		delete(r.entries, tmpID)
	}
	return entry, ok
}

func (r *pendingRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
