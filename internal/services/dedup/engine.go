package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/lithium-07/dedup-webset/internal/interfaces"
	"github.com/lithium-07/dedup-webset/internal/models"
)

// Adjudicator stages ambiguous decisions for batched LLM review. The resolve
// callback fires exactly once with the verdict (true means duplicate).
type Adjudicator interface {
	Enqueue(decision *models.Decision, resolve func(duplicate bool))
}

// Options configures a per-job engine.
type Options struct {
	JobID       string
	Mode        models.Mode
	Enabled     bool
	VectorTopK  int
	Bus         interfaces.StreamBus
	Jobs        interfaces.JobStorage
	Items       interfaces.ItemStorage
	Vector      interfaces.VectorService
	Adjudicator Adjudicator
	Resolver    *URLResolver
	Logger      arbor.ILogger
}

// Engine runs the multi-tier dedup pipeline for one job: canonicalization,
// Tier-0 fingerprint rejection, fuzzy matching against the accepted set,
// vector recall, candidate pooling and LLM adjudication. Company mode
// processes items concurrently; entity mode serializes the whole pipeline per
// item, including the vector index write, so each item sees every prior
// acceptance.
type Engine struct {
	opts   Options
	logger arbor.ILogger

	serialMu sync.Mutex // entity mode only

	mu              sync.Mutex
	fingerprints    map[string]*models.CanonicalRow // tier-0 key -> first accepted row
	accepted        []*models.CanonicalRow
	byID            map[string]*models.CanonicalRow
	processedIDs    map[string]bool
	processedURLs   map[string]*models.CanonicalRow // entity mode
	processedTitles map[string]*models.CanonicalRow // entity mode
	llmCache        map[string]bool                 // host-pair key -> duplicate verdict
	acceptedCount   int
	rejectedCount   int

	pending   *pendingRegistry
	pendingWG sync.WaitGroup
}

// NewEngine creates the engine for one job.
func NewEngine(opts Options) *Engine {
	if opts.VectorTopK <= 0 {
		opts.VectorTopK = 5
	}
	return &Engine{
		opts:            opts,
		logger:          opts.Logger,
		fingerprints:    make(map[string]*models.CanonicalRow),
		byID:            make(map[string]*models.CanonicalRow),
		processedIDs:    make(map[string]bool),
		processedURLs:   make(map[string]*models.CanonicalRow),
		processedTitles: make(map[string]*models.CanonicalRow),
		llmCache:        make(map[string]bool),
		pending:         newPendingRegistry(),
	}
}

// Process runs one raw item through the pipeline. Safe for concurrent use;
// entity mode serializes internally.
func (e *Engine) Process(ctx context.Context, item models.Item) {
	if e.opts.Mode == models.ModeEntity {
		e.serialMu.Lock()
		defer e.serialMu.Unlock()
	}

	row := Canonicalize(item, e.opts.Mode)

	e.mu.Lock()
	if e.processedIDs[row.RowID] {
		e.mu.Unlock()
		return
	}
	e.processedIDs[row.RowID] = true
	e.mu.Unlock()

	if !e.opts.Enabled {
		e.accept(ctx, row, "")
		return
	}

	// Entity bulletproof layers: exact URL and exact normalized title beat
	// every similarity rule.
	if e.opts.Mode == models.ModeEntity {
		e.mu.Lock()
		if row.URL != "" {
			if prior, ok := e.processedURLs[row.URL]; ok {
				e.mu.Unlock()
				e.reject(ctx, row, prior, models.ReasonExactURLDuplicate,
					fmt.Sprintf("url already accepted for %q", prior.Name), 1, "")
				return
			}
		}
		if row.NormalizedTitle != "" {
			if prior, ok := e.processedTitles[row.NormalizedTitle]; ok {
				e.mu.Unlock()
				e.reject(ctx, row, prior, models.ReasonNormalizedTitleDuplicate,
					fmt.Sprintf("normalized title %q already accepted", row.NormalizedTitle), 1, "")
				return
			}
		}
		e.mu.Unlock()
	}

	// Tier 0: deterministic fingerprint. A collision rejects outright in
	// company mode and for video rows, whose key is the title slug; other
	// entity rows routinely share a site fingerprint (one catalog hosting many
	// titles) and fall through to the similarity checks.
	key := Tier0Key(row)
	e.mu.Lock()
	if prior, ok := e.fingerprints[key]; ok && usableFingerprint(row) && e.tier0Rejects(row) {
		e.mu.Unlock()
		e.reject(ctx, row, prior, models.ReasonExactMatch,
			fmt.Sprintf("fingerprint %s matches %q", key, prior.Name), 1, "")
		return
	}

	// Tier 1: fuzzy scan of the accepted set.
	var ambiguous []*models.CanonicalRow
	var dupMatch *Match
	var dupRow *models.CanonicalRow
	for _, existing := range e.accepted {
		m := Compare(row, existing, e.opts.Mode)
		switch m.Outcome {
		case OutcomeDuplicate:
			dup := m
			dupMatch = &dup
			dupRow = existing
		case OutcomeAmbiguous:
			ambiguous = append(ambiguous, existing)
		}
		if dupMatch != nil {
			break
		}
	}
	e.mu.Unlock()

	if dupMatch != nil {
		e.reject(ctx, row, dupRow, dupMatch.Reason, dupMatch.Details, dupMatch.Similarity, "")
		return
	}

	// Host-pair cache: a prior LLM verdict on the same host pair settles the
	// question without another call.
	if kept, cached := e.applyPairCache(ctx, row, ambiguous); cached {
		return
	} else {
		ambiguous = kept
	}

	// URL resolution: ambiguous company pairs whose URLs redirect to the same
	// final host are duplicates.
	if e.opts.Mode == models.ModeCompany && e.opts.Resolver != nil && row.URL != "" {
		for _, cand := range ambiguous {
			if cand.URL == "" {
				continue
			}
			if e.opts.Resolver.SameFinalHost(ctx, row.URL, cand.URL) {
				e.reject(ctx, row, cand, models.ReasonURLResolutionDuplicate,
					fmt.Sprintf("resolves to the same host as %q", cand.Name), 1, "")
				return
			}
		}
	}

	// Tier 2: vector recall widens the candidate set beyond the fuzzy scan.
	candidates := e.withVectorRecall(ctx, row, ambiguous)

	result := BuildPool(row, candidates, e.opts.Mode)
	if result.Reject != nil {
		e.reject(ctx, row, result.Reject, result.Reason, result.Details, result.Similarity, "")
		return
	}
	if len(result.Pool) == 0 {
		e.accept(ctx, row, "")
		return
	}

	e.stagePending(row, result.Pool)
}

// applyPairCache checks every ambiguous candidate against the per-job
// host-pair verdict cache. A cached duplicate verdict rejects the row
// immediately (second return true); cached unique verdicts remove the
// candidate from contention.
func (e *Engine) applyPairCache(ctx context.Context, row *models.CanonicalRow, ambiguous []*models.CanonicalRow) ([]*models.CanonicalRow, bool) {
	if row.Host == "" || len(ambiguous) == 0 {
		return ambiguous, false
	}

	kept := ambiguous[:0]
	for _, cand := range ambiguous {
		if cand.Host == "" {
			kept = append(kept, cand)
			continue
		}
		key := models.HostPairKey(row.Host, cand.Host)
		e.mu.Lock()
		verdict, ok := e.llmCache[key]
		e.mu.Unlock()
		if !ok {
			kept = append(kept, cand)
			continue
		}
		if verdict {
			e.reject(ctx, row, cand, models.ReasonCacheHit,
				fmt.Sprintf("cached duplicate verdict for host pair %s", key), 1, "")
			return nil, true
		}
	}
	return kept, false
}

// withVectorRecall unions vector-index hits into the candidate slice. Recall
// failures degrade to the fuzzy candidates alone.
func (e *Engine) withVectorRecall(ctx context.Context, row *models.CanonicalRow, candidates []*models.CanonicalRow) []*models.CanonicalRow {
	if e.opts.Vector == nil {
		return candidates
	}

	ids, err := e.opts.Vector.Query(ctx, vectorText(row), e.opts.VectorTopK)
	if err != nil || len(ids) == 0 {
		return candidates
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		if hit, ok := e.byID[id]; ok {
			candidates = append(candidates, hit)
		}
	}
	return candidates
}

// stagePending registers the row as awaiting a verdict, emits the pending
// frame, and enqueues the decision. The row's own ID doubles as the tmpId on
// the stream.
func (e *Engine) stagePending(row *models.CanonicalRow, pool []*models.CanonicalRow) {
	cands := Candidates(row, pool)
	tmpID := row.RowID

	e.pending.add(tmpID, row, cands)
	e.pendingWG.Add(1)
	e.opts.Bus.Publish(e.opts.JobID, models.PendingEvent(tmpID))

	kind := models.DecisionCompany
	if e.opts.Mode == models.ModeEntity {
		kind = models.DecisionEntity
	} else if len(cands) == 1 {
		kind = models.DecisionPair
	}

	decision := &models.Decision{
		Kind:       kind,
		JobID:      e.opts.JobID,
		NewID:      row.RowID,
		NewName:    row.Name,
		NewURL:     row.URL,
		NewBrand:   row.Brand,
		NewETLD1:   row.ETLD1,
		Candidates: cands,
		Raw:        row.Raw,
	}

	e.logger.Debug().
		Str("job_id", e.opts.JobID).
		Str("tmp_id", tmpID).
		Int("candidates", len(cands)).
		Msg("Item pending LLM adjudication")

	e.opts.Adjudicator.Enqueue(decision, func(duplicate bool) {
		e.resolvePending(decision, duplicate)
	})
}

// resolvePending applies an LLM verdict to a pending row. Exactly-once: a
// second verdict for the same tmpId is a no-op.
func (e *Engine) resolvePending(decision *models.Decision, duplicate bool) {
	entry, ok := e.pending.take(decision.NewID)
	if !ok {
		return
	}
	defer e.pendingWG.Done()

	// Company verdicts settle the host pair for the rest of the job.
	if decision.Kind != models.DecisionEntity {
		keys := decision.HostPairKeys(HostOf)
		if len(keys) > 0 {
			e.mu.Lock()
			for _, key := range keys {
				e.llmCache[key] = duplicate
			}
			e.mu.Unlock()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if !duplicate {
		e.accept(ctx, entry.row, decision.NewID)
		return
	}

	reason := models.ReasonLLMDuplicate
	if decision.Kind == models.DecisionEntity {
		reason = models.ReasonEntityLLMDuplicate
	}

	var existing *models.CanonicalRow
	if len(entry.candidates) > 0 {
		e.mu.Lock()
		existing = e.byID[entry.candidates[0].ID]
		e.mu.Unlock()
	}
	e.reject(ctx, entry.row, existing, reason,
		fmt.Sprintf("LLM judged duplicate against %d candidate(s)", len(entry.candidates)), 0, decision.NewID)
}

// accept commits a row: fingerprint registration, in-memory indices,
// persistence, the vector index write, and the stream frame. wasPendingTmpID
// is non-empty when the row was previously announced as pending, in which
// case the stream sees confirm instead of item.
func (e *Engine) accept(ctx context.Context, row *models.CanonicalRow, wasPendingTmpID string) {
	e.mu.Lock()
	if e.opts.Enabled && usableFingerprint(row) {
		key := Tier0Key(row)
		if prior, ok := e.fingerprints[key]; ok {
			if e.tier0Rejects(row) {
				// A concurrent item claimed the fingerprint while this one was
				// in flight. First acceptance wins.
				e.mu.Unlock()
				e.reject(ctx, row, prior, models.ReasonExactMatch,
					fmt.Sprintf("fingerprint %s matches %q", key, prior.Name), 1, wasPendingTmpID)
				return
			}
			// Entity rows share site fingerprints; the first registration
			// stands so the table keeps one row per key.
		} else {
			e.fingerprints[key] = row
		}
	}
	e.accepted = append(e.accepted, row)
	e.byID[row.RowID] = row
	if e.opts.Mode == models.ModeEntity {
		if row.URL != "" {
			e.processedURLs[row.URL] = row
		}
		if row.NormalizedTitle != "" {
			e.processedTitles[row.NormalizedTitle] = row
		}
	}
	e.acceptedCount++
	e.mu.Unlock()

	e.persist(ctx, row, models.ItemStatusAccepted, nil, "", "", 0)
	if err := e.opts.Jobs.IncrementCounters(ctx, e.opts.JobID, interfaces.CounterDelta{Unique: true}); err != nil {
		e.logger.Warn().Err(err).Str("job_id", e.opts.JobID).Msg("Counter update failed")
	}

	// Entity mode awaits the index write so the next item's recall sees this
	// row; company mode fires it off so a slow index never holds up the
	// concurrent accept path.
	if e.opts.Enabled && e.opts.Vector != nil {
		if e.opts.Mode == models.ModeEntity {
			if err := e.opts.Vector.Add(ctx, row.RowID, vectorText(row)); err != nil {
				e.logger.Debug().Err(err).Str("row_id", row.RowID).Msg("Vector index add failed")
			}
		} else {
			go func() {
				addCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := e.opts.Vector.Add(addCtx, row.RowID, vectorText(row)); err != nil {
					e.logger.Debug().Err(err).Str("row_id", row.RowID).Msg("Vector index add failed")
				}
			}()
		}
	}

	if wasPendingTmpID != "" {
		e.opts.Bus.Publish(e.opts.JobID, models.ConfirmEvent(row.Raw))
	} else {
		e.opts.Bus.Publish(e.opts.JobID, models.ItemEvent(row.Raw))
	}
}

// reject records a duplicate: persistence, counters, the rejected frame, and
// a drop frame when the row had been announced pending.
func (e *Engine) reject(ctx context.Context, row, existing *models.CanonicalRow, reason, details string, similarity float64, wasPendingTmpID string) {
	e.mu.Lock()
	e.rejectedCount++
	e.mu.Unlock()

	e.persist(ctx, row, models.ItemStatusRejected, existing, reason, details, similarity)
	if err := e.opts.Jobs.IncrementCounters(ctx, e.opts.JobID, interfaces.CounterDelta{Rejected: true, RejectionReason: reason}); err != nil {
		e.logger.Warn().Err(err).Str("job_id", e.opts.JobID).Msg("Counter update failed")
	}

	var existingRaw models.Item
	if existing != nil {
		existingRaw = existing.Raw
	}
	e.opts.Bus.Publish(e.opts.JobID, models.RejectedEvent(row.Raw, reason, details, existingRaw))
	if wasPendingTmpID != "" {
		e.opts.Bus.Publish(e.opts.JobID, models.DropEvent(wasPendingTmpID))
	}

	e.logger.Debug().
		Str("job_id", e.opts.JobID).
		Str("row_id", row.RowID).
		Str("reason", reason).
		Msg("Item rejected as duplicate")
}

func (e *Engine) persist(ctx context.Context, row *models.CanonicalRow, status models.ItemStatus, existing *models.CanonicalRow, reason, details string, similarity float64) {
	rec := &models.ItemRecord{
		Key:             models.RecordKey(e.opts.JobID, row.RowID),
		JobID:           e.opts.JobID,
		ItemID:          row.RowID,
		Name:            row.Name,
		URL:             row.URL,
		Properties:      row.Raw.Properties(),
		RawData:         row.Raw,
		Status:          status,
		NormalizedTitle: row.NormalizedTitle,
		CreatedAt:       time.Now().UTC(),
	}
	if status == models.ItemStatusRejected {
		rec.RejectionReason = reason
		rec.RejectionDetails = details
		rec.Similarity = similarity
		if existing != nil {
			rec.RejectedBy = existing.RowID
		}
	}
	if err := e.opts.Items.SaveItem(ctx, rec); err != nil {
		e.logger.Warn().Err(err).Str("job_id", e.opts.JobID).Str("item_id", row.RowID).Msg("Item persistence failed")
	}
}

// WaitPending blocks until every staged decision has resolved or ctx expires.
// Callers flush the adjudicator first.
func (e *Engine) WaitPending(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.pendingWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AcceptedCount reports rows accepted so far.
func (e *Engine) AcceptedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acceptedCount
}

// RejectedCount reports rows rejected so far.
func (e *Engine) RejectedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rejectedCount
}

// TotalSeen reports accepted plus rejected rows.
func (e *Engine) TotalSeen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acceptedCount + e.rejectedCount
}

// PendingCount reports rows awaiting a verdict.
func (e *Engine) PendingCount() int {
	return e.pending.count()
}

// tier0Rejects reports whether a fingerprint collision alone rejects the row:
// always in company mode, and for video rows in either mode since their key is
// the title slug. Other entity rows dedup on names, not hosts.
func (e *Engine) tier0Rejects(row *models.CanonicalRow) bool {
	return e.opts.Mode == models.ModeCompany || row.IsVideoPlatform
}

// usableFingerprint reports whether the row carries enough signal for Tier-0:
// video rows need a name, other rows need a registrable domain.
func usableFingerprint(row *models.CanonicalRow) bool {
	if row.IsVideoPlatform {
		return row.Name != ""
	}
	return row.ETLD1 != ""
}

// vectorText is the string indexed and queried for a row.
func vectorText(row *models.CanonicalRow) string {
	if row.NormalizedTitle != "" {
		return row.NormalizedTitle
	}
	return row.Name
}
