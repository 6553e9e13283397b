package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/lithium-07/dedup-webset/internal/interfaces"
	"github.com/lithium-07/dedup-webset/internal/models"
)

// requestSlot serializes LLM calls process-wide: at most one request is in
// flight regardless of how many jobs are batching.
var requestSlot = make(chan struct{}, 1)

// Resolve is invoked exactly once per staged decision with the verdict:
// true means duplicate.
type Resolve = func(duplicate bool)

type staged struct {
	decision *models.Decision
	resolve  Resolve
}

// Adjudicator batches ambiguous dedup decisions and asks the LLM to settle
// them. A batch flushes when it reaches batchSize or latency after the first
// enqueue, whichever comes first. Transport and parse failures fail open:
// every decision in the affected batch resolves unique.
type Adjudicator struct {
	svc        interfaces.LLMService
	logger     arbor.ILogger
	jobID      string
	entityType string
	batchSize  int
	latency    time.Duration

	mu     sync.Mutex
	queue  []staged
	timer  *time.Timer
	closed bool

	inflight sync.WaitGroup
}

// NewAdjudicator creates a per-job adjudicator over the shared LLM provider.
func NewAdjudicator(svc interfaces.LLMService, logger arbor.ILogger, jobID, entityType string, batchSize int, latency time.Duration) *Adjudicator {
	if batchSize <= 0 {
		batchSize = 25
	}
	if latency <= 0 {
		latency = 300 * time.Millisecond
	}
	return &Adjudicator{
		svc:        svc,
		logger:     logger,
		jobID:      jobID,
		entityType: entityType,
		batchSize:  batchSize,
		latency:    latency,
	}
}

// Enqueue stages a decision. The resolve callback fires from the flush
// goroutine, in batch index order.
func (a *Adjudicator) Enqueue(decision *models.Decision, resolve Resolve) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		resolve(false)
		return
	}
	a.queue = append(a.queue, staged{decision: decision, resolve: resolve})

	if len(a.queue) >= a.batchSize {
		a.flushLocked()
		a.mu.Unlock()
		return
	}
	if a.timer == nil {
		a.timer = time.AfterFunc(a.latency, a.Flush)
	}
	a.mu.Unlock()
}

// Flush drains the staged batch immediately. Safe to call at any time.
func (a *Adjudicator) Flush() {
	a.mu.Lock()
	a.flushLocked()
	a.mu.Unlock()
}

// flushLocked cancels the pending timer, takes the staged batch and hands it
// to a worker goroutine. Caller holds a.mu.
func (a *Adjudicator) flushLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if len(a.queue) == 0 {
		return
	}
	batch := a.queue
	a.queue = nil

	a.inflight.Add(1)
	go a.process(batch)
}

// Wait blocks until all flushed batches have resolved. Call Flush first.
func (a *Adjudicator) Wait() {
	a.inflight.Wait()
}

// Close flushes and waits; decisions enqueued afterwards resolve unique.
func (a *Adjudicator) Close() {
	a.mu.Lock()
	a.closed = true
	a.flushLocked()
	a.mu.Unlock()
	a.inflight.Wait()
}

func (a *Adjudicator) process(batch []staged) {
	defer a.inflight.Done()

	requestSlot <- struct{}{}
	defer func() { <-requestSlot }()

	// A batch is homogeneous per job mode in practice, but split defensively
	// so each prompt only describes one decision shape.
	var entity, company []staged
	for _, s := range batch {
		if s.decision.Kind == models.DecisionEntity {
			entity = append(entity, s)
		} else {
			company = append(company, s)
		}
	}

	if len(entity) > 0 {
		a.adjudicate(entity, buildEntityPrompt(a.entityType, entity), "decisions")
	}
	if len(company) > 0 {
		a.adjudicate(company, buildCompanyPrompt(company), "pairs")
	}
}

func (a *Adjudicator) adjudicate(batch []staged, messages []interfaces.Message, key string) {
	start := time.Now()
	response, err := a.svc.Chat(context.Background(), messages)

	var verdicts []bool
	if err != nil {
		a.logger.Warn().
			Err(err).
			Str("job_id", a.jobID).
			Int("batch_size", len(batch)).
			Msg("LLM batch call failed, defaulting batch to unique")
		verdicts = make([]bool, len(batch))
	} else {
		verdicts = parseVerdicts(response, key, len(batch))
	}

	a.logger.Debug().
		Str("job_id", a.jobID).
		Int("batch_size", len(batch)).
		Dur("duration", time.Since(start)).
		Msg("LLM batch adjudicated")

	// Verdicts apply in batch index order.
	for i, s := range batch {
		s.resolve(verdicts[i])
	}
}

// parseVerdicts extracts n booleans from the model's JSON reply. Each entry
// may be a bare boolean or a one-element array holding one; anything
// unreadable, and any missing tail, defaults to unique (false).
func parseVerdicts(response, key string, n int) []bool {
	verdicts := make([]bool, n)

	payload := extractJSON(response)
	if payload == "" {
		return verdicts
	}

	var parsed map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return verdicts
	}

	raw, ok := parsed[key]
	if !ok {
		// Tolerate the model using the other array name.
		for _, alt := range []string{"decisions", "pairs"} {
			if r, found := parsed[alt]; found {
				raw = r
				ok = true
				break
			}
		}
	}
	if !ok {
		return verdicts
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return verdicts
	}

	for i := 0; i < n && i < len(entries); i++ {
		verdicts[i] = coerceBool(entries[i])
	}
	return verdicts
}

func coerceBool(raw json.RawMessage) bool {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) == 1 {
		if err := json.Unmarshal(arr[0], &b); err == nil {
			return b
		}
	}
	var obj map[string]bool
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, k := range []string{"duplicate", "is_duplicate", "isDuplicate"} {
			if v, found := obj[k]; found {
				return v
			}
		}
	}
	return false
}

// extractJSON strips markdown fences and surrounding prose from a model
// reply, returning the outermost JSON object.
func extractJSON(response string) string {
	s := strings.TrimSpace(response)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func buildEntityPrompt(entityType string, batch []staged) []interfaces.Message {
	if entityType == "" {
		entityType = "entity"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are deduplicating %s search results. For each numbered new %s below, decide whether it is a duplicate of ANY of its listed candidates.\n\n", entityType, entityType)
	b.WriteString("Rules:\n")
	b.WriteString("- The same title with different release years is a duplicate.\n")
	b.WriteString("- The same series in different seasons is NOT a duplicate.\n")
	b.WriteString("- A trailer, teaser, clip, or behind-the-scenes video of a title is a duplicate of that title.\n")
	b.WriteString("- Different regional releases (US/UK/Japanese) of the same work are duplicates.\n")
	b.WriteString("- Remastered, extended, and special editions of the same work are duplicates.\n")
	b.WriteString("- Different works that merely share words in the title are NOT duplicates.\n\n")

	for i, s := range batch {
		d := s.decision
		fmt.Fprintf(&b, "%d. New: %q (url: %s)\n   Candidates:\n", i+1, d.NewName, orNone(d.NewURL))
		for _, c := range d.Candidates {
			fmt.Fprintf(&b, "   - %q (url: %s)\n", c.Name, orNone(c.URL))
		}
	}

	b.WriteString("\nReturn ONLY a JSON object of the form {\"decisions\": [true, false, ...]} with exactly one boolean per numbered entry, in order. true means duplicate.")

	return []interfaces.Message{
		{Role: "system", Content: "You are a precise deduplication assistant. Reply with JSON only."},
		{Role: "user", Content: b.String()},
	}
}

func buildCompanyPrompt(batch []staged) []interfaces.Message {
	var b strings.Builder
	b.WriteString("You are deduplicating company search results. For each numbered new company below, decide whether it is the SAME business as ANY of its listed candidates.\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Regional sites of one business (example.com, example.co.uk, global.example.com) are duplicates.\n")
	b.WriteString("- A subsidiary with its own brand and product line is NOT a duplicate of the parent.\n")
	b.WriteString("- Different companies that happen to share a name are NOT duplicates; weigh the domain heavily.\n")
	b.WriteString("- A company's careers, corporate, or investor site is a duplicate of its main site.\n\n")

	for i, s := range batch {
		d := s.decision
		fmt.Fprintf(&b, "%d. New: %q (url: %s, domain: %s)\n   Candidates:\n", i+1, d.NewName, orNone(d.NewURL), orNone(d.NewETLD1))
		for _, c := range d.Candidates {
			fmt.Fprintf(&b, "   - %q (url: %s, domain: %s)\n", c.Name, orNone(c.URL), orNone(c.ETLD1))
		}
	}

	b.WriteString("\nReturn ONLY a JSON object of the form {\"pairs\": [true, false, ...]} with exactly one boolean per numbered entry, in order. true means duplicate.")

	return []interfaces.Message{
		{Role: "system", Content: "You are a precise deduplication assistant. Reply with JSON only."},
		{Role: "user", Content: b.String()},
	}
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
