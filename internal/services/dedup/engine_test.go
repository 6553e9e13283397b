package dedup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lithium-07/dedup-webset/internal/common"
	"github.com/lithium-07/dedup-webset/internal/interfaces"
	"github.com/lithium-07/dedup-webset/internal/models"
)

// recordingBus captures published frames in order.
type recordingBus struct {
	mu     sync.Mutex
	events []models.StreamEvent
}

func (b *recordingBus) Subscribe(jobID string) interfaces.StreamSubscriber { return nil }
func (b *recordingBus) CloseJob(jobID string)                             {}
func (b *recordingBus) SubscriberCount(jobID string) int                  { return 0 }

func (b *recordingBus) Publish(jobID string, event models.StreamEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBus) byType(t models.EventType) []models.StreamEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.StreamEvent
	for _, ev := range b.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// recordingJobs counts counter deltas; the rest of JobStorage is unused by the
// engine.
type recordingJobs struct {
	mu     sync.Mutex
	deltas []interfaces.CounterDelta
}

func (j *recordingJobs) SaveJob(ctx context.Context, job *models.Job) error   { return nil }
func (j *recordingJobs) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return nil, nil
}
func (j *recordingJobs) UpdateJob(ctx context.Context, job *models.Job) error { return nil }
func (j *recordingJobs) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	return nil, nil
}
func (j *recordingJobs) DeleteJob(ctx context.Context, id string) error { return nil }
func (j *recordingJobs) CountJobs(ctx context.Context) (int, error)     { return 0, nil }

func (j *recordingJobs) IncrementCounters(ctx context.Context, jobID string, delta interfaces.CounterDelta) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.deltas = append(j.deltas, delta)
	return nil
}

func (j *recordingJobs) uniques() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, d := range j.deltas {
		if d.Unique {
			n++
		}
	}
	return n
}

func (j *recordingJobs) rejects() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, d := range j.deltas {
		if d.Rejected {
			n++
		}
	}
	return n
}

type recordingItems struct {
	mu      sync.Mutex
	records []*models.ItemRecord
}

func (s *recordingItems) SaveItem(ctx context.Context, rec *models.ItemRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}
func (s *recordingItems) ListItems(ctx context.Context, jobID string, status models.ItemStatus, limit int) ([]*models.ItemRecord, error) {
	return nil, nil
}
func (s *recordingItems) CountItems(ctx context.Context, jobID string) (int, error)    { return 0, nil }
func (s *recordingItems) CountAllItems(ctx context.Context) (int, error)               { return 0, nil }
func (s *recordingItems) ReasonStats(ctx context.Context, jobID string) (map[string]int, error) {
	return nil, nil
}
func (s *recordingItems) DeleteItems(ctx context.Context, jobID string) (int, error) { return 0, nil }

type fakeVector struct {
	mu    sync.Mutex
	added map[string]string
	hits  []string
}

func (v *fakeVector) Add(ctx context.Context, rowID, text string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.added == nil {
		v.added = make(map[string]string)
	}
	v.added[rowID] = text
	return nil
}

func (v *fakeVector) Query(ctx context.Context, text string, k int) ([]string, error) {
	return v.hits, nil
}

func (v *fakeVector) addedCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.added)
}

func waitForVectorAdds(t *testing.T, v *fakeVector, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for v.addedCount() < want {
		if time.Now().After(deadline) {
			t.Fatalf("vector adds = %d, want %d", v.addedCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// manualAdjudicator hands staged decisions to the test for explicit verdicts.
type manualAdjudicator struct {
	mu      sync.Mutex
	staged  []*models.Decision
	resolve []func(bool)
}

func (a *manualAdjudicator) Enqueue(decision *models.Decision, resolve func(duplicate bool)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.staged = append(a.staged, decision)
	a.resolve = append(a.resolve, resolve)
}

func (a *manualAdjudicator) resolveAll(duplicate bool) {
	a.mu.Lock()
	fns := a.resolve
	a.resolve = nil
	a.mu.Unlock()
	for _, fn := range fns {
		fn(duplicate)
	}
}

func (a *manualAdjudicator) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.staged)
}

type engineFixture struct {
	engine *Engine
	bus    *recordingBus
	jobs   *recordingJobs
	items  *recordingItems
	vector *fakeVector
	adj    *manualAdjudicator
}

func newEngineFixture(t *testing.T, mode models.Mode, enabled bool) *engineFixture {
	t.Helper()
	f := &engineFixture{
		bus:    &recordingBus{},
		jobs:   &recordingJobs{},
		items:  &recordingItems{},
		vector: &fakeVector{},
		adj:    &manualAdjudicator{},
	}
	f.engine = NewEngine(Options{
		JobID:       "ws_test",
		Mode:        mode,
		Enabled:     enabled,
		Bus:         f.bus,
		Jobs:        f.jobs,
		Items:       f.items,
		Vector:      f.vector,
		Adjudicator: f.adj,
		Logger:      common.GetLogger(),
	})
	return f
}

func TestEngineAcceptsUniqueItem(t *testing.T) {
	f := newEngineFixture(t, models.ModeCompany, true)
	ctx := context.Background()

	f.engine.Process(ctx, models.Item{"id": "a", "name": "Stripe", "url": "https://stripe.com"})

	if got := len(f.bus.byType(models.EventItem)); got != 1 {
		t.Fatalf("item frames = %d, want 1", got)
	}
	if f.jobs.uniques() != 1 || f.jobs.rejects() != 0 {
		t.Errorf("counters = %d unique / %d rejected", f.jobs.uniques(), f.jobs.rejects())
	}
	waitForVectorAdds(t, f.vector, 1)
	if f.engine.AcceptedCount() != 1 {
		t.Errorf("AcceptedCount = %d", f.engine.AcceptedCount())
	}
}

func TestEngineTier0Rejection(t *testing.T) {
	f := newEngineFixture(t, models.ModeCompany, true)
	ctx := context.Background()

	f.engine.Process(ctx, models.Item{"id": "a", "name": "Stripe", "url": "https://stripe.com"})
	f.engine.Process(ctx, models.Item{"id": "b", "name": "Stripe Payments", "url": "https://www.stripe.com/about"})

	rejected := f.bus.byType(models.EventRejected)
	if len(rejected) != 1 {
		t.Fatalf("rejected frames = %d, want 1", len(rejected))
	}
	if rejected[0].Reason != models.ReasonExactMatch {
		t.Errorf("reason = %q, want exact_match", rejected[0].Reason)
	}
	if f.engine.RejectedCount() != 1 {
		t.Errorf("RejectedCount = %d", f.engine.RejectedCount())
	}
}

// Two distinct titles hosted on the same catalog site share a fingerprint;
// in entity mode that alone must not reject the second one.
func TestEngineEntitySharedHostFingerprintNotRejected(t *testing.T) {
	f := newEngineFixture(t, models.ModeEntity, true)
	ctx := context.Background()

	f.engine.Process(ctx, models.Item{"id": "1", "title": "District 9", "url": "https://rottentomatoes.com/m/district_9"})
	f.engine.Process(ctx, models.Item{"id": "2", "title": "Inception", "url": "https://rottentomatoes.com/m/inception"})

	if got := len(f.bus.byType(models.EventItem)); got != 2 {
		t.Fatalf("item frames = %d, want 2 (shared host must not collapse distinct titles)", got)
	}
	if got := len(f.bus.byType(models.EventRejected)); got != 0 {
		t.Errorf("rejected frames = %d, want 0", got)
	}
	if f.engine.AcceptedCount() != 2 {
		t.Errorf("AcceptedCount = %d, want 2", f.engine.AcceptedCount())
	}
}

// Video rows keep their slug-keyed fingerprint semantics: distinct titles on
// one platform stay apart, a repeated title collides.
func TestEngineVideoSlugFingerprint(t *testing.T) {
	f := newEngineFixture(t, models.ModeCompany, true)
	ctx := context.Background()

	f.engine.Process(ctx, models.Item{"id": "1", "name": "The Matrix", "url": "https://youtube.com/watch?v=aaa"})
	f.engine.Process(ctx, models.Item{"id": "2", "name": "Inception", "url": "https://youtube.com/watch?v=bbb"})
	f.engine.Process(ctx, models.Item{"id": "3", "name": "The Matrix", "url": "https://youtube.com/watch?v=ccc"})

	if got := len(f.bus.byType(models.EventItem)); got != 2 {
		t.Fatalf("item frames = %d, want 2", got)
	}
	rejected := f.bus.byType(models.EventRejected)
	if len(rejected) != 1 || rejected[0].Reason != models.ReasonExactMatch {
		t.Errorf("rejected = %+v, want one exact_match", rejected)
	}
}

func TestEngineIdempotentOnItemID(t *testing.T) {
	f := newEngineFixture(t, models.ModeCompany, true)
	ctx := context.Background()

	item := models.Item{"id": "a", "name": "Stripe", "url": "https://stripe.com"}
	f.engine.Process(ctx, item)
	f.engine.Process(ctx, item)

	if f.engine.TotalSeen() != 1 {
		t.Errorf("TotalSeen = %d, want 1 (replayed item must be a no-op)", f.engine.TotalSeen())
	}
	if got := len(f.bus.byType(models.EventItem)); got != 1 {
		t.Errorf("item frames = %d, want 1", got)
	}
}

func TestEngineEntityExactURLDuplicate(t *testing.T) {
	f := newEngineFixture(t, models.ModeEntity, true)
	ctx := context.Background()

	f.engine.Process(ctx, models.Item{"id": "a", "title": "The Matrix", "url": "https://films.example.com/matrix"})
	f.engine.Process(ctx, models.Item{"id": "b", "title": "A Different Movie Entirely", "url": "https://films.example.com/matrix"})

	rejected := f.bus.byType(models.EventRejected)
	if len(rejected) != 1 {
		t.Fatalf("rejected frames = %d, want 1", len(rejected))
	}
	if rejected[0].Reason != models.ReasonExactURLDuplicate {
		t.Errorf("reason = %q, want exact_url_duplicate", rejected[0].Reason)
	}
}

func TestEnginePendingConfirm(t *testing.T) {
	f := newEngineFixture(t, models.ModeCompany, true)
	ctx := context.Background()

	f.engine.Process(ctx, models.Item{"id": "a", "name": "JD", "url": "https://jd.com"})
	f.engine.Process(ctx, models.Item{"id": "b", "name": "JD", "url": "https://jd.hk"})

	if f.adj.count() != 1 {
		t.Fatalf("staged decisions = %d, want 1", f.adj.count())
	}
	if got := len(f.bus.byType(models.EventPending)); got != 1 {
		t.Fatalf("pending frames = %d, want 1", got)
	}

	f.adj.resolveAll(false)
	waitPending(t, f.engine)

	if got := len(f.bus.byType(models.EventConfirm)); got != 1 {
		t.Errorf("confirm frames = %d, want 1", got)
	}
	if got := len(f.bus.byType(models.EventDrop)); got != 0 {
		t.Errorf("drop frames = %d, want 0", got)
	}
	if f.engine.AcceptedCount() != 2 {
		t.Errorf("AcceptedCount = %d, want 2", f.engine.AcceptedCount())
	}
}

func TestEnginePendingDropAndPairCache(t *testing.T) {
	f := newEngineFixture(t, models.ModeCompany, true)
	ctx := context.Background()

	f.engine.Process(ctx, models.Item{"id": "a", "name": "JD", "url": "https://jd.com"})
	f.engine.Process(ctx, models.Item{"id": "b", "name": "JD", "url": "https://jd.hk"})

	f.adj.resolveAll(true)
	waitPending(t, f.engine)

	rejected := f.bus.byType(models.EventRejected)
	if len(rejected) != 1 || rejected[0].Reason != models.ReasonLLMDuplicate {
		t.Fatalf("expected one llm_duplicate rejection, got %+v", rejected)
	}
	if got := len(f.bus.byType(models.EventDrop)); got != 1 {
		t.Errorf("drop frames = %d, want 1", got)
	}

	// Same host pair again: the cached verdict short-circuits without another
	// LLM round trip.
	f.engine.Process(ctx, models.Item{"id": "c", "name": "JD", "url": "https://jd.hk/global"})

	rejected = f.bus.byType(models.EventRejected)
	if len(rejected) != 2 {
		t.Fatalf("rejected frames = %d, want 2", len(rejected))
	}
	if rejected[1].Reason != models.ReasonCacheHit {
		t.Errorf("second reason = %q, want cache_hit", rejected[1].Reason)
	}
	if f.adj.count() != 1 {
		t.Errorf("staged decisions = %d, want 1 (cache must avoid a second call)", f.adj.count())
	}
}

func TestEngineDisabledPassthrough(t *testing.T) {
	f := newEngineFixture(t, models.ModeCompany, false)
	ctx := context.Background()

	f.engine.Process(ctx, models.Item{"id": "a", "name": "Stripe", "url": "https://stripe.com"})
	f.engine.Process(ctx, models.Item{"id": "b", "name": "Stripe", "url": "https://stripe.com/about"})

	if got := len(f.bus.byType(models.EventItem)); got != 2 {
		t.Errorf("item frames = %d, want 2 (dedup disabled passes everything)", got)
	}
	if f.adj.count() != 0 {
		t.Errorf("adjudicator must stay idle when dedup is disabled")
	}
	if f.vector.addedCount() != 0 {
		t.Errorf("vector index must stay idle when dedup is disabled")
	}
}

func TestEngineVectorRecallWidensPool(t *testing.T) {
	f := newEngineFixture(t, models.ModeCompany, true)
	ctx := context.Background()

	f.engine.Process(ctx, models.Item{"id": "a", "name": "Acme Robotics", "url": "https://acmerobotics.com"})

	// Different brand and domain, moderately similar name: the fuzzy scan
	// calls the pair unique, so only the recall hit puts the accepted row
	// into the candidate pool.
	f.vector.hits = []string{"a"}
	f.engine.Process(ctx, models.Item{"id": "b", "name": "Acme Robotic Systems", "url": "https://acme-rs.io"})

	if f.adj.count() != 1 {
		t.Errorf("staged decisions = %d, want 1 (recall hit should reach the adjudicator)", f.adj.count())
	}
	if got := len(f.bus.byType(models.EventPending)); got != 1 {
		t.Errorf("pending frames = %d, want 1", got)
	}
}

// blockingVector stalls Add until released, to prove the accept path does not
// wait on it.
type blockingVector struct {
	entered chan struct{}
	release chan struct{}
}

func (v *blockingVector) Add(ctx context.Context, rowID, text string) error {
	v.entered <- struct{}{}
	<-v.release
	return nil
}

func (v *blockingVector) Query(ctx context.Context, text string, k int) ([]string, error) {
	return nil, nil
}

func TestEngineCompanyAcceptDoesNotAwaitVectorAdd(t *testing.T) {
	vector := &blockingVector{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	defer close(vector.release)

	bus := &recordingBus{}
	engine := NewEngine(Options{
		JobID:       "ws_test",
		Mode:        models.ModeCompany,
		Enabled:     true,
		Bus:         bus,
		Jobs:        &recordingJobs{},
		Items:       &recordingItems{},
		Vector:      vector,
		Adjudicator: &manualAdjudicator{},
		Logger:      common.GetLogger(),
	})

	done := make(chan struct{})
	go func() {
		engine.Process(context.Background(), models.Item{"id": "a", "name": "Stripe", "url": "https://stripe.com"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("company accept blocked on the vector index write")
	}
	if got := len(bus.byType(models.EventItem)); got != 1 {
		t.Errorf("item frames = %d, want 1 before the index write returns", got)
	}

	select {
	case <-vector.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("vector add was never dispatched")
	}
}

func waitPending(t *testing.T, engine *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := engine.WaitPending(ctx); err != nil {
		t.Fatalf("pending verdicts did not drain: %v", err)
	}
}
