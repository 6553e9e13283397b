package ingest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lithium-07/dedup-webset/internal/common"
	"github.com/lithium-07/dedup-webset/internal/interfaces"
	"github.com/lithium-07/dedup-webset/internal/models"
	"github.com/lithium-07/dedup-webset/internal/services/events"
	badgerstore "github.com/lithium-07/dedup-webset/internal/storage/badger"
)

// fakeProvider serves one scripted page of items, then empty pages with an
// idle status so the poll loop finishes.
type fakeProvider struct {
	mu     sync.Mutex
	items  []models.Item
	served bool
	status string
}

func (p *fakeProvider) CreateWebset(ctx context.Context, req *interfaces.WebsetRequest) (string, error) {
	return "ws_test", nil
}

func (p *fakeProvider) GetStatus(ctx context.Context, websetID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != "" {
		return p.status, nil
	}
	return "idle", nil
}

func (p *fakeProvider) ListItems(ctx context.Context, websetID, cursor string, limit int) (*interfaces.ItemsPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.served {
		return &interfaces.ItemsPage{}, nil
	}
	p.served = true
	return &interfaces.ItemsPage{Data: p.items, NextCursor: "cur_end"}, nil
}

type stubLLM struct{}

func (stubLLM) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	return `{"pairs": []}`, nil
}
func (stubLLM) HealthCheck(ctx context.Context) error { return nil }
func (stubLLM) Close() error                          { return nil }

type stubVector struct{}

func (stubVector) Add(ctx context.Context, rowID, text string) error { return nil }
func (stubVector) Query(ctx context.Context, text string, k int) ([]string, error) {
	return nil, nil
}

func testConfig() *common.Config {
	config := common.DefaultConfig()
	config.Upstream.PollInterval = "10ms"
	config.Upstream.PollDeadline = "5s"
	config.Stream.StatusInterval = "1ms"
	config.LLM.BatchLatency = "10ms"
	return config
}

func newTestController(t *testing.T, config *common.Config, provider interfaces.WebsetProvider) (*Controller, interfaces.StorageManager, *events.Bus) {
	t.Helper()
	storage, err := badgerstore.NewManager(common.GetLogger(), &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "db"),
	})
	if err != nil {
		t.Fatalf("failed to open test storage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })

	bus := events.NewBus(common.GetLogger(), 64)
	controller := NewController(config, provider, storage, bus, stubVector{}, stubLLM{}, nil, common.GetLogger())
	return controller, storage, bus
}

func waitForCompletion(t *testing.T, controller *Controller, jobID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for controller.IsRunning(jobID) {
		if time.Now().After(deadline) {
			t.Fatal("job did not finish in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestJobRunsToCompletion(t *testing.T) {
	provider := &fakeProvider{items: []models.Item{
		{"id": "i1", "properties": map[string]interface{}{"url": "https://stripe.com", "name": "Stripe"}},
		{"id": "i2", "properties": map[string]interface{}{"url": "https://notion.so", "name": "Notion"}},
	}}
	controller, storage, bus := newTestController(t, testConfig(), provider)

	job, err := controller.CreateJob(context.Background(), &CreateJobRequest{
		Query:      "b2b saas companies",
		EntityType: "company",
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.ID != "ws_test" || job.Mode != models.ModeCompany {
		t.Errorf("job = %+v", job)
	}

	waitForCompletion(t, controller, job.ID)

	stored, err := storage.JobStorage().GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.Status != models.JobStatusCompleted {
		t.Errorf("status = %s", stored.Status)
	}
	if stored.CompletedAt == nil {
		t.Error("completedAt not set")
	}
	if stored.UniqueItems != 2 || stored.TotalItems != 2 {
		t.Errorf("counters = unique %d total %d", stored.UniqueItems, stored.TotalItems)
	}

	// A late subscriber still gets the replay and the terminal frame.
	sub := bus.Subscribe(job.ID)
	defer sub.Close()

	seen := map[models.EventType]int{}
	ids := map[string]bool{}
	for event := range sub.Events() {
		seen[event.Type]++
		if event.Type == models.EventItem {
			ids[event.Item.ID()] = true
		}
	}
	if seen[models.EventConnected] != 1 || seen[models.EventItem] != 2 || seen[models.EventFinished] != 1 {
		t.Errorf("frames = %v", seen)
	}
	if !ids["i1"] || !ids["i2"] {
		t.Errorf("replayed items = %v", ids)
	}
}

// Deadline expiry terminates like an idle upstream: the job completes with
// whatever arrived rather than erroring out.
func TestJobCompletesOnPollDeadline(t *testing.T) {
	config := testConfig()
	config.Upstream.PollDeadline = "1ms"
	provider := &fakeProvider{status: "running"}
	controller, storage, bus := newTestController(t, config, provider)

	job, err := controller.CreateJob(context.Background(), &CreateJobRequest{Query: "anything"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	waitForCompletion(t, controller, job.ID)

	stored, err := storage.JobStorage().GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != models.JobStatusCompleted {
		t.Errorf("status = %s, want completed on deadline expiry", stored.Status)
	}
	if stored.CompletedAt == nil {
		t.Error("completedAt not set")
	}

	sub := bus.Subscribe(job.ID)
	defer sub.Close()
	var sawFinished bool
	for event := range sub.Events() {
		if event.Type == models.EventFinished {
			sawFinished = true
		}
	}
	if !sawFinished {
		t.Error("terminal finished frame not delivered to late subscriber")
	}
}

func TestJobFailsOnUpstreamError(t *testing.T) {
	provider := &fakeProvider{status: "failed"}
	controller, storage, bus := newTestController(t, testConfig(), provider)

	job, err := controller.CreateJob(context.Background(), &CreateJobRequest{Query: "anything"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	waitForCompletion(t, controller, job.ID)

	stored, err := storage.JobStorage().GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != models.JobStatusError || stored.ErrorMessage == "" {
		t.Errorf("status = %s, message = %q", stored.Status, stored.ErrorMessage)
	}

	sub := bus.Subscribe(job.ID)
	defer sub.Close()
	var sawError bool
	for event := range sub.Events() {
		if event.Type == models.EventError {
			sawError = true
		}
	}
	if !sawError {
		t.Error("terminal error frame not delivered to late subscriber")
	}
}

func TestShutdownStopsJobs(t *testing.T) {
	provider := &fakeProvider{status: "running"}
	controller, _, _ := newTestController(t, testConfig(), provider)

	if _, err := controller.CreateJob(context.Background(), &CreateJobRequest{Query: "anything"}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if controller.ActiveJobs() != 1 {
		t.Fatalf("active jobs = %d", controller.ActiveJobs())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := controller.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if controller.ActiveJobs() != 0 {
		t.Errorf("active jobs after shutdown = %d", controller.ActiveJobs())
	}
}
