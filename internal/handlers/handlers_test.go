package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lithium-07/dedup-webset/internal/common"
	"github.com/lithium-07/dedup-webset/internal/interfaces"
	"github.com/lithium-07/dedup-webset/internal/models"
	"github.com/lithium-07/dedup-webset/internal/services/events"
)

type fakeJobStorage struct {
	jobs map[string]*models.Job
}

func newFakeJobStorage(jobs ...*models.Job) *fakeJobStorage {
	s := &fakeJobStorage{jobs: make(map[string]*models.Job)}
	for _, job := range jobs {
		s.jobs[job.ID] = job
	}
	return s
}

func (s *fakeJobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	s.jobs[job.ID] = job
	return nil
}

func (s *fakeJobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	if job, ok := s.jobs[jobID]; ok {
		return job, nil
	}
	return nil, fmt.Errorf("job not found: %s", jobID)
}

func (s *fakeJobStorage) UpdateJob(ctx context.Context, job *models.Job) error {
	s.jobs[job.ID] = job
	return nil
}

func (s *fakeJobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	var out []*models.Job
	for _, job := range s.jobs {
		if opts != nil && opts.Status != "" && job.Status != opts.Status {
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

func (s *fakeJobStorage) DeleteJob(ctx context.Context, jobID string) error {
	delete(s.jobs, jobID)
	return nil
}

func (s *fakeJobStorage) IncrementCounters(ctx context.Context, jobID string, delta interfaces.CounterDelta) error {
	return nil
}

func (s *fakeJobStorage) CountJobs(ctx context.Context) (int, error) {
	return len(s.jobs), nil
}

type fakeItemStorage struct {
	items []*models.ItemRecord
}

func (s *fakeItemStorage) SaveItem(ctx context.Context, rec *models.ItemRecord) error {
	s.items = append(s.items, rec)
	return nil
}

func (s *fakeItemStorage) ListItems(ctx context.Context, jobID string, status models.ItemStatus, limit int) ([]*models.ItemRecord, error) {
	var out []*models.ItemRecord
	for _, rec := range s.items {
		if rec.JobID != jobID {
			continue
		}
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *fakeItemStorage) CountItems(ctx context.Context, jobID string) (int, error) {
	items, _ := s.ListItems(ctx, jobID, "", 0)
	return len(items), nil
}

func (s *fakeItemStorage) CountAllItems(ctx context.Context) (int, error) {
	return len(s.items), nil
}

func (s *fakeItemStorage) ReasonStats(ctx context.Context, jobID string) (map[string]int, error) {
	stats := make(map[string]int)
	for _, rec := range s.items {
		if rec.JobID == jobID && rec.RejectionReason != "" {
			stats[rec.RejectionReason]++
		}
	}
	return stats, nil
}

func (s *fakeItemStorage) DeleteItems(ctx context.Context, jobID string) (int, error) {
	return 0, nil
}

type fakeStorage struct {
	jobs  *fakeJobStorage
	items *fakeItemStorage
}

func (s *fakeStorage) JobStorage() interfaces.JobStorage   { return s.jobs }
func (s *fakeStorage) ItemStorage() interfaces.ItemStorage { return s.items }
func (s *fakeStorage) Close() error                        { return nil }

func testJob(id string) *models.Job {
	return &models.Job{
		ID:            id,
		OriginalQuery: "ai startups",
		EntityType:    "company",
		Mode:          models.ModeCompany,
		Status:        models.JobStatusActive,
		CreatedAt:     time.Now().UTC(),
	}
}

// decodeSSE splits an SSE body into its decoded JSON frames, skipping comment
// keepalives.
func decodeSSE(t *testing.T, body string) []models.StreamEvent {
	t.Helper()
	var frames []models.StreamEvent
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" || strings.HasPrefix(block, ":") {
			continue
		}
		require.True(t, strings.HasPrefix(block, "data: "), "frame %q must be data-only", block)
		var event models.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(block, "data: ")), &event))
		frames = append(frames, event)
	}
	return frames
}

func TestStreamHandlerUnknownJob(t *testing.T) {
	bus := events.NewBus(common.GetLogger(), 16)
	handler := NewStreamHandler(bus, newFakeJobStorage(), common.GetLogger())

	rec := httptest.NewRecorder()
	handler.StreamHandler(rec, httptest.NewRequest("GET", "/api/websets/ws_missing/stream", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamHandlerReplaysClosedJob(t *testing.T) {
	bus := events.NewBus(common.GetLogger(), 16)
	bus.Publish("ws_1", models.ItemEvent(models.Item{"id": "item_1"}))
	bus.Publish("ws_1", models.FinishedEvent(1))
	bus.CloseJob("ws_1")

	handler := NewStreamHandler(bus, newFakeJobStorage(testJob("ws_1")), common.GetLogger())

	rec := httptest.NewRecorder()
	handler.StreamHandler(rec, httptest.NewRequest("GET", "/api/websets/ws_1/stream", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	frames := decodeSSE(t, rec.Body.String())
	require.Len(t, frames, 3)
	require.Equal(t, models.EventConnected, frames[0].Type)
	require.Equal(t, models.EventItem, frames[1].Type)
	require.Equal(t, "item_1", frames[1].Item.ID())
	require.Equal(t, models.EventFinished, frames[2].Type)
	require.Equal(t, 1, frames[2].Total)
}

func TestStreamHandlerClientDisconnect(t *testing.T) {
	bus := events.NewBus(common.GetLogger(), 16)
	handler := NewStreamHandler(bus, newFakeJobStorage(testJob("ws_1")), common.GetLogger())

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/api/websets/ws_1/stream", nil).WithContext(ctx)

	done := make(chan struct{})
	rec := httptest.NewRecorder()
	go func() {
		handler.StreamHandler(rec, req)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after client disconnect")
	}
}

func TestListHandler(t *testing.T) {
	storage := &fakeStorage{
		jobs:  newFakeJobStorage(testJob("ws_1"), testJob("ws_2")),
		items: &fakeItemStorage{},
	}
	handler := NewHistoryHandler(storage, common.GetLogger())

	rec := httptest.NewRecorder()
	handler.ListHandler(rec, httptest.NewRequest("GET", "/api/websets", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var response struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Equal(t, 2, response.Count)
}

func TestDetailHandlerWithItems(t *testing.T) {
	items := &fakeItemStorage{}
	items.SaveItem(context.Background(), &models.ItemRecord{
		JobID: "ws_1", ItemID: "a", Name: "Stripe", Status: models.ItemStatusAccepted,
	})
	items.SaveItem(context.Background(), &models.ItemRecord{
		JobID: "ws_1", ItemID: "b", Name: "Stripe Inc",
		Status: models.ItemStatusRejected, RejectionReason: models.ReasonNearDuplicate,
	})
	storage := &fakeStorage{jobs: newFakeJobStorage(testJob("ws_1")), items: items}
	handler := NewHistoryHandler(storage, common.GetLogger())

	rec := httptest.NewRecorder()
	handler.DetailHandler(rec, httptest.NewRequest("GET", "/api/websets/ws_1?include=items", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var response struct {
		RejectionReasons map[string]int           `json:"rejectionReasons"`
		Items            []map[string]interface{} `json:"items"`
		ItemCount        int                      `json:"itemCount"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Equal(t, 1, response.RejectionReasons[models.ReasonNearDuplicate])
	require.Equal(t, 2, response.ItemCount)
}

func TestDetailHandlerHistoryPath(t *testing.T) {
	storage := &fakeStorage{jobs: newFakeJobStorage(testJob("ws_1")), items: &fakeItemStorage{}}
	handler := NewHistoryHandler(storage, common.GetLogger())

	rec := httptest.NewRecorder()
	handler.DetailHandler(rec, httptest.NewRequest("GET", "/api/history/websets/ws_1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var response struct {
		Webset struct {
			ID string `json:"websetId"`
		} `json:"webset"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Equal(t, "ws_1", response.Webset.ID)
}

func TestDetailHandlerMissingJob(t *testing.T) {
	storage := &fakeStorage{jobs: newFakeJobStorage(), items: &fakeItemStorage{}}
	handler := NewHistoryHandler(storage, common.GetLogger())

	rec := httptest.NewRecorder()
	handler.DetailHandler(rec, httptest.NewRequest("GET", "/api/websets/ws_missing", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateHandlerRejectsInvalidBody(t *testing.T) {
	handler := NewWebsetHandler(nil, common.GetLogger())

	rec := httptest.NewRecorder()
	handler.CreateHandler(rec, httptest.NewRequest("POST", "/api/websets", strings.NewReader("{not json")))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	handler.CreateHandler(rec, httptest.NewRequest("POST", "/api/websets", strings.NewReader(`{"query": "x"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code, "single-character query must fail validation")

	rec = httptest.NewRecorder()
	handler.CreateHandler(rec, httptest.NewRequest("GET", "/api/websets", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPathSegment(t *testing.T) {
	require.Equal(t, "ws_1", PathSegment("/api/websets/ws_1", "/api/websets/"))
	require.Equal(t, "ws_1", PathSegment("/api/websets/ws_1/stream", "/api/websets/"))
	require.Equal(t, "", PathSegment("/api/websets/", "/api/websets/"))
	require.Equal(t, "", PathSegment("/api/other", "/api/websets/"))
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/websets?limit=10&offset=bad", nil)
	require.Equal(t, 10, QueryInt(req, "limit", 50))
	require.Equal(t, 0, QueryInt(req, "offset", 0))
	require.Equal(t, 50, QueryInt(req, "missing", 50))
}
