package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/lithium-07/dedup-webset/internal/common"
	"github.com/lithium-07/dedup-webset/internal/interfaces"
	"github.com/lithium-07/dedup-webset/internal/models"
	"github.com/lithium-07/dedup-webset/internal/services/dedup"
	"github.com/lithium-07/dedup-webset/internal/services/llm"
)

// CreateJobRequest is the validated input for starting an ingestion job.
type CreateJobRequest struct {
	Query       string
	Count       int
	EntityType  string
	Enrichments []map[string]interface{}
}

// Controller owns the ingestion jobs: it creates upstream websets, polls them
// for new items on a cursor, feeds each item through the job's dedup engine,
// and drives the job lifecycle through to its terminal status.
type Controller struct {
	config   *common.Config
	provider interfaces.WebsetProvider
	storage  interfaces.StorageManager
	bus      interfaces.StreamBus
	vector   interfaces.VectorService
	llm      interfaces.LLMService
	resolver *dedup.URLResolver
	logger   arbor.ILogger

	mu   sync.Mutex
	jobs map[string]*runningJob
	wg   sync.WaitGroup
}

type runningJob struct {
	job         *models.Job
	engine      *dedup.Engine
	adjudicator *llm.Adjudicator
	cancel      context.CancelFunc
}

// NewController wires the ingestion controller.
func NewController(
	config *common.Config,
	provider interfaces.WebsetProvider,
	storage interfaces.StorageManager,
	bus interfaces.StreamBus,
	vector interfaces.VectorService,
	llmService interfaces.LLMService,
	resolver *dedup.URLResolver,
	logger arbor.ILogger,
) *Controller {
	return &Controller{
		config:   config,
		provider: provider,
		storage:  storage,
		bus:      bus,
		vector:   vector,
		llm:      llmService,
		resolver: resolver,
		logger:   logger,
		jobs:     make(map[string]*runningJob),
	}
}

// modeFor maps the requested entity type to a dedup discipline: company
// searches dedup on business identity, everything else on titles.
func modeFor(entityType string) models.Mode {
	if entityType == "" || entityType == "company" {
		return models.ModeCompany
	}
	return models.ModeEntity
}

// CreateJob starts the upstream search and the background poll loop, and
// returns the persisted job document.
func (c *Controller) CreateJob(ctx context.Context, req *CreateJobRequest) (*models.Job, error) {
	websetID, err := c.provider.CreateWebset(ctx, &interfaces.WebsetRequest{
		Query:       req.Query,
		Count:       req.Count,
		Entity:      req.EntityType,
		Enrichments: req.Enrichments,
	})
	if err != nil {
		return nil, err
	}

	job := &models.Job{
		ID:            websetID,
		OriginalQuery: req.Query,
		EntityType:    req.EntityType,
		Mode:          modeFor(req.EntityType),
		Status:        models.JobStatusActive,
		CreatedAt:     time.Now().UTC(),
	}
	if err := c.storage.JobStorage().SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	adjudicator := llm.NewAdjudicator(
		c.llm, c.logger, job.ID, req.EntityType,
		c.config.LLM.BatchSize, common.Duration(c.config.LLM.BatchLatency),
	)

	var resolver *dedup.URLResolver
	if job.Mode == models.ModeCompany && c.config.Dedup.URLResolution.Enabled {
		resolver = c.resolver
	}

	engine := dedup.NewEngine(dedup.Options{
		JobID:       job.ID,
		Mode:        job.Mode,
		Enabled:     c.config.Dedup.Enabled,
		VectorTopK:  c.config.Vector.TopK,
		Bus:         c.bus,
		Jobs:        c.storage.JobStorage(),
		Items:       c.storage.ItemStorage(),
		Vector:      c.vector,
		Adjudicator: adjudicator,
		Resolver:    resolver,
		Logger:      c.logger,
	})

	jobCtx, cancel := context.WithCancel(context.Background())
	running := &runningJob{job: job, engine: engine, adjudicator: adjudicator, cancel: cancel}

	c.mu.Lock()
	c.jobs[job.ID] = running
	c.mu.Unlock()

	c.wg.Add(1)
	go c.runJob(jobCtx, running)

	c.logger.Info().
		Str("job_id", job.ID).
		Str("query", req.Query).
		Str("mode", string(job.Mode)).
		Msg("Ingestion job started")
	return job, nil
}

// runJob is the poll loop: every poll interval it drains new items from the
// upstream cursor, feeds them to the engine, and publishes a throttled status
// frame. The job finishes when the upstream reports idle with no more items,
// or errors out when the wall-clock deadline expires first.
func (c *Controller) runJob(ctx context.Context, running *runningJob) {
	defer c.wg.Done()

	job := running.job
	interval := common.Duration(c.config.Upstream.PollInterval)
	deadline := time.Now().Add(common.Duration(c.config.Upstream.PollDeadline))
	statusLimiter := rate.NewLimiter(rate.Every(common.Duration(c.config.Stream.StatusInterval)), 1)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.finishJob(job, running)
			return
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			// The wall-clock budget ran out: finalize with whatever arrived,
			// same as an idle upstream.
			c.logger.Warn().
				Str("job_id", job.ID).
				Str("deadline", c.config.Upstream.PollDeadline).
				Msg("Poll deadline reached, finalizing job")
			c.finishJob(job, running)
			return
		}

		newItems, err := c.drainCursor(ctx, job, running.engine)
		if err != nil {
			c.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Item page fetch failed, will retry")
			continue
		}

		status := models.JobStatusProcessing
		if newItems > 0 {
			status = models.JobStatusProcessingItems
		}
		if job.Status != status && !job.Status.Terminal() {
			job.Status = status
			if err := c.storage.JobStorage().UpdateJob(ctx, job); err != nil {
				c.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Job status update failed")
			}
		}
		if statusLimiter.Allow() {
			c.bus.Publish(job.ID, models.StatusEvent(string(status), running.engine.AcceptedCount()))
		}

		upstreamStatus, err := c.provider.GetStatus(ctx, job.ID)
		if err != nil {
			c.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Upstream status poll failed, will retry")
			continue
		}
		if upstreamFailed(upstreamStatus) {
			c.failJob(job, running, fmt.Sprintf("upstream reported terminal status %q", upstreamStatus))
			return
		}
		if newItems == 0 && upstreamFinished(upstreamStatus) {
			c.finishJob(job, running)
			return
		}
	}
}

// drainCursor pulls every available page starting at the job's persisted
// cursor and feeds the items to the engine. Company mode fans each page out
// concurrently; entity mode stays sequential so ordering is deterministic.
func (c *Controller) drainCursor(ctx context.Context, job *models.Job, engine *dedup.Engine) (int, error) {
	total := 0
	for {
		page, err := c.provider.ListItems(ctx, job.ID, job.NextCursor, c.config.Upstream.PageLimit)
		if err != nil {
			return total, err
		}

		if len(page.Data) > 0 {
			total += len(page.Data)
			if job.Mode == models.ModeEntity {
				for _, item := range page.Data {
					engine.Process(ctx, item)
				}
			} else {
				var wg sync.WaitGroup
				for _, item := range page.Data {
					wg.Add(1)
					go func(it models.Item) {
						defer wg.Done()
						engine.Process(ctx, it)
					}(item)
				}
				wg.Wait()
			}
		}

		if page.NextCursor != "" {
			job.NextCursor = page.NextCursor
		}
		if !page.HasMore {
			return total, nil
		}
	}
}

func upstreamFinished(status string) bool {
	switch status {
	case "idle", "completed", "complete", "finished":
		return true
	default:
		return false
	}
}

func upstreamFailed(status string) bool {
	switch status {
	case "error", "failed", "canceled", "cancelled":
		return true
	default:
		return false
	}
}

// finishJob drains the adjudicator and pending verdicts, publishes the
// finished frame, and marks the job completed.
func (c *Controller) finishJob(job *models.Job, running *runningJob) {
	running.adjudicator.Flush()
	running.adjudicator.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := running.engine.WaitPending(drainCtx); err != nil {
		c.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Pending verdicts did not drain before completion")
	}

	c.bus.Publish(job.ID, models.FinishedEvent(running.engine.TotalSeen()))

	now := time.Now().UTC()
	job.Status = models.JobStatusCompleted
	job.CompletedAt = &now
	if err := c.storage.JobStorage().UpdateJob(drainCtx, job); err != nil {
		c.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Job completion update failed")
	}

	c.bus.CloseJob(job.ID)
	c.remove(job.ID)

	c.logger.Info().
		Str("job_id", job.ID).
		Int("accepted", running.engine.AcceptedCount()).
		Int("rejected", running.engine.RejectedCount()).
		Msg("Ingestion job completed")
}

// failJob marks the job failed and tears its stream down.
func (c *Controller) failJob(job *models.Job, running *runningJob, message string) {
	running.adjudicator.Flush()
	running.adjudicator.Wait()

	c.bus.Publish(job.ID, models.ErrorEvent(message))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	now := time.Now().UTC()
	job.Status = models.JobStatusError
	job.ErrorMessage = message
	job.CompletedAt = &now
	if err := c.storage.JobStorage().UpdateJob(ctx, job); err != nil {
		c.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Job error update failed")
	}

	c.bus.CloseJob(job.ID)
	c.remove(job.ID)

	c.logger.Error().
		Str("job_id", job.ID).
		Str("error", message).
		Msg("Ingestion job failed")
}

func (c *Controller) remove(jobID string) {
	c.mu.Lock()
	delete(c.jobs, jobID)
	c.mu.Unlock()
}

// ActiveJobs reports the number of jobs still polling.
func (c *Controller) ActiveJobs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}

// IsRunning reports whether jobID has a live poll loop.
func (c *Controller) IsRunning(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.jobs[jobID]
	return ok
}

// Shutdown cancels every running job and waits for their loops to exit or ctx
// to expire.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	for _, running := range c.jobs {
		running.cancel()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
