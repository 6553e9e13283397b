package retention

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/lithium-07/dedup-webset/internal/common"
	"github.com/lithium-07/dedup-webset/internal/interfaces"
)

// Sweeper prunes terminal jobs (and their items) older than the configured
// maximum age on a cron schedule.
type Sweeper struct {
	config  *common.RetentionConfig
	storage interfaces.StorageManager
	logger  arbor.ILogger
	cron    *cron.Cron
	maxAge  time.Duration

	mu           sync.Mutex
	lastRun      time.Time
	jobsPruned   int
	itemsPruned  int
	sweepsFailed int
}

// Stats is the snapshot served by the stats API.
type Stats struct {
	Enabled      bool      `json:"enabled"`
	Schedule     string    `json:"schedule,omitempty"`
	MaxAge       string    `json:"maxAge,omitempty"`
	LastRun      time.Time `json:"lastRun,omitzero"`
	JobsPruned   int       `json:"jobsPruned"`
	ItemsPruned  int       `json:"itemsPruned"`
	SweepsFailed int       `json:"sweepsFailed"`
}

// NewSweeper creates the sweeper; call Start to schedule it.
func NewSweeper(config *common.RetentionConfig, storage interfaces.StorageManager, logger arbor.ILogger) *Sweeper {
	return &Sweeper{
		config:  config,
		storage: storage,
		logger:  logger,
		maxAge:  common.Duration(config.MaxAge),
	}
}

// Start registers the cron entry. A no-op when retention is disabled.
func (s *Sweeper) Start() error {
	if !s.config.Enabled {
		s.logger.Debug().Msg("Retention sweeper disabled")
		return nil
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.config.Schedule, s.sweep); err != nil {
		return err
	}
	s.cron.Start()

	s.logger.Info().
		Str("schedule", s.config.Schedule).
		Str("max_age", s.config.MaxAge).
		Msg("Retention sweeper started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
}

// Sweep runs one pruning pass immediately.
func (s *Sweeper) Sweep() {
	s.sweep()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-s.maxAge)

	jobs, err := s.storage.JobStorage().ListJobs(ctx, &interfaces.JobListOptions{})
	if err != nil {
		s.mu.Lock()
		s.sweepsFailed++
		s.mu.Unlock()
		s.logger.Warn().Err(err).Msg("Retention sweep failed to list jobs")
		return
	}

	jobsPruned, itemsPruned := 0, 0
	for _, job := range jobs {
		if !job.Status.Terminal() {
			continue
		}
		ended := job.CreatedAt
		if job.CompletedAt != nil {
			ended = *job.CompletedAt
		}
		if ended.After(cutoff) {
			continue
		}

		removed, err := s.storage.ItemStorage().DeleteItems(ctx, job.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Retention sweep failed to delete items")
			continue
		}
		if err := s.storage.JobStorage().DeleteJob(ctx, job.ID); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Retention sweep failed to delete job")
			continue
		}
		jobsPruned++
		itemsPruned += removed
	}

	s.mu.Lock()
	s.lastRun = time.Now().UTC()
	s.jobsPruned += jobsPruned
	s.itemsPruned += itemsPruned
	s.mu.Unlock()

	if jobsPruned > 0 {
		s.logger.Info().
			Int("jobs", jobsPruned).
			Int("items", itemsPruned).
			Msg("Retention sweep pruned old jobs")
	}
}

// Snapshot returns current sweep statistics.
func (s *Sweeper) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Enabled:      s.config.Enabled,
		Schedule:     s.config.Schedule,
		MaxAge:       s.config.MaxAge,
		LastRun:      s.lastRun,
		JobsPruned:   s.jobsPruned,
		ItemsPruned:  s.itemsPruned,
		SweepsFailed: s.sweepsFailed,
	}
}
