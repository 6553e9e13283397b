package badger

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/lithium-07/dedup-webset/internal/interfaces"
	"github.com/lithium-07/dedup-webset/internal/models"
)

const (
	counterMaxRetries = 3
	counterBaseDelay  = 20 * time.Millisecond
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if job.RejectionReasons == nil {
		job.RejectionReasons = make(map[string]int)
	}
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("job not found: %s", jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) UpdateJob(ctx context.Context, job *models.Job) error {
	return s.SaveJob(ctx, job)
}

func (s *JobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	query := badgerhold.Where("ID").Ne("")

	if opts != nil {
		if opts.Status != "" {
			query = query.And("Status").Eq(opts.Status)
		}
		if opts.EntityType != "" {
			query = query.And("EntityType").Eq(opts.EntityType)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
	}
	query = query.SortBy("CreatedAt").Reverse()

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) DeleteJob(ctx context.Context, jobID string) error {
	if err := s.db.Store().Delete(jobID, &models.Job{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (s *JobStorage) CountJobs(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.Job{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return int(count), nil
}

// IncrementCounters applies one per-item counter delta as a single document
// update inside a badger transaction. Write conflicts are retried up to three
// times with jittered exponential backoff; a persistent failure is returned
// but ingestion treats it as non-fatal.
func (s *JobStorage) IncrementCounters(ctx context.Context, jobID string, delta interfaces.CounterDelta) error {
	var lastErr error
	for attempt := 0; attempt <= counterMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := counterBaseDelay << (attempt - 1)
			jitter := time.Duration(rand.Int63n(int64(backoff)))
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := s.db.Store().UpdateMatching(&models.Job{}, badgerhold.Where("ID").Eq(jobID), func(record interface{}) error {
			job, ok := record.(*models.Job)
			if !ok {
				return fmt.Errorf("unexpected record type %T", record)
			}
			job.TotalItems++
			switch {
			case delta.Unique:
				job.UniqueItems++
			case delta.Rejected:
				job.DuplicatesRejected++
				if delta.RejectionReason != "" {
					if job.RejectionReasons == nil {
						job.RejectionReasons = make(map[string]int)
					}
					job.RejectionReasons[delta.RejectionReason]++
				}
			}
			return nil
		})
		if err == nil {
			return nil
		}
		lastErr = err
		s.logger.Warn().
			Err(err).
			Str("job_id", jobID).
			Int("attempt", attempt+1).
			Msg("Counter update failed, retrying")
	}
	return fmt.Errorf("counter update failed after %d retries: %w", counterMaxRetries, lastErr)
}
