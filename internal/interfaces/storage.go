package interfaces

import (
	"context"

	"github.com/lithium-07/dedup-webset/internal/models"
)

// JobListOptions filters and pages job queries.
type JobListOptions struct {
	Status     models.JobStatus
	EntityType string
	Limit      int
	Offset     int
}

// CounterDelta is one atomic per-item counter update applied to a job
// document: TotalItems always increments by one, plus exactly one of
// UniqueItems or DuplicatesRejected, plus the per-reason scalar on reject.
type CounterDelta struct {
	Unique          bool
	Rejected        bool
	RejectionReason string
}

// JobStorage persists job documents.
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.Job, error)
	DeleteJob(ctx context.Context, jobID string) error

	// IncrementCounters applies one CounterDelta atomically with bounded
	// retry on write conflicts. Persistent failure is returned but callers
	// must treat it as non-fatal.
	IncrementCounters(ctx context.Context, jobID string, delta CounterDelta) error

	CountJobs(ctx context.Context) (int, error)
}

// ItemStorage persists per-item records.
type ItemStorage interface {
	SaveItem(ctx context.Context, rec *models.ItemRecord) error
	ListItems(ctx context.Context, jobID string, status models.ItemStatus, limit int) ([]*models.ItemRecord, error)
	CountItems(ctx context.Context, jobID string) (int, error)
	CountAllItems(ctx context.Context) (int, error)
	ReasonStats(ctx context.Context, jobID string) (map[string]int, error)
	DeleteItems(ctx context.Context, jobID string) (int, error)
}

// StorageManager owns the storage backends and their shared connection.
type StorageManager interface {
	JobStorage() JobStorage
	ItemStorage() ItemStorage
	Close() error
}
