package models

import "time"

// JobStatus represents the lifecycle state of one ingestion job.
type JobStatus string

const (
	JobStatusActive          JobStatus = "active"
	JobStatusProcessing      JobStatus = "processing"
	JobStatusProcessingItems JobStatus = "processing_items"
	JobStatusCompleted       JobStatus = "completed"
	JobStatusError           JobStatus = "error"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// Job is the persisted per-job document. Counters are updated one atomic
// document write per item; see storage.ItemStorage.
type Job struct {
	ID                 string         `json:"websetId" badgerhold:"index"`
	OriginalQuery      string         `json:"originalQuery"`
	EntityType         string         `json:"entityType,omitempty" badgerhold:"index"`
	Mode               Mode           `json:"mode"`
	Status             JobStatus      `json:"status" badgerhold:"index"`
	TotalItems         int            `json:"totalItems"`
	UniqueItems        int            `json:"uniqueItems"`
	DuplicatesRejected int            `json:"duplicatesRejected"`
	RejectionReasons   map[string]int `json:"rejectionReasons,omitempty"`
	CreatedAt          time.Time      `json:"createdAt" badgerhold:"index"`
	CompletedAt        *time.Time     `json:"completedAt,omitempty"`
	ErrorMessage       string         `json:"errorMessage,omitempty"`
	NextCursor         string         `json:"-"`
}
