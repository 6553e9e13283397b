package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/lithium-07/dedup-webset/internal/interfaces"
	"github.com/lithium-07/dedup-webset/internal/models"
)

// ItemStorage implements the ItemStorage interface for Badger
type ItemStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewItemStorage creates a new ItemStorage instance
func NewItemStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ItemStorage {
	return &ItemStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ItemStorage) SaveItem(ctx context.Context, rec *models.ItemRecord) error {
	if rec.JobID == "" || rec.ItemID == "" {
		return fmt.Errorf("item record requires job_id and item_id")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.Key = models.RecordKey(rec.JobID, rec.ItemID)

	// Duplicate keys are warnings, not failures: an item is recorded once per
	// job and a second insert means a redundant persistence call upstream.
	if err := s.db.Store().Insert(rec.Key, rec); err != nil {
		if err == badgerhold.ErrKeyExists {
			s.logger.Warn().
				Str("job_id", rec.JobID).
				Str("item_id", rec.ItemID).
				Msg("Item record already exists, skipping insert")
			return nil
		}
		return fmt.Errorf("failed to save item record: %w", err)
	}
	return nil
}

func (s *ItemStorage) ListItems(ctx context.Context, jobID string, status models.ItemStatus, limit int) ([]*models.ItemRecord, error) {
	query := badgerhold.Where("JobID").Eq(jobID).Index("JobID")
	if status != "" {
		query = query.And("Status").Eq(status)
	}
	query = query.SortBy("CreatedAt")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []models.ItemRecord
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list item records: %w", err)
	}

	result := make([]*models.ItemRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

func (s *ItemStorage) CountItems(ctx context.Context, jobID string) (int, error) {
	count, err := s.db.Store().Count(&models.ItemRecord{}, badgerhold.Where("JobID").Eq(jobID).Index("JobID"))
	if err != nil {
		return 0, fmt.Errorf("failed to count item records: %w", err)
	}
	return int(count), nil
}

func (s *ItemStorage) CountAllItems(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.ItemRecord{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count item records: %w", err)
	}
	return int(count), nil
}

// ReasonStats aggregates rejection reasons for one job. BadgerHold has no
// server-side aggregation, so this walks the job's rejected records.
func (s *ItemStorage) ReasonStats(ctx context.Context, jobID string) (map[string]int, error) {
	var records []models.ItemRecord
	query := badgerhold.Where("JobID").Eq(jobID).Index("JobID").And("Status").Eq(models.ItemStatusRejected)
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to load rejected records: %w", err)
	}

	stats := make(map[string]int)
	for i := range records {
		if reason := records[i].RejectionReason; reason != "" {
			stats[reason]++
		}
	}
	return stats, nil
}

func (s *ItemStorage) DeleteItems(ctx context.Context, jobID string) (int, error) {
	query := badgerhold.Where("JobID").Eq(jobID).Index("JobID")
	count, err := s.db.Store().Count(&models.ItemRecord{}, query)
	if err != nil {
		return 0, fmt.Errorf("failed to count item records for delete: %w", err)
	}
	if err := s.db.Store().DeleteMatching(&models.ItemRecord{}, query); err != nil {
		return 0, fmt.Errorf("failed to delete item records: %w", err)
	}
	return int(count), nil
}
