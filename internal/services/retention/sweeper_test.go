package retention

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lithium-07/dedup-webset/internal/common"
	"github.com/lithium-07/dedup-webset/internal/interfaces"
	"github.com/lithium-07/dedup-webset/internal/models"
	badgerstore "github.com/lithium-07/dedup-webset/internal/storage/badger"
)

func newTestStorage(t *testing.T) interfaces.StorageManager {
	t.Helper()
	storage, err := badgerstore.NewManager(common.GetLogger(), &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "db"),
	})
	if err != nil {
		t.Fatalf("failed to open test storage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	return storage
}

func saveJob(t *testing.T, storage interfaces.StorageManager, id string, status models.JobStatus, age time.Duration) {
	t.Helper()
	completed := time.Now().UTC().Add(-age)
	job := &models.Job{
		ID:        id,
		Status:    status,
		CreatedAt: completed,
	}
	if status.Terminal() {
		job.CompletedAt = &completed
	}
	if err := storage.JobStorage().SaveJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}
}

func TestSweepPrunesOldTerminalJobs(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	saveJob(t, storage, "ws_old_done", models.JobStatusCompleted, 48*time.Hour)
	saveJob(t, storage, "ws_fresh_done", models.JobStatusCompleted, time.Hour)
	saveJob(t, storage, "ws_old_active", models.JobStatusActive, 48*time.Hour)

	for _, itemID := range []string{"a", "b"} {
		if err := storage.ItemStorage().SaveItem(ctx, &models.ItemRecord{
			JobID: "ws_old_done", ItemID: itemID, Status: models.ItemStatusAccepted,
		}); err != nil {
			t.Fatal(err)
		}
	}

	sweeper := NewSweeper(&common.RetentionConfig{
		Enabled:  true,
		Schedule: "0 3 * * *",
		MaxAge:   "24h",
	}, storage, common.GetLogger())
	sweeper.Sweep()

	if _, err := storage.JobStorage().GetJob(ctx, "ws_old_done"); err == nil {
		t.Error("old completed job should be pruned")
	}
	if _, err := storage.JobStorage().GetJob(ctx, "ws_fresh_done"); err != nil {
		t.Error("recent completed job must survive")
	}
	if _, err := storage.JobStorage().GetJob(ctx, "ws_old_active"); err != nil {
		t.Error("active job must survive regardless of age")
	}

	count, err := storage.ItemStorage().CountItems(ctx, "ws_old_done")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("pruned job still has %d items", count)
	}

	stats := sweeper.Snapshot()
	if stats.JobsPruned != 1 || stats.ItemsPruned != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.LastRun.IsZero() {
		t.Error("last run not recorded")
	}
}

func TestSweeperDisabledDoesNotSchedule(t *testing.T) {
	sweeper := NewSweeper(&common.RetentionConfig{
		Enabled: false,
		MaxAge:  "24h",
	}, newTestStorage(t), common.GetLogger())

	if err := sweeper.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sweeper.Stop()
}
