package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/lithium-07/dedup-webset/internal/common"
	"github.com/lithium-07/dedup-webset/internal/interfaces"
)

// Manager owns the shared connection and the per-collection storages.
type Manager struct {
	db    *BadgerDB
	jobs  interfaces.JobStorage
	items interfaces.ItemStorage
}

// NewManager opens the database and wires the storages.
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}
	return &Manager{
		db:    db,
		jobs:  NewJobStorage(db, logger),
		items: NewItemStorage(db, logger),
	}, nil
}

func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.jobs
}

func (m *Manager) ItemStorage() interfaces.ItemStorage {
	return m.items
}

func (m *Manager) Close() error {
	return m.db.Close()
}
