package badger

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quorum/internal/common"
	"github.com/ternarybob/quorum/internal/interfaces"
)

// Manager implements interfaces.StorageManager for Badger
type Manager struct {
	db         *BadgerDB
	jobStorage interfaces.JobStorage
	stateStore interfaces.StateStore
	logger     arbor.ILogger
}

// NewManager creates a new Badger storage manager with all storage services
func NewManager(config *common.Config, logger arbor.ILogger) (*Manager, error) {
	db, err := NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize badger: %w", err)
	}

	return &Manager{
		db:         db,
		jobStorage: NewJobStorage(db, logger),
		stateStore: NewStateStore(db, logger),
		logger:     logger,
	}, nil
}

// JobStorage returns the job storage service
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.jobStorage
}

// StateStore returns the state store service
func (m *Manager) StateStore() interfaces.StateStore {
	return m.stateStore
}

// DB returns the underlying database connection for the queue manager
func (m *Manager) DB() *BadgerDB {
	return m.db
}

// Close closes all storage connections
func (m *Manager) Close() error {
	m.logger.Debug().Msg("Closing storage manager")
	return m.db.Close()
}
