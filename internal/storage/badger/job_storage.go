package badger

import (
	"context"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quorum/internal/interfaces"
	"github.com/ternarybob/quorum/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements interfaces.JobStorage on badgerhold. Every update
// is revision-checked inside one Badger transaction so concurrent writers
// with a stale record get ErrConflict instead of clobbering each other.
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

// Create persists a new job record
func (s *JobStorage) Create(ctx context.Context, job *models.Job) error {
	job.Revision = 1
	if err := s.db.Store().Insert(job.ID, job); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("job %s already exists: %w", job.ID, interfaces.ErrConflict)
		}
		return fmt.Errorf("failed to create job %s: %w", job.ID, err)
	}
	return nil
}

// Get retrieves a job by id
func (s *JobStorage) Get(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	err := s.db.Store().Get(jobID, &job)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return &job, nil
}

// Update persists a mutated job if its revision still matches the stored
// record, bumping the revision on success.
func (s *JobStorage) Update(ctx context.Context, job *models.Job) error {
	store := s.db.Store()
	err := store.Badger().Update(func(txn *badgerdb.Txn) error {
		var current models.Job
		getErr := store.TxGet(txn, job.ID, &current)
		if getErr == badgerhold.ErrNotFound {
			return interfaces.ErrKeyNotFound
		}
		if getErr != nil {
			return fmt.Errorf("failed to read job %s: %w", job.ID, getErr)
		}
		if current.Revision != job.Revision {
			return interfaces.ErrConflict
		}

		job.Revision++
		job.UpdatedAt = time.Now().UTC()
		return store.TxUpsert(txn, job.ID, job)
	})
	if err != nil {
		// Roll the in-memory bump back so a retry re-reads cleanly
		if err == interfaces.ErrConflict {
			job.Revision--
		}
		return err
	}
	return nil
}

// List returns jobs filtered by state; an empty state returns all
func (s *JobStorage) List(ctx context.Context, state models.JobState, limit int) ([]*models.Job, error) {
	var jobs []models.Job
	query := &badgerhold.Query{}
	if state != "" {
		query = badgerhold.Where("State").Eq(state)
	}
	query = query.SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// Delete removes a job record
func (s *JobStorage) Delete(ctx context.Context, jobID string) error {
	err := s.db.Store().Delete(jobID, &models.Job{})
	if err == badgerhold.ErrNotFound {
		return interfaces.ErrKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", jobID, err)
	}
	return nil
}

// DeleteTerminalBefore removes terminal jobs older than the cutoff. The
// query filters on State; TerminalAt is a pointer field badgerhold cannot
// index, so the cutoff check happens in Go.
func (s *JobStorage) DeleteTerminalBefore(ctx context.Context, states []models.JobState, cutoff time.Time) (int, error) {
	criteria := make([]interface{}, len(states))
	for i, st := range states {
		criteria[i] = st
	}

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("State").In(criteria...)); err != nil {
		return 0, fmt.Errorf("failed to scan terminal jobs: %w", err)
	}

	deleted := 0
	for i := range jobs {
		job := &jobs[i]
		if job.TerminalAt == nil || !job.TerminalAt.Before(cutoff) {
			continue
		}
		if err := s.db.Store().Delete(job.ID, &models.Job{}); err != nil {
			s.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to delete expired job")
			continue
		}
		deleted++
	}
	return deleted, nil
}
