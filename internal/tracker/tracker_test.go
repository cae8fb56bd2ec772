package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/quorum/internal/common"
	"github.com/ternarybob/quorum/internal/interfaces"
	"github.com/ternarybob/quorum/internal/models"
)

// memStorage is an in-memory JobStorage with the same revision semantics
// as the badger implementation. conflictsLeft injects write conflicts.
type memStorage struct {
	mu            sync.Mutex
	jobs          map[string]models.Job
	conflictsLeft int
}

func newMemStorage() *memStorage {
	return &memStorage{jobs: map[string]models.Job{}}
}

func (m *memStorage) Create(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return interfaces.ErrConflict
	}
	job.Revision = 1
	m.jobs[job.ID] = *job
	return nil
}

func (m *memStorage) Get(ctx context.Context, jobID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, interfaces.ErrKeyNotFound
	}
	copied := job
	return &copied, nil
}

func (m *memStorage) Update(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflictsLeft > 0 {
		m.conflictsLeft--
		return interfaces.ErrConflict
	}
	current, ok := m.jobs[job.ID]
	if !ok {
		return interfaces.ErrKeyNotFound
	}
	if current.Revision != job.Revision {
		return interfaces.ErrConflict
	}
	job.Revision++
	m.jobs[job.ID] = *job
	return nil
}

func (m *memStorage) List(ctx context.Context, state models.JobState, limit int) ([]*models.Job, error) {
	return nil, nil
}

func (m *memStorage) Delete(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	return nil
}

func (m *memStorage) DeleteTerminalBefore(ctx context.Context, states []models.JobState, cutoff time.Time) (int, error) {
	return 0, nil
}

func newTestTracker(storage interfaces.JobStorage) *Tracker {
	return New(storage, nil, common.GetLogger())
}

func pendingJob(t *testing.T, storage interfaces.JobStorage) *models.Job {
	t.Helper()
	job := models.NewJob(models.SourceRef{Path: "/tmp/doc.pdf"}, models.StrategyFallback, models.ExtractionOptions{})
	require.NoError(t, storage.Create(context.Background(), job))
	return job
}

func TestUpdateStateLegalPath(t *testing.T) {
	storage := newMemStorage()
	tr := newTestTracker(storage)
	job := pendingJob(t, storage)
	ctx := context.Background()

	for _, state := range []models.JobState{
		models.JobStateAnalyzing,
		models.JobStateExtracting,
		models.JobStateComparing,
		models.JobStateCompleted,
	} {
		updated, err := tr.UpdateState(ctx, job.ID, state)
		require.NoError(t, err)
		assert.Equal(t, state, updated.State)
		assert.Equal(t, state.Progress(), updated.ProgressPct)
	}

	final, err := tr.Read(ctx, job.ID)
	require.NoError(t, err)
	assert.NotNil(t, final.TerminalAt)
	assert.Equal(t, 100, final.ProgressPct)
}

func TestUpdateStateRejectsIllegalEdge(t *testing.T) {
	storage := newMemStorage()
	tr := newTestTracker(storage)
	job := pendingJob(t, storage)

	_, err := tr.UpdateState(context.Background(), job.ID, models.JobStateComparing)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIllegalTransition))

	// Record untouched
	got, err := tr.Read(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatePending, got.State)
}

func TestTerminalStatesAbsorb(t *testing.T) {
	storage := newMemStorage()
	tr := newTestTracker(storage)
	job := pendingJob(t, storage)
	ctx := context.Background()

	_, err := tr.UpdateState(ctx, job.ID, models.JobStateFailed)
	require.NoError(t, err)

	for _, state := range []models.JobState{
		models.JobStateAnalyzing,
		models.JobStateCompleted,
		models.JobStateTimeout,
	} {
		_, err := tr.UpdateState(ctx, job.ID, state)
		assert.ErrorIs(t, err, ErrIllegalTransition, "edge FAILED -> %s", state)
	}
}

func TestFailureReachableFromAnyNonTerminalState(t *testing.T) {
	ctx := context.Background()
	for _, from := range []models.JobState{
		models.JobStateAnalyzing,
		models.JobStateExtracting,
		models.JobStateComparing,
		models.JobStateNeedsReview,
	} {
		storage := newMemStorage()
		tr := newTestTracker(storage)
		job := pendingJob(t, storage)

		_, err := tr.SetResult(ctx, job.ID, func(j *models.Job) { j.State = from })
		require.NoError(t, err)

		updated, err := tr.UpdateState(ctx, job.ID, models.JobStateTimeout)
		require.NoError(t, err, "from %s", from)
		assert.Equal(t, models.JobStateTimeout, updated.State)
	}
}

func TestProgressMonotonic(t *testing.T) {
	storage := newMemStorage()
	tr := newTestTracker(storage)
	job := pendingJob(t, storage)
	ctx := context.Background()

	require.NoError(t, tr.UpdateProgress(ctx, job.ID, 40))
	require.NoError(t, tr.UpdateProgress(ctx, job.ID, 40))

	err := tr.UpdateProgress(ctx, job.ID, 30)
	assert.ErrorIs(t, err, ErrProgressRegress)

	got, err := tr.Read(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, got.ProgressPct)
}

func TestConflictRetrySucceeds(t *testing.T) {
	storage := newMemStorage()
	tr := newTestTracker(storage)
	job := pendingJob(t, storage)

	storage.conflictsLeft = 2
	updated, err := tr.UpdateState(context.Background(), job.ID, models.JobStateAnalyzing)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateAnalyzing, updated.State)
}

func TestConflictExhaustionIsTransientError(t *testing.T) {
	storage := newMemStorage()
	tr := newTestTracker(storage)
	job := pendingJob(t, storage)

	storage.conflictsLeft = 10
	_, err := tr.UpdateState(context.Background(), job.ID, models.JobStateAnalyzing)
	require.Error(t, err)

	var jobErr *models.JobError
	require.True(t, errors.As(err, &jobErr))
	assert.Equal(t, models.ErrKindTransientStateStore, jobErr.Kind)
	assert.True(t, jobErr.Retryable())
}

func TestSetErrorKeepsState(t *testing.T) {
	storage := newMemStorage()
	tr := newTestTracker(storage)
	job := pendingJob(t, storage)
	ctx := context.Background()

	require.NoError(t, tr.SetError(ctx, job.ID, models.NewJobError(models.ErrKindExtractorError, "boom")))

	got, err := tr.Read(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatePending, got.State)
	require.NotNil(t, got.LastError)
	assert.Equal(t, models.ErrKindExtractorError, got.LastError.Kind)
}
