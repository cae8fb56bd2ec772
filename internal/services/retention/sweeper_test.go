package retention

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/quorum/internal/common"
	"github.com/ternarybob/quorum/internal/interfaces"
	"github.com/ternarybob/quorum/internal/models"
	"github.com/ternarybob/quorum/internal/services/documents"
	badgerstore "github.com/ternarybob/quorum/internal/storage/badger"
)

func newTestSweeper(t *testing.T) (*Sweeper, interfaces.JobStorage, string) {
	t.Helper()

	cfg := common.NewDefaultConfig()
	cfg.Storage.Badger.Path = t.TempDir()

	logger := common.GetLogger()
	mgr, err := badgerstore.NewManager(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	outputDir := t.TempDir()
	writer := documents.NewWriter(outputDir, logger)

	sweeper := NewSweeper(mgr.JobStorage(), writer, common.RetentionConfig{
		Schedule:      "0 3 * * *",
		CompletedDays: 7,
		FailedDays:    30,
	}, logger)

	return sweeper, mgr.JobStorage(), outputDir
}

func terminalJob(t *testing.T, storage interfaces.JobStorage, id string, state models.JobState, age time.Duration) {
	t.Helper()
	terminalAt := time.Now().UTC().Add(-age)
	job := &models.Job{
		ID:         id,
		State:      state,
		CreatedAt:  terminalAt.Add(-time.Minute),
		UpdatedAt:  terminalAt,
		TerminalAt: &terminalAt,
	}
	require.NoError(t, storage.Create(context.Background(), job))
}

func artifactDir(t *testing.T, base, jobID string) string {
	t.Helper()
	dir := filepath.Join(base, jobID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "document.md"), []byte("# doc\n"), 0o644))
	return dir
}

func TestSweepRemovesExpiredCompletedJobs(t *testing.T) {
	sweeper, storage, outputDir := newTestSweeper(t)
	ctx := context.Background()

	terminalJob(t, storage, "job_old", models.JobStateCompleted, 10*24*time.Hour)
	terminalJob(t, storage, "job_fresh", models.JobStateCompleted, 2*24*time.Hour)
	oldDir := artifactDir(t, outputDir, "job_old")
	freshDir := artifactDir(t, outputDir, "job_fresh")

	removed, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = storage.Get(ctx, "job_old")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)
	_, err = storage.Get(ctx, "job_fresh")
	assert.NoError(t, err)

	assert.NoDirExists(t, oldDir)
	assert.DirExists(t, freshDir)
}

func TestSweepKeepsFailedJobsLonger(t *testing.T) {
	sweeper, storage, _ := newTestSweeper(t)
	ctx := context.Background()

	// Ten days is past the completed window but inside the failed window
	terminalJob(t, storage, "job_failed", models.JobStateFailed, 10*24*time.Hour)
	terminalJob(t, storage, "job_timeout", models.JobStateTimeout, 40*24*time.Hour)

	removed, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = storage.Get(ctx, "job_failed")
	assert.NoError(t, err)
	_, err = storage.Get(ctx, "job_timeout")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)
}

func TestSweepIgnoresNonTerminalJobs(t *testing.T) {
	sweeper, storage, _ := newTestSweeper(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-90 * 24 * time.Hour)
	job := &models.Job{
		ID:        "job_active",
		State:     models.JobStateExtracting,
		CreatedAt: old,
		UpdatedAt: old,
	}
	require.NoError(t, storage.Create(ctx, job))

	removed, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	_, err = storage.Get(ctx, "job_active")
	assert.NoError(t, err)
}

func TestSweepEmptyStoreIsNoop(t *testing.T) {
	sweeper, _, _ := newTestSweeper(t)

	removed, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	sweeper, _, _ := newTestSweeper(t)
	sweeper.cfg.Schedule = "not a schedule"

	err := sweeper.Start()
	assert.Error(t, err)
}
