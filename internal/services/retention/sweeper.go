// -----------------------------------------------------------------------
// Retention Sweeper - Scheduled cleanup of expired terminal jobs
// -----------------------------------------------------------------------

package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quorum/internal/common"
	"github.com/ternarybob/quorum/internal/interfaces"
	"github.com/ternarybob/quorum/internal/models"
	"github.com/ternarybob/quorum/internal/services/documents"
)

// Sweeper removes terminal jobs past their retention window, together
// with their on-disk artifact directories. Completed jobs and failed
// jobs age out on separate schedules.
type Sweeper struct {
	storage interfaces.JobStorage
	writer  *documents.Writer
	cfg     common.RetentionConfig
	cron    *cron.Cron
	logger  arbor.ILogger
}

func NewSweeper(storage interfaces.JobStorage, writer *documents.Writer, cfg common.RetentionConfig, logger arbor.ILogger) *Sweeper {
	return &Sweeper{
		storage: storage,
		writer:  writer,
		cfg:     cfg,
		cron:    cron.New(),
		logger:  logger,
	}
}

// Start registers the sweep on the configured cron schedule.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("Retention sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule retention sweep %q: %w", s.cfg.Schedule, err)
	}

	s.cron.Start()
	s.logger.Info().
		Str("schedule", s.cfg.Schedule).
		Int("completed_days", s.cfg.CompletedDays).
		Int("failed_days", s.cfg.FailedDays).
		Msg("Retention sweeper started")
	return nil
}

// Stop halts the schedule; a sweep already in flight runs to completion.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Retention sweeper stopped")
}

// Sweep removes every expired terminal job and returns the count. It
// runs one pass per retention class so the windows stay independent.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	completed, err := s.sweepClass(ctx,
		[]models.JobState{models.JobStateCompleted},
		now.AddDate(0, 0, -s.cfg.CompletedDays))
	if err != nil {
		return completed, err
	}

	failed, err := s.sweepClass(ctx,
		[]models.JobState{models.JobStateFailed, models.JobStateTimeout},
		now.AddDate(0, 0, -s.cfg.FailedDays))
	if err != nil {
		return completed + failed, err
	}

	total := completed + failed
	if total > 0 {
		s.logger.Info().
			Int("completed", completed).
			Int("failed", failed).
			Msg("Retention sweep removed expired jobs")
	}
	return total, nil
}

// sweepClass deletes artifact directories first so a crash between the
// two steps leaves the job record behind for the next pass, never an
// orphaned directory.
func (s *Sweeper) sweepClass(ctx context.Context, states []models.JobState, cutoff time.Time) (int, error) {
	for _, state := range states {
		jobs, err := s.storage.List(ctx, state, 0)
		if err != nil {
			return 0, fmt.Errorf("failed to list %s jobs: %w", state, err)
		}
		for _, job := range jobs {
			if job.TerminalAt == nil || !job.TerminalAt.Before(cutoff) {
				continue
			}
			if err := s.writer.Remove(ctx, job.ID); err != nil {
				s.logger.Warn().
					Str("job_id", job.ID).
					Err(err).
					Msg("Failed to remove artifact directory")
			}
		}
	}

	return s.storage.DeleteTerminalBefore(ctx, states, cutoff)
}
