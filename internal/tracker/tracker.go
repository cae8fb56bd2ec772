// -----------------------------------------------------------------------
// Job Tracker - Single writer for job records over revision-checked storage
// -----------------------------------------------------------------------

package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quorum/internal/interfaces"
	"github.com/ternarybob/quorum/internal/models"
)

// maxWriteAttempts bounds conflict retries before a write is surfaced as a
// transient state store failure.
const maxWriteAttempts = 3

var (
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrProgressRegress   = errors.New("progress regression rejected")
)

// Tracker implements interfaces.JobTracker. Every mutation rereads the
// record and retries on revision conflict, so concurrent writers never
// clobber each other and terminal states stay absorbing.
type Tracker struct {
	storage interfaces.JobStorage
	events  interfaces.EventService
	logger  arbor.ILogger
}

func New(storage interfaces.JobStorage, events interfaces.EventService, logger arbor.ILogger) *Tracker {
	return &Tracker{storage: storage, events: events, logger: logger}
}

func (t *Tracker) Create(ctx context.Context, job *models.Job) error {
	if err := t.storage.Create(ctx, job); err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	t.publish(ctx, interfaces.EventJobCreated, job)
	return nil
}

func (t *Tracker) Read(ctx context.Context, jobID string) (*models.Job, error) {
	return t.storage.Get(ctx, jobID)
}

// UpdateState transitions the job and advances progress to the new state's
// waypoint. Terminal states stamp TerminalAt; illegal edges are rejected
// without touching the record.
func (t *Tracker) UpdateState(ctx context.Context, jobID string, state models.JobState) (*models.Job, error) {
	job, err := t.mutate(ctx, jobID, func(j *models.Job) error {
		if !models.CanTransition(j.State, state) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, j.State, state)
		}
		j.State = state
		if wp := state.Progress(); wp > j.ProgressPct {
			j.ProgressPct = wp
		}
		if state.IsTerminal() {
			now := time.Now().UTC()
			j.TerminalAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.logger.Info().
		Str("job_id", jobID).
		Str("state", string(state)).
		Int("progress", job.ProgressPct).
		Msg("Job state changed")

	t.publish(ctx, interfaces.EventJobStateChanged, job)
	if state.IsTerminal() {
		t.publish(ctx, interfaces.EventJobTerminal, job)
	}
	return job, nil
}

// UpdateProgress raises progress within the current state. Values below the
// recorded progress are rejected; values at the recorded progress are a
// no-op so redeliveries stay harmless.
func (t *Tracker) UpdateProgress(ctx context.Context, jobID string, pct int) error {
	job, err := t.mutate(ctx, jobID, func(j *models.Job) error {
		if pct < j.ProgressPct {
			return fmt.Errorf("%w: %d -> %d", ErrProgressRegress, j.ProgressPct, pct)
		}
		j.ProgressPct = pct
		return nil
	})
	if err != nil {
		return err
	}
	t.publish(ctx, interfaces.EventJobProgress, job)
	return nil
}

// SetResult applies a result mutation without changing state. The mutate
// callback runs inside the retry loop and must be idempotent.
func (t *Tracker) SetResult(ctx context.Context, jobID string, mutate func(*models.Job)) (*models.Job, error) {
	return t.mutate(ctx, jobID, func(j *models.Job) error {
		mutate(j)
		return nil
	})
}

func (t *Tracker) SetError(ctx context.Context, jobID string, jobErr *models.JobError) error {
	_, err := t.mutate(ctx, jobID, func(j *models.Job) error {
		j.LastError = jobErr
		return nil
	})
	return err
}

// mutate runs the read-modify-write cycle with bounded conflict retries.
func (t *Tracker) mutate(ctx context.Context, jobID string, fn func(*models.Job) error) (*models.Job, error) {
	var lastErr error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		job, err := t.storage.Get(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("read job %s: %w", jobID, err)
		}

		if err := fn(job); err != nil {
			return nil, err
		}
		job.UpdatedAt = time.Now().UTC()

		err = t.storage.Update(ctx, job)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, interfaces.ErrConflict) {
			return nil, fmt.Errorf("write job %s: %w", jobID, err)
		}

		lastErr = err
		t.logger.Debug().
			Str("job_id", jobID).
			Int("attempt", attempt).
			Msg("Revision conflict, retrying write")
	}
	return nil, models.NewJobError(models.ErrKindTransientStateStore,
		"job %s write failed after %d attempts: %v", jobID, maxWriteAttempts, lastErr)
}

func (t *Tracker) publish(ctx context.Context, eventType interfaces.EventType, job *models.Job) {
	if t.events == nil {
		return
	}
	_ = t.events.Publish(ctx, interfaces.Event{
		Type:  eventType,
		JobID: job.ID,
		Payload: map[string]interface{}{
			"state":    string(job.State),
			"progress": job.ProgressPct,
		},
	})
}
