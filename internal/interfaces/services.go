// -----------------------------------------------------------------------
// Services - Coordination service contracts
// -----------------------------------------------------------------------

package interfaces

import (
	"context"

	"github.com/ternarybob/quorum/internal/models"
)

// JobTracker owns every mutation of job records. All writes are
// revision-checked; illegal state transitions are rejected and progress
// never decreases.
type JobTracker interface {
	Create(ctx context.Context, job *models.Job) error
	Read(ctx context.Context, jobID string) (*models.Job, error)

	// UpdateState transitions the job, setting the waypoint progress for
	// the new state. Rejects illegal transitions and terminal mutations.
	UpdateState(ctx context.Context, jobID string, state models.JobState) (*models.Job, error)

	// UpdateProgress raises progress_pct; a lower value is rejected
	UpdateProgress(ctx context.Context, jobID string, pct int) error

	// SetResult stores the merged document and supporting reports
	SetResult(ctx context.Context, jobID string, mutate func(*models.Job)) (*models.Job, error)

	// SetError records the last error without forcing a transition
	SetError(ctx context.Context, jobID string, jobErr *models.JobError) error
}

// ComplexityAnalyzer scores a document and memoizes by content hash.
type ComplexityAnalyzer interface {
	Analyze(ctx context.Context, filePath, contentHash string, opts models.ExtractionOptions, force models.ComplexityClass) (*models.ComplexityReport, error)
}

// ResourceGate advises on admission of parallel work. It downgrades the
// strategy when headroom is low and never fails a job.
type ResourceGate interface {
	Admit(strategy models.Strategy) (models.Strategy, string)
}

// WebhookDispatcher delivers terminal events with bounded retry. Deliveries
// for one job are ordered; failure is recorded on the job and never
// regresses its state.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, job *models.Job) error
	Close() error
}

// ArbitrationService closes out NEEDS_REVIEW jobs from human choices.
type ArbitrationService interface {
	// Submit validates coverage of all outstanding divergences, applies
	// the manual merge and transitions the job to COMPLETED
	Submit(ctx context.Context, jobID string, choices []models.ArbitrationChoice) (*models.Job, error)
}

// DocumentWriter persists the per-job output artifact directory.
type DocumentWriter interface {
	// Write lays out document.md, metadata.json, extraction_report.json,
	// images/ and tables/ for a finished job, returning the directory
	Write(ctx context.Context, job *models.Job) (string, error)

	// Artifact returns the bytes of a named artifact for download
	Artifact(ctx context.Context, job *models.Job, name string) ([]byte, string, error)

	// Remove deletes a job's output directory
	Remove(ctx context.Context, jobID string) error
}
