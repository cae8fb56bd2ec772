// -----------------------------------------------------------------------
// Errors - Job error taxonomy carried across component boundaries
// -----------------------------------------------------------------------

package models

import "fmt"

// ErrorKind classifies a job failure. Only TRANSIENT_STATE_STORE is
// retryable; everything else is a policy decision for the orchestrator.
type ErrorKind string

const (
	ErrKindInputRejected        ErrorKind = "INPUT_REJECTED"
	ErrKindExtractorUnavailable ErrorKind = "EXTRACTOR_UNAVAILABLE"
	ErrKindExtractorTimeout     ErrorKind = "EXTRACTOR_TIMEOUT"
	ErrKindExtractorError       ErrorKind = "EXTRACTOR_ERROR"
	ErrKindComparatorError      ErrorKind = "COMPARATOR_ERROR"
	ErrKindMergeUnresolved      ErrorKind = "MERGE_UNRESOLVED"
	ErrKindJobTimeout           ErrorKind = "JOB_TIMEOUT"
	ErrKindTransientStateStore  ErrorKind = "TRANSIENT_STATE_STORE"
	ErrKindWebhookFailed        ErrorKind = "WEBHOOK_DELIVERY_FAILED"
)

// JobError is the error record persisted on a job and surfaced via status
// and webhook payloads.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewJobError builds a job error with a formatted message.
func NewJobError(kind ErrorKind, format string, args ...interface{}) *JobError {
	return &JobError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Retryable reports whether the error kind may be retried.
func (e *JobError) Retryable() bool {
	return e != nil && e.Kind == ErrKindTransientStateStore
}
