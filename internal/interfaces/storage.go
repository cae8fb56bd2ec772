// -----------------------------------------------------------------------
// Storage - Durable state contracts consumed by the coordination layer
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/quorum/internal/models"
)

// ErrKeyNotFound is returned when a key is not found in the state store
var ErrKeyNotFound = errors.New("key not found")

// ErrConflict is returned when a compare-and-swap loses to a concurrent
// writer. Callers retry with a re-read record, up to the transient limit.
var ErrConflict = errors.New("revision conflict")

// StateStore defines durable key/value operations with TTL and CAS.
// Keys in use: job:{job_id}, complexity:{content_hash}, arbitration:{job_id}.
type StateStore interface {
	// Get retrieves a value by key, returns ErrKeyNotFound if missing
	Get(ctx context.Context, key string) ([]byte, error)

	// Set inserts or updates a value. A zero TTL means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// CAS replaces the value only if the stored value equals expected.
	// A nil expected asserts the key does not exist. Returns ErrConflict
	// when the assertion fails.
	CAS(ctx context.Context, key string, expected, value []byte) error

	// Delete removes a key, returns ErrKeyNotFound if missing
	Delete(ctx context.Context, key string) error
}

// JobStorage persists job records. Updates are revision-checked: a stale
// revision returns ErrConflict and the caller must re-read.
type JobStorage interface {
	// Create persists a new job record
	Create(ctx context.Context, job *models.Job) error

	// Get retrieves a job by id, returns ErrKeyNotFound if missing
	Get(ctx context.Context, jobID string) (*models.Job, error)

	// Update persists a mutated job if its revision still matches the
	// stored record, bumping the revision on success
	Update(ctx context.Context, job *models.Job) error

	// List returns jobs filtered by state; an empty state returns all
	List(ctx context.Context, state models.JobState, limit int) ([]*models.Job, error)

	// Delete removes a job record
	Delete(ctx context.Context, jobID string) error

	// DeleteTerminalBefore removes terminal jobs whose terminal timestamp
	// is older than the cutoff, returning the number deleted
	DeleteTerminalBefore(ctx context.Context, states []models.JobState, cutoff time.Time) (int, error)
}

// StorageManager provides access to all storage services
type StorageManager interface {
	JobStorage() JobStorage
	StateStore() StateStore

	// Close closes all storage connections
	Close() error
}
