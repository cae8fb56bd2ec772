// -----------------------------------------------------------------------
// Queue - At-least-once task delivery between API and worker pool
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/quorum/internal/models"
)

// QueueManager provides at-least-once message delivery with a visibility
// timeout. A received message becomes invisible until the timeout elapses;
// unacked messages are redelivered. The visibility timeout must be at least
// the job timeout so a live worker is never raced by a redelivery.
type QueueManager interface {
	// Enqueue adds a message to the queue
	Enqueue(ctx context.Context, msg *models.QueueMessage) (string, error)

	// Receive retrieves the next visible message. Returns the message and
	// an ack function that removes it; returns models.ErrNoMessage when
	// the queue is empty.
	Receive(ctx context.Context) (*models.QueueMessage, func() error, error)

	// Extend pushes out the visibility deadline for an in-flight message
	Extend(ctx context.Context, msgID string, d time.Duration) error

	// Depth returns the number of messages currently stored
	Depth(ctx context.Context) (int, error)

	// Close shuts down the queue manager
	Close() error
}
