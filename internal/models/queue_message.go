package models

import (
	"encoding/json"
	"errors"
)

// ErrNoMessage is returned when the queue is empty
var ErrNoMessage = errors.New("no messages in queue")

// QueueMessage is the structure stored in the queue.
// Keep it simple - just enough to route the job.
type QueueMessage struct {
	JobID   string          `json:"job_id"`  // References jobs.id
	Type    string          `json:"type"`    // Message type for worker routing
	Payload json.RawMessage `json:"payload"` // Message-specific data (passed through)

	// DeadLettered marks a final delivery: the message exhausted its
	// receive limit and has been removed from the queue. Set by the
	// queue on receive, never persisted.
	DeadLettered bool `json:"-"`
}

// Queue message types routed by the worker pool.
const (
	MessageTypeExtraction  = "extraction"
	MessageTypeArbitration = "arbitration"
)
