package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quorum/internal/interfaces"
	"github.com/ternarybob/quorum/internal/models"
)

// Executor processes one queued message body for its registered type.
type Executor interface {
	Execute(ctx context.Context, jobID string, payload []byte) error
}

// DeadLetterFunc handles a message the queue removed after it exhausted
// its receive limit. The job behind it is still non-terminal and needs
// parking.
type DeadLetterFunc func(ctx context.Context, msg *models.QueueMessage)

// idle backoff bounds between empty polls
const (
	idleBackoffMin = 100 * time.Millisecond
	idleBackoffMax = 5 * time.Second
)

// WorkerPool manages a pool of workers that drain the job queue. A
// message is acknowledged after its executor returns; an executor error
// leaves the message in flight so the visibility timeout redelivers it.
type WorkerPool struct {
	queueMgr   interfaces.QueueManager
	executors  map[string]Executor
	deadLetter DeadLetterFunc
	logger     arbor.ILogger
	numWorkers int
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewWorkerPool(queueMgr interfaces.QueueManager, logger arbor.ILogger, numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		queueMgr:   queueMgr,
		executors:  make(map[string]Executor),
		logger:     logger,
		numWorkers: numWorkers,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// OnDeadLetter registers the handler invoked for messages dropped after
// exhausting their receive limit. Register before Start.
func (wp *WorkerPool) OnDeadLetter(fn DeadLetterFunc) {
	wp.deadLetter = fn
}

// RegisterExecutor registers an executor for a message type
func (wp *WorkerPool) RegisterExecutor(msgType string, executor Executor) {
	wp.executors[msgType] = executor
	wp.logger.Info().
		Str("message_type", msgType).
		Msg("Executor registered")
}

// Start starts the worker pool
func (wp *WorkerPool) Start() {
	wp.logger.Info().
		Int("num_workers", wp.numWorkers).
		Msg("Starting worker pool")

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop stops the worker pool gracefully
func (wp *WorkerPool) Stop() {
	wp.logger.Info().Msg("Stopping worker pool...")
	wp.cancel()
	wp.wg.Wait()
	wp.logger.Info().Msg("Worker pool stopped")
}

// worker is the main worker loop with idle backoff between empty polls.
func (wp *WorkerPool) worker(workerID int) {
	defer wp.wg.Done()

	wp.logger.Debug().
		Int("worker_id", workerID).
		Msg("Worker started")

	backoff := idleBackoffMin
	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().
				Int("worker_id", workerID).
				Msg("Worker stopping")
			return
		default:
		}

		processed := wp.processNext(workerID)
		if processed {
			backoff = idleBackoffMin
			continue
		}

		select {
		case <-wp.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > idleBackoffMax {
			backoff = idleBackoffMax
		}
	}
}

// processNext handles one message; reports whether one was received.
func (wp *WorkerPool) processNext(workerID int) (processed bool) {
	msg, ack, err := wp.queueMgr.Receive(wp.ctx)
	if err != nil {
		if !errors.Is(err, models.ErrNoMessage) && wp.ctx.Err() == nil {
			wp.logger.Warn().Err(err).Msg("Queue receive failed")
		}
		return false
	}

	// Panics in an executor must not kill the worker; the message stays
	// unacked and redelivers after the visibility timeout
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error().
				Int("worker_id", workerID).
				Str("job_id", msg.JobID).
				Str("panic", fmt.Sprint(r)).
				Msg("Executor panicked")
		}
	}()

	if msg.DeadLettered {
		// The queue already removed the message; park its job so it does
		// not sit non-terminal forever
		wp.logger.Error().
			Str("job_id", msg.JobID).
			Str("message_type", msg.Type).
			Msg("Message exhausted its receive limit")
		if wp.deadLetter != nil {
			wp.deadLetter(wp.ctx, msg)
		}
		if err := ack(); err != nil {
			wp.logger.Error().Err(err).Msg("Failed to ack dead-lettered message")
		}
		return true
	}

	wp.logger.Info().
		Int("worker_id", workerID).
		Str("job_id", msg.JobID).
		Str("message_type", msg.Type).
		Msg("Processing message")

	executor, ok := wp.executors[msg.Type]
	if !ok {
		wp.logger.Error().
			Str("message_type", msg.Type).
			Str("job_id", msg.JobID).
			Msg("No executor registered for message type")
		// Unroutable messages are dropped, not redelivered
		if err := ack(); err != nil {
			wp.logger.Error().Err(err).Msg("Failed to ack unroutable message")
		}
		return true
	}

	if err := executor.Execute(wp.ctx, msg.JobID, msg.Payload); err != nil {
		// Leave the message for redelivery; the executor decides which
		// failures are terminal and parks the job itself
		wp.logger.Warn().
			Err(err).
			Str("job_id", msg.JobID).
			Msg("Execution failed, message left for redelivery")
		return true
	}

	if err := ack(); err != nil {
		wp.logger.Error().
			Err(err).
			Str("job_id", msg.JobID).
			Msg("Failed to ack message")
	}
	return true
}
