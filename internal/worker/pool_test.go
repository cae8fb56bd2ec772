package worker

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/quorum/internal/common"
	"github.com/ternarybob/quorum/internal/models"
)

// chanQueue is an in-memory QueueManager for pool tests.
type chanQueue struct {
	mu     sync.Mutex
	msgs   []*models.QueueMessage
	acked  atomic.Int32
	closed bool
}

func (q *chanQueue) Enqueue(ctx context.Context, msg *models.QueueMessage) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, msg)
	return msg.JobID, nil
}

func (q *chanQueue) Receive(ctx context.Context) (*models.QueueMessage, func() error, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.msgs) == 0 {
		return nil, nil, models.ErrNoMessage
	}
	msg := q.msgs[0]
	q.msgs = q.msgs[1:]
	return msg, func() error {
		q.acked.Add(1)
		return nil
	}, nil
}

func (q *chanQueue) Extend(ctx context.Context, messageID string, d time.Duration) error { return nil }

func (q *chanQueue) Depth(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs), nil
}

func (q *chanQueue) Close() error { q.closed = true; return nil }

type countingExecutor struct {
	calls atomic.Int32
	err   error
	panic bool
}

func (e *countingExecutor) Execute(ctx context.Context, jobID string, payload []byte) error {
	e.calls.Add(1)
	if e.panic {
		panic("injected panic")
	}
	return e.err
}

func msgOf(jobID, msgType string) *models.QueueMessage {
	return &models.QueueMessage{JobID: jobID, Type: msgType, Payload: json.RawMessage(`{}`)}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestPoolProcessesAndAcks(t *testing.T) {
	q := &chanQueue{}
	exec := &countingExecutor{}

	pool := NewWorkerPool(q, common.GetLogger(), 2)
	pool.RegisterExecutor(models.MessageTypeExtraction, exec)

	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(context.Background(), msgOf("job", models.MessageTypeExtraction))
		require.NoError(t, err)
	}

	pool.Start()
	defer pool.Stop()

	waitFor(t, func() bool { return q.acked.Load() == 5 })
	assert.Equal(t, int32(5), exec.calls.Load())
}

func TestPoolLeavesFailedMessagesUnacked(t *testing.T) {
	q := &chanQueue{}
	exec := &countingExecutor{err: assert.AnError}

	pool := NewWorkerPool(q, common.GetLogger(), 1)
	pool.RegisterExecutor(models.MessageTypeExtraction, exec)

	_, err := q.Enqueue(context.Background(), msgOf("job", models.MessageTypeExtraction))
	require.NoError(t, err)

	pool.Start()
	defer pool.Stop()

	waitFor(t, func() bool { return exec.calls.Load() == 1 })
	assert.Equal(t, int32(0), q.acked.Load())
}

func TestPoolSurvivesExecutorPanic(t *testing.T) {
	q := &chanQueue{}
	panicking := &countingExecutor{panic: true}

	pool := NewWorkerPool(q, common.GetLogger(), 1)
	pool.RegisterExecutor(models.MessageTypeExtraction, panicking)

	ctx := context.Background()
	_, err := q.Enqueue(ctx, msgOf("job_1", models.MessageTypeExtraction))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, msgOf("job_2", models.MessageTypeExtraction))
	require.NoError(t, err)

	pool.Start()
	defer pool.Stop()

	// Both messages get attempted; the panic kills neither the worker nor
	// the pool
	waitFor(t, func() bool { return panicking.calls.Load() == 2 })
}

func TestPoolParksDeadLetteredMessages(t *testing.T) {
	q := &chanQueue{}
	exec := &countingExecutor{}

	var mu sync.Mutex
	var parked []string

	pool := NewWorkerPool(q, common.GetLogger(), 1)
	pool.RegisterExecutor(models.MessageTypeExtraction, exec)
	pool.OnDeadLetter(func(ctx context.Context, msg *models.QueueMessage) {
		mu.Lock()
		parked = append(parked, msg.JobID)
		mu.Unlock()
	})

	dead := msgOf("job_poison", models.MessageTypeExtraction)
	dead.DeadLettered = true
	_, err := q.Enqueue(context.Background(), dead)
	require.NoError(t, err)

	pool.Start()
	defer pool.Stop()

	// The handler runs instead of the executor and the message is acked
	waitFor(t, func() bool { return q.acked.Load() == 1 })
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"job_poison"}, parked)
	assert.Equal(t, int32(0), exec.calls.Load())
}

func TestPoolDropsUnroutableMessages(t *testing.T) {
	q := &chanQueue{}
	pool := NewWorkerPool(q, common.GetLogger(), 1)

	_, err := q.Enqueue(context.Background(), msgOf("job", "unknown_type"))
	require.NoError(t, err)

	pool.Start()
	defer pool.Stop()

	waitFor(t, func() bool { return q.acked.Load() == 1 })
}
