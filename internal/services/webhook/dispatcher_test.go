package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/quorum/internal/common"
	"github.com/ternarybob/quorum/internal/models"
)

func testDispatcher() *Dispatcher {
	cfg := &common.WebhookConfig{
		Attempts:       3,
		InitialBackoff: "1ms",
		RequestTimeout: "2s",
		RatePerSecond:  1000,
	}
	return NewDispatcher(cfg, "http://localhost:8080", common.GetLogger())
}

func completedJob(callbackURL string) *models.Job {
	job := models.NewJob(models.SourceRef{Path: "/tmp/doc.pdf"}, models.StrategyParallelLocal, models.ExtractionOptions{})
	job.State = models.JobStateCompleted
	job.CallbackURL = callbackURL
	job.Complexity = &models.ComplexityReport{PageCount: 4}
	job.Aggregation = &models.AggregationReport{
		AverageConfidence: 0.9,
		Extractors: map[string]models.ExtractorOutcome{
			"docling": {Success: true},
			"mineru":  {Success: true},
		},
	}
	return job
}

func TestDispatchDeliversPayload(t *testing.T) {
	var received models.WebhookEvent
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	job := completedJob(server.URL)
	require.NoError(t, testDispatcher().Dispatch(context.Background(), job))

	assert.Equal(t, models.EventExtractionCompleted, received.Event)
	assert.Equal(t, job.ID, received.JobID)
	assert.Equal(t, models.JobStateCompleted, received.Data.Status)
	assert.Equal(t, 4, received.Data.Summary.Pages)
	assert.Equal(t, []string{"docling", "mineru"}, received.Data.Summary.ExtractorsUsed)
	assert.Contains(t, received.Data.DownloadURL, job.ID)
}

func TestDispatchRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	err := testDispatcher().Dispatch(context.Background(), completedJob(server.URL))
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDispatchExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := testDispatcher().Dispatch(context.Background(), completedJob(server.URL))
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())

	var jobErr *models.JobError
	require.True(t, errors.As(err, &jobErr))
	assert.Equal(t, models.ErrKindWebhookFailed, jobErr.Kind)
}

func TestDispatchSkipsJobsWithoutCallback(t *testing.T) {
	job := completedJob("")
	assert.NoError(t, testDispatcher().Dispatch(context.Background(), job))
}

func TestDispatchSkipsNonNotifyingStates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no delivery expected")
	}))
	defer server.Close()

	job := completedJob(server.URL)
	job.State = models.JobStateExtracting
	assert.NoError(t, testDispatcher().Dispatch(context.Background(), job))
}

func TestDispatchReleasesLockAfterTerminalDelivery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := testDispatcher()

	// A review notification is not terminal; its lock stays for the
	// arbitration delivery that follows
	review := completedJob(server.URL)
	review.State = models.JobStateNeedsReview
	require.NoError(t, d.Dispatch(context.Background(), review))

	d.mu.Lock()
	_, held := d.jobLocks[review.ID]
	d.mu.Unlock()
	assert.True(t, held)

	// Terminal delivery settles the job; the entry goes with it
	review.State = models.JobStateCompleted
	require.NoError(t, d.Dispatch(context.Background(), review))

	done := completedJob(server.URL)
	require.NoError(t, d.Dispatch(context.Background(), done))

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Empty(t, d.jobLocks)
}

func TestDispatchNeedsReviewEvent(t *testing.T) {
	var received models.WebhookEvent
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	job := completedJob(server.URL)
	job.State = models.JobStateNeedsReview
	require.NoError(t, testDispatcher().Dispatch(context.Background(), job))

	assert.Equal(t, models.EventExtractionNeedsReview, received.Event)
	assert.Contains(t, received.Data.ResultURL, "/review")
	assert.Empty(t, received.Data.DownloadURL)
}
