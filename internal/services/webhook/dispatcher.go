// -----------------------------------------------------------------------
// Webhook Dispatcher - Callback delivery with bounded retry
// -----------------------------------------------------------------------

package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quorum/internal/common"
	"github.com/ternarybob/quorum/internal/models"
	"golang.org/x/time/rate"
)

// Dispatcher posts terminal job events to callback URLs. Each job's
// deliveries are serialized by a per-job lock so an arbitration completion
// can never overtake the needs_review notification; failures are reported
// to the caller and never touch job state here.
type Dispatcher struct {
	client         *http.Client
	limiter        *rate.Limiter
	attempts       int
	initialBackoff time.Duration
	baseURL        string
	logger         arbor.ILogger

	mu       sync.Mutex
	jobLocks map[string]*sync.Mutex
}

func NewDispatcher(cfg *common.WebhookConfig, baseURL string, logger arbor.ILogger) *Dispatcher {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := common.ParseDurationOr(cfg.InitialBackoff, 5*time.Second)
	requestTimeout := common.ParseDurationOr(cfg.RequestTimeout, 30*time.Second)
	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 10
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}

	return &Dispatcher{
		client:         &http.Client{Timeout: requestTimeout},
		limiter:        rate.NewLimiter(rate.Limit(perSecond), burst),
		attempts:       attempts,
		initialBackoff: backoff,
		baseURL:        baseURL,
		logger:         logger,
		jobLocks:       map[string]*sync.Mutex{},
	}
}

// Dispatch delivers the event for the job's current state. Retries with
// doubling backoff; any 2xx response counts as delivered. Returns the
// delivery error after the final attempt.
func (d *Dispatcher) Dispatch(ctx context.Context, job *models.Job) error {
	if job.CallbackURL == "" {
		return nil
	}
	eventType := models.EventForState(job.State)
	if eventType == "" {
		return nil
	}

	lock := d.lockFor(job.ID)
	lock.Lock()
	defer func() {
		lock.Unlock()
		// Terminal states are absorbing: no further dispatch for this
		// job can arrive, so its lock entry can go
		if job.State.IsTerminal() {
			d.releaseFor(job.ID)
		}
	}()

	payload, err := json.Marshal(d.buildEvent(eventType, job))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var lastErr error
	backoff := d.initialBackoff
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if err := d.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("webhook rate wait: %w", err)
		}

		lastErr = d.post(ctx, job.CallbackURL, payload)
		if lastErr == nil {
			d.logger.Info().
				Str("job_id", job.ID).
				Str("event", string(eventType)).
				Int("attempt", attempt).
				Msg("Webhook delivered")
			return nil
		}

		d.logger.Warn().
			Str("job_id", job.ID).
			Str("event", string(eventType)).
			Int("attempt", attempt).
			Err(lastErr).
			Msg("Webhook attempt failed")

		if attempt < d.attempts {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
	}

	return models.NewJobError(models.ErrKindWebhookFailed,
		"delivery to %s failed after %d attempts: %v", job.CallbackURL, d.attempts, lastErr)
}

func (d *Dispatcher) post(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "quorum-webhook/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback responded %d", resp.StatusCode)
	}
	return nil
}

// buildEvent assembles the payload from the job record.
func (d *Dispatcher) buildEvent(eventType models.WebhookEventType, job *models.Job) models.WebhookEvent {
	data := models.WebhookData{
		Status: job.State,
		Error:  job.LastError,
	}
	data.Summary.ExtractionStrategy = job.Strategy

	if job.Complexity != nil {
		data.Summary.Pages = job.Complexity.PageCount
	}
	if job.Aggregation != nil {
		data.Summary.Confidence = job.Aggregation.AverageConfidence
		for name := range job.Aggregation.Extractors {
			data.Summary.ExtractorsUsed = append(data.Summary.ExtractorsUsed, name)
		}
		sort.Strings(data.Summary.ExtractorsUsed)
	}
	for _, cand := range job.Candidates {
		if cand.Success {
			data.Summary.Tables += len(cand.Tables)
			data.Summary.Images += len(cand.Images)
			break
		}
	}

	if job.State == models.JobStateCompleted {
		data.DownloadURL = fmt.Sprintf("%s/api/jobs/%s/download/document.md", d.baseURL, job.ID)
		data.ResultURL = fmt.Sprintf("%s/api/jobs/%s/result", d.baseURL, job.ID)
	}
	if job.State == models.JobStateNeedsReview {
		data.ResultURL = fmt.Sprintf("%s/api/jobs/%s/review", d.baseURL, job.ID)
	}

	return models.WebhookEvent{
		Event:     eventType,
		JobID:     job.ID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

func (d *Dispatcher) lockFor(jobID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.jobLocks[jobID]
	if !ok {
		lock = &sync.Mutex{}
		d.jobLocks[jobID] = lock
	}
	return lock
}

func (d *Dispatcher) releaseFor(jobID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.jobLocks, jobID)
}

// Close releases per-job locks. In-flight deliveries finish on their own.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobLocks = map[string]*sync.Mutex{}
	return nil
}
