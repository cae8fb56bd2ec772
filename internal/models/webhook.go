// -----------------------------------------------------------------------
// Webhook - Terminal event payloads delivered to callback URLs
// -----------------------------------------------------------------------

package models

import "time"

// WebhookEventType names the terminal events a callback can receive.
type WebhookEventType string

const (
	EventExtractionCompleted   WebhookEventType = "extraction.completed"
	EventExtractionFailed      WebhookEventType = "extraction.failed"
	EventExtractionNeedsReview WebhookEventType = "extraction.needs_review"
	EventExtractionTimeout     WebhookEventType = "extraction.timeout"
)

// EventForState maps a job state to its webhook event. Returns "" for
// states that do not notify.
func EventForState(state JobState) WebhookEventType {
	switch state {
	case JobStateCompleted:
		return EventExtractionCompleted
	case JobStateFailed:
		return EventExtractionFailed
	case JobStateNeedsReview:
		return EventExtractionNeedsReview
	case JobStateTimeout:
		return EventExtractionTimeout
	}
	return ""
}

// WebhookSummary is the compact result digest in the webhook payload.
type WebhookSummary struct {
	Pages              int      `json:"pages"`
	Tables             int      `json:"tables"`
	Images             int      `json:"images"`
	Confidence         float64  `json:"confidence"`
	ExtractionStrategy Strategy `json:"extraction_strategy"`
	ExtractorsUsed     []string `json:"extractors_used"`
}

// WebhookData carries the status and links of the event.
type WebhookData struct {
	Status      JobState       `json:"status"`
	DownloadURL string         `json:"download_url,omitempty"`
	ResultURL   string         `json:"result_url,omitempty"`
	Error       *JobError      `json:"error,omitempty"`
	Summary     WebhookSummary `json:"summary"`
}

// WebhookEvent is the JSON body POSTed to the job's callback URL.
type WebhookEvent struct {
	Event     WebhookEventType `json:"event"`
	JobID     string           `json:"job_id"`
	Timestamp time.Time        `json:"timestamp"`
	Data      WebhookData      `json:"data"`
}
