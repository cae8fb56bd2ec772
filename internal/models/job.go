// -----------------------------------------------------------------------
// Job - Durable extraction job record and state machine vocabulary
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobState is the lifecycle state of an extraction job.
type JobState string

const (
	JobStatePending     JobState = "PENDING"
	JobStateAnalyzing   JobState = "ANALYZING"
	JobStateExtracting  JobState = "EXTRACTING"
	JobStateComparing   JobState = "COMPARING"
	JobStateNeedsReview JobState = "NEEDS_REVIEW"
	JobStateArbitrated  JobState = "ARBITRATED"
	JobStateCompleted   JobState = "COMPLETED"
	JobStateFailed      JobState = "FAILED"
	JobStateTimeout     JobState = "TIMEOUT"
)

// IsTerminal reports whether the state is absorbing. NEEDS_REVIEW is not
// terminal: it can still move to ARBITRATED and then COMPLETED.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateTimeout:
		return true
	}
	return false
}

// Progress returns the waypoint progress percentage for the state.
func (s JobState) Progress() int {
	switch s {
	case JobStatePending:
		return 0
	case JobStateAnalyzing:
		return 5
	case JobStateExtracting:
		return 25
	case JobStateComparing:
		return 75
	case JobStateNeedsReview, JobStateArbitrated:
		return 80
	case JobStateCompleted, JobStateFailed, JobStateTimeout:
		return 100
	}
	return 0
}

// legalTransitions enumerates the permitted state machine edges. FAILED and
// TIMEOUT are reachable from any non-terminal state and are not listed here.
var legalTransitions = map[JobState][]JobState{
	JobStatePending:     {JobStateAnalyzing},
	JobStateAnalyzing:   {JobStateExtracting},
	JobStateExtracting:  {JobStateComparing, JobStateCompleted},
	JobStateComparing:   {JobStateCompleted, JobStateNeedsReview},
	JobStateNeedsReview: {JobStateArbitrated},
	JobStateArbitrated:  {JobStateCompleted},
}

// CanTransition reports whether the edge from -> to is legal.
func CanTransition(from, to JobState) bool {
	if from == to {
		return false
	}
	if from.IsTerminal() {
		return false
	}
	if to == JobStateFailed || to == JobStateTimeout {
		return true
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Strategy selects how extractors are scheduled for a job.
type Strategy string

const (
	StrategyFallback      Strategy = "fallback"
	StrategyParallelLocal Strategy = "parallel_local"
	StrategyParallelAll   Strategy = "parallel_all"
	StrategyHybrid        Strategy = "hybrid"
)

// Valid reports whether the strategy is one of the recognized values.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyFallback, StrategyParallelLocal, StrategyParallelAll, StrategyHybrid:
		return true
	}
	return false
}

// ComplexityClass buckets a complexity score.
type ComplexityClass string

const (
	ComplexitySimple  ComplexityClass = "simple"
	ComplexityMedium  ComplexityClass = "medium"
	ComplexityComplex ComplexityClass = "complex"
)

// ExtractionOptions is the per-job options bag recognized on submission.
type ExtractionOptions struct {
	ExtractTables   bool     `json:"extract_tables" toml:"extract_tables" yaml:"extract_tables"`
	ExtractImages   bool     `json:"extract_images" toml:"extract_images" yaml:"extract_images"`
	ExtractFormulas bool     `json:"extract_formulas" toml:"extract_formulas" yaml:"extract_formulas"`
	OCRLanguages    []string `json:"ocr_languages,omitempty" toml:"ocr_languages" yaml:"ocr_languages"`
}

// CacheKeySuffix folds the option flags that affect complexity probing into
// the memoization key.
func (o ExtractionOptions) CacheKeySuffix() string {
	return fmt.Sprintf("t%v:i%v:f%v", o.ExtractTables, o.ExtractImages, o.ExtractFormulas)
}

// SourceRef identifies the input artifact for a job.
type SourceRef struct {
	Path        string `json:"path,omitempty"`
	URL         string `json:"url,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
}

// Job is the durable job record. It is mutated exclusively through the
// tracker's compare-and-swap so the Revision field guards every write.
type Job struct {
	ID       string `json:"job_id" badgerhold:"key"`
	Revision uint64 `json:"revision"`

	State       JobState `json:"state"`
	ProgressPct int      `json:"progress_pct"`

	Strategy            Strategy          `json:"strategy"`
	RequestedExtractors []string          `json:"requested_extractors,omitempty"`
	ForceComplexity     ComplexityClass   `json:"force_complexity,omitempty"`
	Options             ExtractionOptions `json:"options"`
	MergePolicy         MergePolicy       `json:"merge_policy,omitempty"`
	CallbackURL         string            `json:"callback_url,omitempty"`
	InlineResult        bool              `json:"inline_result,omitempty"`

	Source SourceRef `json:"source_ref"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	TerminalAt *time.Time `json:"terminal_at,omitempty"`

	LastError *JobError         `json:"last_error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	// Result surfacing. Divergences and candidates are persisted on the job
	// record by id/name reference, never by back-pointer.
	Complexity  *ComplexityReport  `json:"complexity,omitempty"`
	Aggregation *AggregationReport `json:"aggregation,omitempty"`
	Candidates  []CandidateExtraction `json:"candidates,omitempty"`
	Divergences []Divergence          `json:"divergences,omitempty"`
	Result      *MergedDocument       `json:"result,omitempty"`
	OutputDir   string                `json:"output_dir,omitempty"`

	WebhookDelivered bool   `json:"webhook_delivered,omitempty"`
	WebhookError     string `json:"webhook_error,omitempty"`
}

// NewJob creates a pending job with a fresh id.
func NewJob(source SourceRef, strategy Strategy, opts ExtractionOptions) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          "job_" + uuid.New().String(),
		State:       JobStatePending,
		ProgressPct: 0,
		Strategy:    strategy,
		Options:     opts,
		Source:      source,
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata:    map[string]string{},
	}
}

// SetMeta records a metadata entry, allocating the map on first use.
func (j *Job) SetMeta(key, value string) {
	if j.Metadata == nil {
		j.Metadata = map[string]string{}
	}
	j.Metadata[key] = value
}

// ToJSON serializes the job record.
func (j *Job) ToJSON() ([]byte, error) {
	return json.Marshal(j)
}

// JobFromJSON deserializes a job record.
func JobFromJSON(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &j, nil
}
