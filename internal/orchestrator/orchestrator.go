// -----------------------------------------------------------------------
// Orchestrator - Job pipeline from analysis through merge and notification
// -----------------------------------------------------------------------

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quorum/internal/common"
	"github.com/ternarybob/quorum/internal/executor"
	"github.com/ternarybob/quorum/internal/interfaces"
	"github.com/ternarybob/quorum/internal/models"
	"github.com/ternarybob/quorum/internal/services/aggregate"
	"github.com/ternarybob/quorum/internal/services/compare"
	"github.com/ternarybob/quorum/internal/services/merge"
	"github.com/ternarybob/quorum/internal/services/normalize"
)

// pdfMagic is the required file signature for submitted documents.
var pdfMagic = []byte("%PDF-")

// Orchestrator drives one job through the full pipeline: source
// resolution, complexity analysis, strategy admission, extraction,
// comparison, merge and terminal notification. Every job runs under the
// configured job timeout; overrunning it parks the job in TIMEOUT.
type Orchestrator struct {
	tracker    interfaces.JobTracker
	analyzer   interfaces.ComplexityAnalyzer
	gate       interfaces.ResourceGate
	registry   interfaces.ExtractorRegistry
	executor   *executor.ParallelExecutor
	comparator *compare.Comparator
	merger     *merge.Merger
	writer     interfaces.DocumentWriter
	dispatcher interfaces.WebhookDispatcher

	jobTimeout      time.Duration
	defaultStrategy models.Strategy
	maxUploadBytes  int64
	workDir         string
	httpClient      *http.Client
	logger          arbor.ILogger
}

func New(
	tracker interfaces.JobTracker,
	analyzer interfaces.ComplexityAnalyzer,
	gate interfaces.ResourceGate,
	registry interfaces.ExtractorRegistry,
	exec *executor.ParallelExecutor,
	comparator *compare.Comparator,
	merger *merge.Merger,
	writer interfaces.DocumentWriter,
	dispatcher interfaces.WebhookDispatcher,
	cfg *common.Config,
	logger arbor.ILogger,
) *Orchestrator {
	return &Orchestrator{
		tracker:         tracker,
		analyzer:        analyzer,
		gate:            gate,
		registry:        registry,
		executor:        exec,
		comparator:      comparator,
		merger:          merger,
		writer:          writer,
		dispatcher:      dispatcher,
		jobTimeout:      common.ParseDurationOr(cfg.Extraction.JobTimeout, 600*time.Second),
		defaultStrategy: models.Strategy(cfg.Extraction.DefaultStrategy),
		maxUploadBytes:  cfg.Extraction.MaxUploadBytes,
		workDir:         cfg.Storage.Output.Dir,
		httpClient:      &http.Client{},
		logger:          logger,
	}
}

// ProcessJob runs the pipeline for one queued job. Redelivery of a job
// already terminal (or already parked in review) is a no-op so at-least-
// once delivery stays safe.
func (o *Orchestrator) ProcessJob(ctx context.Context, jobID string) error {
	job, err := o.tracker.Read(ctx, jobID)
	if err != nil {
		return fmt.Errorf("read job %s: %w", jobID, err)
	}
	if job.State.IsTerminal() || job.State == models.JobStateNeedsReview || job.State == models.JobStateArbitrated {
		o.logger.Debug().Str("job_id", jobID).Str("state", string(job.State)).Msg("Redelivery ignored")
		return nil
	}

	jobCtx, cancel := context.WithTimeout(ctx, o.jobTimeout)
	defer cancel()

	err = o.run(jobCtx, job)
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || jobCtx.Err() == context.DeadlineExceeded {
		o.park(ctx, jobID, models.JobStateTimeout,
			models.NewJobError(models.ErrKindJobTimeout, "job exceeded %s", o.jobTimeout))
		return nil
	}

	var jobErr *models.JobError
	if !errors.As(err, &jobErr) {
		jobErr = models.NewJobError(models.ErrKindExtractorError, "%v", err)
	}
	if jobErr.Retryable() {
		// Queue redelivery retries transient storage failures
		return err
	}
	o.park(ctx, jobID, models.JobStateFailed, jobErr)
	return nil
}

// run executes the pipeline stages. It returns a JobError for policy
// failures and a raw error for infrastructure failures.
func (o *Orchestrator) run(ctx context.Context, job *models.Job) error {
	if _, err := o.tracker.UpdateState(ctx, job.ID, models.JobStateAnalyzing); err != nil {
		return err
	}

	filePath, err := o.resolveSource(ctx, job)
	if err != nil {
		return err
	}

	report, err := o.analyzer.Analyze(ctx, filePath, job.Source.ContentHash, job.Options, job.ForceComplexity)
	if err != nil {
		return models.NewJobError(models.ErrKindInputRejected, "analysis failed: %v", err)
	}

	strategy := o.selectStrategy(job, report)
	admitted, downgrade := o.gate.Admit(strategy)

	job, err = o.tracker.SetResult(ctx, job.ID, func(j *models.Job) {
		j.Complexity = report
		j.Strategy = admitted
		if downgrade != "" {
			j.SetMeta("strategy_downgrade", downgrade)
		}
	})
	if err != nil {
		return err
	}

	if _, err := o.tracker.UpdateState(ctx, job.ID, models.JobStateExtracting); err != nil {
		return err
	}

	candidates, sequential, err := o.extract(ctx, job, admitted, filePath)
	if err != nil {
		return err
	}
	normalizeCandidates(candidates)

	successes := successful(candidates)
	if len(successes) == 0 {
		return failureFrom(candidates)
	}

	job, err = o.tracker.SetResult(ctx, job.ID, func(j *models.Job) {
		j.Candidates = candidates
		j.Aggregation = aggregate.Build(candidates)
	})
	if err != nil {
		return err
	}

	// Sequential pipelines complete on first success without comparison
	if sequential || len(successes) == 1 {
		doc := &models.MergedDocument{
			Markdown: successes[0].Markdown,
			Policy:   mergePolicy(job),
		}
		return o.complete(ctx, job.ID, doc, nil)
	}

	if _, err := o.tracker.UpdateState(ctx, job.ID, models.JobStateComparing); err != nil {
		return err
	}

	cmp := o.comparator.Compare(job.ID, toCompareCandidates(successes))

	// Hybrid: hard divergences between local candidates pull in the remote
	// extractors for a full re-comparison
	if admitted == models.StrategyHybrid && cmp.HardCount > 0 {
		if extended := o.extendWithRemote(ctx, job, filePath, candidates); extended != nil {
			candidates = extended
			normalizeCandidates(candidates)
			successes = successful(candidates)
			job, err = o.tracker.SetResult(ctx, job.ID, func(j *models.Job) {
				j.Candidates = candidates
				j.Aggregation = aggregate.Build(candidates)
			})
			if err != nil {
				return err
			}
			cmp = o.comparator.Compare(job.ID, toCompareCandidates(successes))
		}
	}

	// Hard divergences park the job for human review unless the submitter
	// explicitly chose a policy that resolves them automatically. The
	// auto-merge policy settles the soft band and leaves the hard clusters
	// unresolved, which is exactly the review draft.
	policy := mergePolicy(job)
	if cmp.HardCount > 0 && job.MergePolicy == "" {
		policy = models.PolicyAutoMergeHigh
	}

	doc := o.merger.Merge(job.ID, toCompareCandidates(successes), cmp, policy, nil)

	if doc.NeedsReview {
		return o.parkForReview(ctx, job.ID, doc, cmp.Divergences)
	}
	return o.complete(ctx, job.ID, doc, cmp.Divergences)
}

// extract selects extractors per the admitted strategy and runs them.
// The boolean result reports whether the run was a sequential fallback.
func (o *Orchestrator) extract(ctx context.Context, job *models.Job, strategy models.Strategy, filePath string) ([]models.CandidateExtraction, bool, error) {
	pool := o.selectExtractors(job, strategy)
	if len(pool) == 0 {
		return nil, false, models.NewJobError(models.ErrKindExtractorUnavailable, "no extractors available for strategy %s", strategy)
	}

	// Simple documents take the cheap sequential path regardless of the
	// requested parallelism
	sequential := strategy == models.StrategyFallback ||
		(job.Complexity != nil && job.Complexity.Class == models.ComplexitySimple)

	if sequential {
		return o.executor.RunSequential(ctx, pool, filePath, job.Options), true, nil
	}

	candidates := o.executor.Run(ctx, pool, filePath, job.Options)

	// Local parallel runs fall back to remote extractors when every local
	// engine failed
	if strategy == models.StrategyParallelLocal && len(successful(candidates)) == 0 {
		remote := o.remoteExtractors(job)
		if len(remote) > 0 {
			fallback := o.executor.RunSequential(ctx, remote, filePath, job.Options)
			candidates = append(candidates, fallback...)
		}
	}

	return candidates, false, nil
}

// selectExtractors filters the available pool by the job's request and the
// strategy's locality rule, in priority order.
func (o *Orchestrator) selectExtractors(job *models.Job, strategy models.Strategy) []interfaces.Extractor {
	available := o.registry.Available()

	requested := map[string]bool{}
	for _, name := range job.RequestedExtractors {
		requested[name] = true
	}

	var pool []interfaces.Extractor
	for _, ex := range available {
		if len(requested) > 0 && !requested[ex.Name()] {
			continue
		}
		localOnly := strategy == models.StrategyParallelLocal || strategy == models.StrategyHybrid
		if localOnly && ex.Remote() {
			continue
		}
		pool = append(pool, ex)
	}
	return pool
}

func (o *Orchestrator) remoteExtractors(job *models.Job) []interfaces.Extractor {
	requested := map[string]bool{}
	for _, name := range job.RequestedExtractors {
		requested[name] = true
	}
	var pool []interfaces.Extractor
	for _, ex := range o.registry.Available() {
		if !ex.Remote() {
			continue
		}
		if len(requested) > 0 && !requested[ex.Name()] {
			continue
		}
		pool = append(pool, ex)
	}
	return pool
}

// extendWithRemote runs the remote extractors and appends their candidates.
// Returns nil when no remote extractor is available.
func (o *Orchestrator) extendWithRemote(ctx context.Context, job *models.Job, filePath string, candidates []models.CandidateExtraction) []models.CandidateExtraction {
	already := map[string]bool{}
	for _, c := range candidates {
		already[c.ExtractorName] = true
	}

	var pool []interfaces.Extractor
	for _, ex := range o.remoteExtractors(job) {
		if !already[ex.Name()] {
			pool = append(pool, ex)
		}
	}
	if len(pool) == 0 {
		return nil
	}

	o.logger.Info().Str("job_id", job.ID).Int("remote", len(pool)).Msg("Escalating hard divergences to remote extractors")
	extra := o.executor.Run(ctx, pool, filePath, job.Options)
	return append(candidates, extra...)
}

// selectStrategy resolves the effective strategy before gate admission.
func (o *Orchestrator) selectStrategy(job *models.Job, report *models.ComplexityReport) models.Strategy {
	strategy := job.Strategy
	if !strategy.Valid() {
		strategy = o.defaultStrategy
	}
	if !strategy.Valid() {
		strategy = models.StrategyFallback
	}
	if report.Class == models.ComplexitySimple {
		return models.StrategyFallback
	}
	return strategy
}

// resolveSource materializes the input as a local file, fetching URL
// sources under the job timeout, and validates the PDF signature.
func (o *Orchestrator) resolveSource(ctx context.Context, job *models.Job) (string, error) {
	path := job.Source.Path

	if path == "" && job.Source.URL != "" {
		fetched, err := o.fetch(ctx, job)
		if err != nil {
			return "", err
		}
		path = fetched
	}
	if path == "" {
		return "", models.NewJobError(models.ErrKindInputRejected, "job has no source")
	}

	f, err := os.Open(path)
	if err != nil {
		return "", models.NewJobError(models.ErrKindInputRejected, "cannot open source: %v", err)
	}
	defer f.Close()

	header := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(f, header); err != nil || string(header) != string(pdfMagic) {
		return "", models.NewJobError(models.ErrKindInputRejected, "source is not a PDF document")
	}

	if job.Source.ContentHash == "" {
		hash, err := common.HashFile(path)
		if err != nil {
			return "", fmt.Errorf("hash source: %w", err)
		}
		if _, err := o.tracker.SetResult(ctx, job.ID, func(j *models.Job) {
			j.Source.ContentHash = hash
			j.Source.Path = path
		}); err != nil {
			return "", err
		}
		job.Source.ContentHash = hash
		job.Source.Path = path
	}
	return path, nil
}

func (o *Orchestrator) fetch(ctx context.Context, job *models.Job) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.Source.URL, nil)
	if err != nil {
		return "", models.NewJobError(models.ErrKindInputRejected, "invalid source url: %v", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", models.NewJobError(models.ErrKindInputRejected, "fetch source: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", models.NewJobError(models.ErrKindInputRejected, "source url responded %d", resp.StatusCode)
	}

	dir := filepath.Join(o.workDir, "incoming")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create incoming dir: %w", err)
	}
	path := filepath.Join(dir, job.ID+".pdf")

	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create source file: %w", err)
	}
	defer out.Close()

	limit := o.maxUploadBytes
	if limit <= 0 {
		limit = 100 * 1024 * 1024
	}
	n, err := io.Copy(out, io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return "", models.NewJobError(models.ErrKindInputRejected, "download source: %v", err)
	}
	if n > limit {
		return "", models.NewJobError(models.ErrKindInputRejected, "source exceeds %d byte limit", limit)
	}

	o.logger.Info().Str("job_id", job.ID).Int64("bytes", n).Msg("Fetched source document")
	return path, nil
}

// complete finalizes the job: result, artifacts, COMPLETED, webhook.
func (o *Orchestrator) complete(ctx context.Context, jobID string, doc *models.MergedDocument, divergences []models.Divergence) error {
	job, err := o.tracker.SetResult(ctx, jobID, func(j *models.Job) {
		j.Result = doc
		j.Divergences = divergences
	})
	if err != nil {
		return err
	}

	if dir, werr := o.writer.Write(ctx, job); werr != nil {
		o.logger.Warn().Str("job_id", jobID).Err(werr).Msg("Failed to write artifacts")
	} else {
		job, _ = o.tracker.SetResult(ctx, jobID, func(j *models.Job) { j.OutputDir = dir })
	}

	job, err = o.tracker.UpdateState(ctx, jobID, models.JobStateCompleted)
	if err != nil {
		return err
	}
	o.notify(ctx, job)
	return nil
}

// parkForReview persists the draft result and moves the job to review.
func (o *Orchestrator) parkForReview(ctx context.Context, jobID string, doc *models.MergedDocument, divergences []models.Divergence) error {
	if _, err := o.tracker.SetResult(ctx, jobID, func(j *models.Job) {
		j.Result = doc
		j.Divergences = divergences
	}); err != nil {
		return err
	}

	job, err := o.tracker.UpdateState(ctx, jobID, models.JobStateNeedsReview)
	if err != nil {
		return err
	}
	o.notify(ctx, job)
	return nil
}

// park moves a job to a terminal failure state. Failures here are logged
// and swallowed: the job may already be terminal from a competing writer.
func (o *Orchestrator) park(ctx context.Context, jobID string, state models.JobState, jobErr *models.JobError) {
	_ = o.tracker.SetError(ctx, jobID, jobErr)
	job, err := o.tracker.UpdateState(ctx, jobID, state)
	if err != nil {
		o.logger.Warn().Str("job_id", jobID).Str("state", string(state)).Err(err).Msg("Failed to park job")
		return
	}
	o.notify(ctx, job)
}

// notify dispatches the webhook and records the delivery outcome. Delivery
// failure never changes job state.
func (o *Orchestrator) notify(ctx context.Context, job *models.Job) {
	if o.dispatcher == nil || job.CallbackURL == "" {
		return
	}
	if err := o.dispatcher.Dispatch(ctx, job); err != nil {
		_, _ = o.tracker.SetResult(ctx, job.ID, func(j *models.Job) {
			j.WebhookError = err.Error()
		})
		return
	}
	_, _ = o.tracker.SetResult(ctx, job.ID, func(j *models.Job) {
		j.WebhookDelivered = true
		j.WebhookError = ""
	})
}

func mergePolicy(job *models.Job) models.MergePolicy {
	if job.MergePolicy != "" {
		return job.MergePolicy
	}
	return models.PolicyHighestConfidence
}

func successful(candidates []models.CandidateExtraction) []models.CandidateExtraction {
	var out []models.CandidateExtraction
	for _, c := range candidates {
		if c.Success {
			out = append(out, c)
		}
	}
	return out
}

// normalizeCandidates canonicalizes and segments every successful
// candidate in place so the persisted record already carries blocks.
func normalizeCandidates(candidates []models.CandidateExtraction) {
	for i := range candidates {
		cand := &candidates[i]
		if !cand.Success || len(cand.Blocks) > 0 {
			continue
		}
		cand.Markdown = normalize.Normalize(cand.Markdown)
		cand.Blocks, cand.Tables, cand.Images = normalize.Segment(cand.Markdown)
	}
}

func toCompareCandidates(candidates []models.CandidateExtraction) []compare.Candidate {
	out := make([]compare.Candidate, 0, len(candidates))
	for _, cand := range candidates {
		out = append(out, compare.Candidate{
			Extractor:  cand.ExtractorName,
			Priority:   cand.Priority,
			Confidence: cand.Confidence,
			Blocks:     cand.Blocks,
			Tables:     cand.Tables,
		})
	}
	return out
}

// failureFrom folds an all-failed candidate set into the job error.
func failureFrom(candidates []models.CandidateExtraction) *models.JobError {
	if len(candidates) == 0 {
		return models.NewJobError(models.ErrKindExtractorUnavailable, "no extractors produced output")
	}
	allTimeout := true
	for _, c := range candidates {
		if c.ErrorKind != models.ErrKindExtractorTimeout {
			allTimeout = false
		}
	}
	kind := models.ErrKindExtractorError
	if allTimeout {
		kind = models.ErrKindExtractorTimeout
	}
	last := candidates[len(candidates)-1]
	return models.NewJobError(kind, "all %d extractors failed, last: %s", len(candidates), last.ErrorMessage)
}
