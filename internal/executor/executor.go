// -----------------------------------------------------------------------
// Parallel Executor - Bounded concurrent extractor fan-out, join-all
// -----------------------------------------------------------------------

package executor

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quorum/internal/interfaces"
	"github.com/ternarybob/quorum/internal/models"
	"golang.org/x/sync/errgroup"
)

// ParallelExecutor runs extractors concurrently with a bounded limit and a
// per-task timeout. It always joins all tasks before returning: a single
// failure never cancels siblings, and there is no partial return. Returned
// candidates keep the submitted (priority) order.
type ParallelExecutor struct {
	maxParallel int
	taskTimeout time.Duration
	logger      arbor.ILogger
}

func New(maxParallel int, taskTimeout time.Duration, logger arbor.ILogger) *ParallelExecutor {
	if maxParallel <= 0 {
		maxParallel = 3
	}
	if taskTimeout <= 0 {
		taskTimeout = 300 * time.Second
	}
	return &ParallelExecutor{
		maxParallel: maxParallel,
		taskTimeout: taskTimeout,
		logger:      logger,
	}
}

// Run executes every extractor against the file and collects all outcomes.
// Cancelling ctx interrupts all in-flight tasks; a task that overruns its
// own timeout is abandoned by its context and reported as a timeout
// candidate.
func (e *ParallelExecutor) Run(ctx context.Context, extractors []interfaces.Extractor, filePath string, opts models.ExtractionOptions) []models.CandidateExtraction {
	results := make([]models.CandidateExtraction, len(extractors))

	// Plain group: a failing task must not cancel siblings, so the
	// context-propagating variant is not used here
	var g errgroup.Group
	g.SetLimit(e.maxParallel)

	for i, ex := range extractors {
		g.Go(func() error {
			results[i] = e.runOne(ctx, ex, filePath, opts)
			return nil
		})
	}

	// Tasks never return errors; Wait is purely the join barrier
	_ = g.Wait()
	return results
}

// RunSequential tries extractors in order until one succeeds, recording
// every failure along the way. This is the fallback pipeline.
func (e *ParallelExecutor) RunSequential(ctx context.Context, extractors []interfaces.Extractor, filePath string, opts models.ExtractionOptions) []models.CandidateExtraction {
	var results []models.CandidateExtraction
	for _, ex := range extractors {
		if ctx.Err() != nil {
			results = append(results, models.FailedCandidate(
				ex.Name(), ex.Version(), ex.Priority(), models.ErrKindJobTimeout, ctx.Err().Error()))
			break
		}
		candidate := e.runOne(ctx, ex, filePath, opts)
		results = append(results, candidate)
		if candidate.Success {
			break
		}
	}
	return results
}

func (e *ParallelExecutor) runOne(ctx context.Context, ex interfaces.Extractor, filePath string, opts models.ExtractionOptions) models.CandidateExtraction {
	taskCtx, cancel := context.WithTimeout(ctx, e.taskTimeout)
	defer cancel()

	start := time.Now()
	e.logger.Debug().Str("extractor", ex.Name()).Msg("Starting extraction task")

	candidate := ex.Extract(taskCtx, filePath, opts)
	candidate.Priority = ex.Priority()

	// Normalize timeout reporting for extractors that surface a raw
	// context error instead of the timeout kind
	if !candidate.Success && taskCtx.Err() == context.DeadlineExceeded && candidate.ErrorKind != models.ErrKindExtractorTimeout {
		candidate.ErrorKind = models.ErrKindExtractorTimeout
		if candidate.ErrorMessage == "" {
			candidate.ErrorMessage = "per-extractor timeout exceeded"
		}
	}

	e.logger.Info().
		Str("extractor", ex.Name()).
		Bool("success", candidate.Success).
		Dur("elapsed", time.Since(start)).
		Msg("Extraction task finished")

	return candidate
}
