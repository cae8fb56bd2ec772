// -----------------------------------------------------------------------
// Arbitration - Human resolution of jobs parked in review
// -----------------------------------------------------------------------

package arbitration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quorum/internal/interfaces"
	"github.com/ternarybob/quorum/internal/models"
	"github.com/ternarybob/quorum/internal/services/compare"
	"github.com/ternarybob/quorum/internal/services/merge"
)

var (
	ErrNotInReview       = errors.New("job is not awaiting review")
	ErrIncompleteChoices = errors.New("choices do not cover all unresolved divergences")
	ErrUnknownDivergence = errors.New("choice references an unknown divergence")
	ErrAlreadyClaimed    = errors.New("arbitration already submitted for this job")
)

// mailboxTTL keeps a consumed arbitration claim around long enough for any
// duplicate submission to observe it.
const mailboxTTL = 24 * time.Hour

// Service applies human arbitration choices to a NEEDS_REVIEW job. The
// submission is one-shot: a state store claim under arbitration:{job_id}
// rejects concurrent or repeated submissions for the same job.
type Service struct {
	tracker    interfaces.JobTracker
	store      interfaces.StateStore
	comparator *compare.Comparator
	merger     *merge.Merger
	writer     interfaces.DocumentWriter
	dispatcher interfaces.WebhookDispatcher
	logger     arbor.ILogger
}

func NewService(
	tracker interfaces.JobTracker,
	store interfaces.StateStore,
	comparator *compare.Comparator,
	merger *merge.Merger,
	writer interfaces.DocumentWriter,
	dispatcher interfaces.WebhookDispatcher,
	logger arbor.ILogger,
) *Service {
	return &Service{
		tracker:    tracker,
		store:      store,
		comparator: comparator,
		merger:     merger,
		writer:     writer,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Submit validates the choices, claims the job's arbitration mailbox,
// applies the manual merge and walks the job through ARBITRATED to
// COMPLETED. Artifacts are rewritten from the final document before the
// completion webhook fires.
func (s *Service) Submit(ctx context.Context, jobID string, choices []models.ArbitrationChoice) (*models.Job, error) {
	job, err := s.tracker.Read(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State != models.JobStateNeedsReview || job.Result == nil {
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotInReview, jobID, job.State)
	}

	if err := validateCoverage(job.Result.UnresolvedIDs, choices); err != nil {
		return nil, err
	}

	mailbox := fmt.Sprintf("arbitration:%s", jobID)
	if err := s.store.CAS(ctx, mailbox, nil, []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
		if errors.Is(err, interfaces.ErrConflict) {
			return nil, fmt.Errorf("%w: job %s", ErrAlreadyClaimed, jobID)
		}
		return nil, fmt.Errorf("claim arbitration mailbox: %w", err)
	}
	// TTL trims the claim after the job record itself has been swept
	_ = s.store.Set(ctx, mailbox, []byte("consumed"), mailboxTTL)

	// Release the claim if nothing was applied, so a corrected submission
	// can still go through
	applied := false
	defer func() {
		if !applied {
			_ = s.store.Delete(ctx, mailbox)
		}
	}()

	manual := make(map[string]models.ArbitrationChoice, len(choices))
	for _, choice := range choices {
		manual[choice.DivergenceID] = choice
	}

	candidates := rebuildCandidates(job)
	cmp := s.comparator.Compare(jobID, candidates)
	doc := s.merger.Merge(jobID, candidates, cmp, job.Result.Policy, manual)
	if doc.NeedsReview {
		// Coverage was validated against the persisted record; a remaining
		// unresolved cluster means the stored candidates are inconsistent
		return nil, fmt.Errorf("merge left %d divergences unresolved", len(doc.UnresolvedIDs))
	}

	if _, err := s.tracker.UpdateState(ctx, jobID, models.JobStateArbitrated); err != nil {
		return nil, err
	}
	applied = true

	job, err = s.tracker.SetResult(ctx, jobID, func(j *models.Job) {
		j.Result = doc
	})
	if err != nil {
		return nil, err
	}

	if dir, err := s.writer.Write(ctx, job); err != nil {
		s.logger.Warn().Str("job_id", jobID).Err(err).Msg("Failed to write arbitrated artifacts")
	} else if dir != job.OutputDir {
		job, _ = s.tracker.SetResult(ctx, jobID, func(j *models.Job) { j.OutputDir = dir })
	}

	job, err = s.tracker.UpdateState(ctx, jobID, models.JobStateCompleted)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("job_id", jobID).
		Int("choices", len(choices)).
		Msg("Arbitration applied")

	if s.dispatcher != nil {
		if derr := s.dispatcher.Dispatch(ctx, job); derr != nil {
			job, _ = s.tracker.SetResult(ctx, jobID, func(j *models.Job) {
				j.WebhookError = derr.Error()
			})
		} else {
			job, _ = s.tracker.SetResult(ctx, jobID, func(j *models.Job) {
				j.WebhookDelivered = true
			})
		}
	}

	return job, nil
}

// validateCoverage checks the choices settle exactly the outstanding set.
func validateCoverage(unresolved []string, choices []models.ArbitrationChoice) error {
	outstanding := make(map[string]bool, len(unresolved))
	for _, id := range unresolved {
		outstanding[id] = true
	}

	covered := make(map[string]bool, len(choices))
	for _, choice := range choices {
		if !outstanding[choice.DivergenceID] {
			return fmt.Errorf("%w: %s", ErrUnknownDivergence, choice.DivergenceID)
		}
		if choice.Choice == models.ChoiceManual && choice.Content == "" {
			return fmt.Errorf("manual choice for %s has no content", choice.DivergenceID)
		}
		covered[choice.DivergenceID] = true
	}

	for id := range outstanding {
		if !covered[id] {
			return fmt.Errorf("%w: missing %s", ErrIncompleteChoices, id)
		}
	}
	return nil
}

// rebuildCandidates reconstructs the comparison inputs from the persisted
// candidate records.
func rebuildCandidates(job *models.Job) []compare.Candidate {
	var candidates []compare.Candidate
	for _, cand := range job.Candidates {
		if !cand.Success {
			continue
		}
		candidates = append(candidates, compare.Candidate{
			Extractor:  cand.ExtractorName,
			Priority:   cand.Priority,
			Confidence: cand.Confidence,
			Blocks:     cand.Blocks,
		})
	}
	return candidates
}
