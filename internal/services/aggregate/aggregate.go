// -----------------------------------------------------------------------
// Aggregator - Per-extractor outcome rollup for the extraction report
// -----------------------------------------------------------------------

package aggregate

import (
	"sort"

	"github.com/ternarybob/quorum/internal/models"
)

// Build rolls candidate outcomes into the aggregation report. The selected
// extractor is the successful candidate with the highest confidence,
// priority then name breaking ties; consensus availability requires at
// least two successes.
func Build(candidates []models.CandidateExtraction) *models.AggregationReport {
	report := &models.AggregationReport{
		ExtractorCount: len(candidates),
		Extractors:     make(map[string]models.ExtractorOutcome, len(candidates)),
	}

	var successes []models.CandidateExtraction
	confidenceSum := 0.0

	for _, cand := range candidates {
		outcome := models.ExtractorOutcome{
			Success:   cand.Success,
			ElapsedMs: cand.ElapsedMs,
			CharCount: len(cand.Markdown),
			ErrorKind: cand.ErrorKind,
		}
		if cand.Success {
			outcome.Confidence = cand.Confidence
			successes = append(successes, cand)
			confidenceSum += cand.Confidence
			report.SuccessfulCount++
		} else {
			report.FailedCount++
		}
		report.TotalElapsedMs += cand.ElapsedMs
		report.Extractors[cand.ExtractorName] = outcome
	}

	if report.SuccessfulCount > 0 {
		report.AverageConfidence = confidenceSum / float64(report.SuccessfulCount)
	}
	report.ConsensusAvailable = report.SuccessfulCount >= 2

	if len(successes) > 0 {
		sort.SliceStable(successes, func(i, j int) bool {
			if successes[i].Confidence != successes[j].Confidence {
				return successes[i].Confidence > successes[j].Confidence
			}
			if successes[i].Priority != successes[j].Priority {
				return successes[i].Priority < successes[j].Priority
			}
			return successes[i].ExtractorName < successes[j].ExtractorName
		})
		report.SelectedExtractor = successes[0].ExtractorName
	}

	return report
}
