package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ternarybob/quorum/internal/models"
)

func TestBuildMixedOutcomes(t *testing.T) {
	report := Build([]models.CandidateExtraction{
		{ExtractorName: "docling", Priority: 1, Success: true, Confidence: 0.92, ElapsedMs: 1200, Markdown: "abc"},
		{ExtractorName: "mineru", Priority: 2, Success: true, Confidence: 0.85, ElapsedMs: 2400, Markdown: "abcdef"},
		{ExtractorName: "pdfcpu", Priority: 3, Success: false, ErrorKind: models.ErrKindExtractorError, ElapsedMs: 300},
	})

	assert.Equal(t, 3, report.ExtractorCount)
	assert.Equal(t, 2, report.SuccessfulCount)
	assert.Equal(t, 1, report.FailedCount)
	assert.Equal(t, "docling", report.SelectedExtractor)
	assert.True(t, report.ConsensusAvailable)
	assert.InDelta(t, 0.885, report.AverageConfidence, 1e-9)
	assert.Equal(t, int64(3900), report.TotalElapsedMs)
	assert.Equal(t, models.ErrKindExtractorError, report.Extractors["pdfcpu"].ErrorKind)
	assert.Equal(t, 6, report.Extractors["mineru"].CharCount)
}

func TestBuildAllFailed(t *testing.T) {
	report := Build([]models.CandidateExtraction{
		{ExtractorName: "docling", Success: false, ErrorKind: models.ErrKindExtractorTimeout},
	})
	assert.Equal(t, 0, report.SuccessfulCount)
	assert.Empty(t, report.SelectedExtractor)
	assert.False(t, report.ConsensusAvailable)
	assert.Zero(t, report.AverageConfidence)
}

func TestBuildConfidenceTieUsesPriority(t *testing.T) {
	report := Build([]models.CandidateExtraction{
		{ExtractorName: "mineru", Priority: 2, Success: true, Confidence: 0.9},
		{ExtractorName: "docling", Priority: 1, Success: true, Confidence: 0.9},
	})
	assert.Equal(t, "docling", report.SelectedExtractor)
}
