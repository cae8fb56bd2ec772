package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quorum/internal/common"
	"github.com/ternarybob/quorum/internal/models"
	"github.com/ternarybob/quorum/internal/services/compare"
	"github.com/ternarybob/quorum/internal/services/normalize"
)

func testLogger() arbor.ILogger { return common.GetLogger() }

func candidateFrom(name string, priority int, confidence float64, markdown string) compare.Candidate {
	blocks, _, _ := normalize.Segment(normalize.Normalize(markdown))
	return compare.Candidate{Extractor: name, Priority: priority, Confidence: confidence, Blocks: blocks}
}

func divergentPair(t *testing.T) ([]compare.Candidate, *compare.Result) {
	t.Helper()
	candidates := []compare.Candidate{
		candidateFrom("docling", 1, 0.92, "# Title\n\nRevenue grew twelve percent during the quarter.\n"),
		candidateFrom("mineru", 2, 0.85, "# Title\n\nAn entirely different statement about penguin migration.\n"),
	}
	cmp := compare.New(0.90, 0.95, testLogger()).Compare("job_1", candidates)
	require.NotEmpty(t, cmp.Divergences)
	return candidates, cmp
}

func TestMergeHighestConfidenceResolvesEverything(t *testing.T) {
	candidates, cmp := divergentPair(t)
	doc := New(testLogger()).Merge("job_1", candidates, cmp, models.PolicyHighestConfidence, nil)

	assert.False(t, doc.NeedsReview)
	assert.Empty(t, doc.UnresolvedIDs)
	require.Len(t, doc.Resolutions, len(cmp.Divergences))
	for _, res := range doc.Resolutions {
		assert.Equal(t, "docling", res.Extractor)
	}
	assert.Contains(t, doc.Markdown, "Revenue grew twelve percent")
	assert.NotContains(t, doc.Markdown, "penguin")
}

func TestMergeExactlyOneResolutionPerDivergence(t *testing.T) {
	candidates, cmp := divergentPair(t)
	doc := New(testLogger()).Merge("job_1", candidates, cmp, models.PolicyHighestConfidence, nil)

	seen := map[string]int{}
	for _, res := range doc.Resolutions {
		seen[res.DivergenceID]++
	}
	for _, div := range cmp.Divergences {
		assert.Equal(t, 1, seen[div.ID], "divergence %s", div.ID)
	}
}

func TestMergePreferPolicy(t *testing.T) {
	candidates, cmp := divergentPair(t)
	doc := New(testLogger()).Merge("job_1", candidates, cmp, models.PreferPolicy("mineru"), nil)

	assert.False(t, doc.NeedsReview)
	assert.Contains(t, doc.Markdown, "penguin migration")
	for _, res := range doc.Resolutions {
		assert.Equal(t, "mineru", res.Extractor)
	}
}

func TestMergeManualPolicyDefersHardDivergences(t *testing.T) {
	candidates, cmp := divergentPair(t)
	doc := New(testLogger()).Merge("job_1", candidates, cmp, models.PolicyManual, nil)

	assert.True(t, doc.NeedsReview)
	assert.Len(t, doc.UnresolvedIDs, len(cmp.Divergences))
	assert.Empty(t, doc.Resolutions)
	// The draft still contains the best available text
	assert.Contains(t, doc.Markdown, "Revenue grew twelve percent")
}

func TestMergeAutoMergePolicySoftOnly(t *testing.T) {
	// Near-identical long texts produce a soft divergence under a raised
	// consensus threshold
	a := "w1 w2 w3 w4 w5 w6 w7 w8 w9 w10 w11 w12 w13 w14 w15 w16 w17 w18 w19 w20"
	b := "w1 w2 w3 w4 w5 w6 w7 w8 w9 w10 w11 w12 w13 w14 w15 w16 w17 w18 xx w20"
	candidates := []compare.Candidate{
		candidateFrom("docling", 1, 0.92, a),
		candidateFrom("mineru", 2, 0.85, b),
	}
	cmp := compare.New(0.90, 0.99, testLogger()).Compare("job_2", candidates)
	require.Len(t, cmp.Divergences, 1)
	require.True(t, cmp.Divergences[0].Soft)

	doc := New(testLogger()).Merge("job_2", candidates, cmp, models.PolicyAutoMergeHigh, nil)
	assert.False(t, doc.NeedsReview)
	require.Len(t, doc.Resolutions, 1)
	assert.Equal(t, models.ChoiceAuto, doc.Resolutions[0].Choice)
	assert.Equal(t, "docling", doc.Resolutions[0].Extractor)
}

func TestMergeManualChoicesClearReview(t *testing.T) {
	candidates, cmp := divergentPair(t)
	merger := New(testLogger())

	draft := merger.Merge("job_1", candidates, cmp, models.PolicyManual, nil)
	require.True(t, draft.NeedsReview)

	choices := map[string]models.ArbitrationChoice{}
	for _, id := range draft.UnresolvedIDs {
		choices[id] = models.ArbitrationChoice{DivergenceID: id, Choice: models.ChoiceB}
	}
	final := merger.Merge("job_1", candidates, cmp, models.PolicyManual, choices)

	assert.False(t, final.NeedsReview)
	assert.Empty(t, final.UnresolvedIDs)
	assert.Contains(t, final.Markdown, "penguin migration")
}

func TestMergeManualTextChoice(t *testing.T) {
	candidates, cmp := divergentPair(t)
	merger := New(testLogger())

	choices := map[string]models.ArbitrationChoice{}
	for _, div := range cmp.Divergences {
		choices[div.ID] = models.ArbitrationChoice{
			DivergenceID: div.ID,
			Choice:       models.ChoiceManual,
			Content:      "Hand corrected sentence.",
		}
	}
	doc := merger.Merge("job_1", candidates, cmp, models.PolicyManual, choices)

	assert.False(t, doc.NeedsReview)
	assert.Contains(t, doc.Markdown, "Hand corrected sentence.")
	for _, res := range doc.Resolutions {
		assert.Equal(t, models.ChoiceManual, res.Choice)
		assert.Equal(t, "Hand corrected sentence.", res.ManualText)
	}
}

func TestMergeConfidenceTieFallsBackToPriority(t *testing.T) {
	candidates := []compare.Candidate{
		candidateFrom("mineru", 2, 0.90, "some words that differ entirely one way\n"),
		candidateFrom("docling", 1, 0.90, "other tokens going in another direction\n"),
	}
	cmp := compare.New(0.90, 0.95, testLogger()).Compare("job_3", candidates)
	require.NotEmpty(t, cmp.Divergences)

	doc := New(testLogger()).Merge("job_3", candidates, cmp, models.PolicyHighestConfidence, nil)
	for _, res := range doc.Resolutions {
		assert.Equal(t, "docling", res.Extractor)
	}
}
