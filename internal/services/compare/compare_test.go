package compare

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/quorum/internal/models"
	"github.com/ternarybob/quorum/internal/services/normalize"
)

func testComparator() *Comparator {
	return New(0.90, 0.95, testLogger())
}

func candidateFrom(name string, priority int, markdown string) Candidate {
	blocks, tables, _ := normalize.Segment(normalize.Normalize(markdown))
	return Candidate{Extractor: name, Priority: priority, Blocks: blocks, Tables: tables}
}

func TestTokenSimilaritySymmetric(t *testing.T) {
	pairs := [][2]string{
		{"the quick brown fox", "the quick brown fox"},
		{"the quick brown fox", "the slow brown fox"},
		{"alpha beta gamma", "delta epsilon"},
		{"", ""},
		{"one", ""},
	}
	for _, p := range pairs {
		ab := TokenSimilarity(p[0], p[1])
		ba := TokenSimilarity(p[1], p[0])
		assert.InDelta(t, ab, ba, 1e-9, "%q vs %q", p[0], p[1])
		assert.GreaterOrEqual(t, ab, 0.0)
		assert.LessOrEqual(t, ab, 1.0)
	}
	assert.Equal(t, 1.0, TokenSimilarity("same text", "same text"))
	assert.Equal(t, 0.0, TokenSimilarity("aaa bbb", "ccc ddd"))
}

func TestCompareIdenticalCandidatesNoDivergence(t *testing.T) {
	md := "# Title\n\nShared paragraph content here.\n\n- one\n- two\n"
	result := testComparator().Compare("job_x", []Candidate{
		candidateFrom("docling", 1, md),
		candidateFrom("mineru", 2, md),
		candidateFrom("pdfcpu", 3, md),
	})

	assert.Empty(t, result.Divergences)
	assert.Equal(t, 1.0, result.ConsensusRatio)
	assert.Equal(t, 0, result.HardCount)
	for _, cluster := range result.Clusters {
		assert.Len(t, cluster.Members, 3)
		assert.Equal(t, 1.0, cluster.MinSimilarity)
	}
}

func TestCompareHardDivergence(t *testing.T) {
	a := "# Title\n\nThe revenue grew twelve percent in the quarter.\n"
	b := "# Title\n\nCompletely unrelated sentence about penguins instead.\n"
	result := testComparator().Compare("job_y", []Candidate{
		candidateFrom("docling", 1, a),
		candidateFrom("mineru", 2, b),
	})

	require.Len(t, result.Divergences, 1)
	div := result.Divergences[0]
	assert.Equal(t, models.DivergenceTextMismatch, div.Kind)
	assert.False(t, div.Soft)
	assert.Equal(t, 1, result.HardCount)
	assert.Less(t, div.MinSimilarity, 0.90)
	assert.Len(t, div.Excerpts, 2)
}

func TestCompareSoftDivergence(t *testing.T) {
	// 19 of 20 tokens shared: similarity 0.95 exactly on the boundary,
	// so push one more word of drift to land inside the soft band
	a := "w1 w2 w3 w4 w5 w6 w7 w8 w9 w10 w11 w12 w13 w14 w15 w16 w17 w18 w19 w20"
	b := "w1 w2 w3 w4 w5 w6 w7 w8 w9 w10 w11 w12 w13 w14 w15 w16 w17 w18 xx w20"
	comparator := New(0.90, 0.99, testLogger())
	result := comparator.Compare("job_z", []Candidate{
		candidateFrom("docling", 1, a),
		candidateFrom("mineru", 2, b),
	})

	require.Len(t, result.Divergences, 1)
	assert.True(t, result.Divergences[0].Soft)
	assert.Equal(t, 1, result.SoftCount)
	assert.Equal(t, 0, result.HardCount)
}

func TestCompareMissingBlock(t *testing.T) {
	a := "# Title\n\nShared paragraph.\n\nOnly the first extractor saw this closing section of text.\n"
	b := "# Title\n\nShared paragraph.\n"
	result := testComparator().Compare("job_m", []Candidate{
		candidateFrom("docling", 1, a),
		candidateFrom("mineru", 2, b),
	})

	var missing *models.Divergence
	for i := range result.Divergences {
		if result.Divergences[i].Kind == models.DivergenceMissingBlock {
			missing = &result.Divergences[i]
		}
	}
	require.NotNil(t, missing)
	assert.False(t, missing.Soft)
}

func TestCompareDivergenceIDsDeterministic(t *testing.T) {
	a := candidateFrom("docling", 1, "totally different alpha content\n")
	b := candidateFrom("mineru", 2, "some other beta words entirely\n")

	first := testComparator().Compare("job_d", []Candidate{a, b})
	second := testComparator().Compare("job_d", []Candidate{a, b})

	require.Equal(t, len(first.Divergences), len(second.Divergences))
	for i := range first.Divergences {
		assert.Equal(t, first.Divergences[i].ID, second.Divergences[i].ID)
	}
}

func TestCompareSingleCandidate(t *testing.T) {
	result := testComparator().Compare("job_s", []Candidate{
		candidateFrom("pdfcpu", 3, "# Only One\n\nText.\n"),
	})
	assert.Empty(t, result.Divergences)
	assert.Equal(t, 1.0, result.ConsensusRatio)
	assert.Len(t, result.Clusters, 2)
}

func TestCompareTableMismatch(t *testing.T) {
	a := "| h1 | h2 |\n|----|----|\n| 10 | 20 |\n"
	b := "| h1 | h2 |\n|----|----|\n| 99 | 77 |\n"
	result := testComparator().Compare("job_t", []Candidate{
		candidateFrom("docling", 1, a),
		candidateFrom("mineru", 2, b),
	})

	require.NotEmpty(t, result.Divergences)
	assert.Equal(t, models.DivergenceTableMismatch, result.Divergences[0].Kind)
}

func TestTableSimilarityCellRatio(t *testing.T) {
	a := models.Table{Rows: [][]string{{"h1", "h2"}, {"10", "20"}}}
	b := models.Table{Rows: [][]string{{"h1", "h2"}, {"10", "99"}}}
	// 3 of 4 overlapping cells agree, no shape penalty
	assert.InDelta(t, 0.75, TableSimilarity(a, b), 1e-9)
	assert.Equal(t, 1.0, TableSimilarity(a, a))
	assert.InDelta(t, TableSimilarity(a, b), TableSimilarity(b, a), 1e-9)
}

func TestTableSimilarityShapePenalties(t *testing.T) {
	full := models.Table{Rows: [][]string{{"h1", "h2"}, {"10", "20"}, {"30", "40"}}}
	short := models.Table{Rows: [][]string{{"h1", "h2"}, {"10", "20"}}}
	narrow := models.Table{Rows: [][]string{{"h1"}, {"10"}, {"30"}}}

	// Overlap agrees fully; the missing third row costs a third
	assert.InDelta(t, 2.0/3.0, TableSimilarity(full, short), 1e-9)
	// Missing column penalized the same way
	assert.InDelta(t, 0.5, TableSimilarity(full, narrow), 1e-9)

	assert.Equal(t, 1.0, TableSimilarity(models.Table{}, models.Table{}))
	assert.Equal(t, 0.0, TableSimilarity(full, models.Table{}))
}

func TestCompareTablesScoredByCells(t *testing.T) {
	// Same cell text, one extra row: token overlap of the flattened text is
	// high, but the grid comparison must charge for the missing row
	a := "| h1 | h2 |\n|----|----|\n| 10 | 20 |\n| 30 | 40 |\n"
	b := "| h1 | h2 |\n|----|----|\n| 10 | 20 |\n"
	result := testComparator().Compare("job_tc", []Candidate{
		candidateFrom("docling", 1, a),
		candidateFrom("mineru", 2, b),
	})

	require.NotEmpty(t, result.Divergences)
	div := result.Divergences[0]
	assert.Equal(t, models.DivergenceTableMismatch, div.Kind)
	assert.InDelta(t, 2.0/3.0, div.MinSimilarity, 1e-9)
	assert.False(t, div.Soft)
}

func TestExcerptKeepsRunesWhole(t *testing.T) {
	long := strings.Repeat("é", excerptLen+40)
	got := excerpt(long)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, excerptLen+1, len([]rune(got)))
	assert.Equal(t, strings.Repeat("é", excerptLen)+"…", got)

	short := "déjà vu"
	assert.Equal(t, short, excerpt("  "+short+"  "))
}
