// -----------------------------------------------------------------------
// Comparator - Cross-candidate block alignment and similarity scoring
// -----------------------------------------------------------------------

package compare

import (
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quorum/internal/models"
)

// alignmentWindow bounds how far ahead of the running cursor a block may
// match. Keeps alignment tolerant of insertions without letting a stray
// header pair up with a footer forty blocks later.
const alignmentWindow = 5

// crossKindPenalty scales similarity when a block only matched a block of
// another kind. Such matches are kept for coverage but flagged structural.
const crossKindPenalty = 0.5

// Candidate is one extractor's segmented output entering comparison.
// Tables holds the structured grids in document order; the Nth table
// block in Blocks corresponds to Tables[N].
type Candidate struct {
	Extractor  string
	Priority   int
	Confidence float64
	Blocks     []models.Block
	Tables     []models.Table
}

// candState pairs a candidate with a per-block table index so table
// blocks can score on grid shape instead of flattened cell text.
type candState struct {
	Candidate
	tableIdx []int
}

func newCandState(c Candidate) candState {
	idx := make([]int, len(c.Blocks))
	n := 0
	for i, b := range c.Blocks {
		if b.Kind == models.BlockTable {
			idx[i] = n
			n++
		} else {
			idx[i] = -1
		}
	}
	return candState{Candidate: c, tableIdx: idx}
}

func (cs candState) table(blockIdx int) *models.Table {
	ti := cs.tableIdx[blockIdx]
	if ti < 0 || ti >= len(cs.Tables) {
		return nil
	}
	return &cs.Tables[ti]
}

// Cluster groups the aligned blocks for one position of the reference
// sequence. Members maps extractor name to its matched block; a missing
// entry means that extractor produced nothing alignable here.
type Cluster struct {
	Ordinal       int
	Kind          models.BlockKind
	PageHint      *int
	Members       map[string]*models.Block
	Similarities  map[string]float64
	MinSimilarity float64
	CrossKind     bool
}

// Result is the full comparison outcome for a job.
type Result struct {
	Clusters       []Cluster
	Divergences    []models.Divergence
	SoftCount      int
	HardCount      int
	ConsensusRatio float64
}

type Comparator struct {
	divergenceThreshold float64
	consensusThreshold  float64
	logger              arbor.ILogger
}

func New(divergenceThreshold, consensusThreshold float64, logger arbor.ILogger) *Comparator {
	if divergenceThreshold <= 0 {
		divergenceThreshold = 0.90
	}
	if consensusThreshold <= 0 {
		consensusThreshold = 0.95
	}
	return &Comparator{
		divergenceThreshold: divergenceThreshold,
		consensusThreshold:  consensusThreshold,
		logger:              logger,
	}
}

// Compare aligns every candidate against a reference sequence and scores
// each cluster. Clusters whose minimum pairwise similarity falls below the
// divergence threshold become hard divergences; those between the two
// thresholds are soft and auto-resolvable.
func (c *Comparator) Compare(jobID string, candidates []Candidate) *Result {
	result := &Result{}
	if len(candidates) == 0 {
		return result
	}
	if len(candidates) == 1 {
		result.ConsensusRatio = 1.0
		result.Clusters = singleCandidateClusters(candidates[0])
		return result
	}

	ref := newCandState(referenceCandidate(candidates))
	others := make([]candState, 0, len(candidates)-1)
	for _, cand := range candidates {
		if cand.Extractor != ref.Extractor {
			others = append(others, newCandState(cand))
		}
	}

	cursors := make(map[string]int, len(others))
	consensus := 0

	for ordinal, refBlock := range ref.Blocks {
		cluster := Cluster{
			Ordinal:      ordinal,
			Kind:         refBlock.Kind,
			PageHint:     refBlock.PageHint,
			Members:      map[string]*models.Block{ref.Extractor: &ref.Blocks[ordinal]},
			Similarities: map[string]float64{},
		}

		matched := make(map[string]int, len(others))
		for _, other := range others {
			idx, sim, sameKind := c.bestMatch(ref, ordinal, other, cursors[other.Extractor])
			if idx < 0 {
				continue
			}
			cursors[other.Extractor] = idx + 1
			matched[other.Extractor] = idx
			cluster.Members[other.Extractor] = &other.Blocks[idx]
			cluster.Similarities[models.PairKey(ref.Extractor, other.Extractor)] = sim
			if !sameKind {
				cluster.CrossKind = true
			}
		}

		// Pairwise scores among the non-reference members complete the matrix
		for i := 0; i < len(others); i++ {
			ai, aOK := matched[others[i].Extractor]
			if !aOK {
				continue
			}
			for j := i + 1; j < len(others); j++ {
				bi, bOK := matched[others[j].Extractor]
				if !bOK {
					continue
				}
				key := models.PairKey(others[i].Extractor, others[j].Extractor)
				cluster.Similarities[key] = blockSimilarity(others[i], ai, others[j], bi)
			}
		}

		cluster.MinSimilarity = minSimilarity(cluster, len(candidates))
		result.Clusters = append(result.Clusters, cluster)

		switch {
		case cluster.MinSimilarity >= c.consensusThreshold && !cluster.CrossKind && len(cluster.Members) == len(candidates):
			consensus++
		default:
			if div := c.divergence(jobID, cluster, len(candidates)); div != nil {
				if div.Soft {
					result.SoftCount++
				} else {
					result.HardCount++
				}
				result.Divergences = append(result.Divergences, *div)
			} else {
				consensus++
			}
		}
	}

	if len(ref.Blocks) > 0 {
		result.ConsensusRatio = float64(consensus) / float64(len(ref.Blocks))
	} else {
		result.ConsensusRatio = 1.0
	}

	c.logger.Info().
		Str("job_id", jobID).
		Int("clusters", len(result.Clusters)).
		Int("hard", result.HardCount).
		Int("soft", result.SoftCount).
		Msg("Comparison complete")

	return result
}

// divergence builds the divergence record for a non-consensus cluster, or
// nil when the cluster still clears the divergence threshold with full
// membership (agreement good enough to pass silently).
func (c *Comparator) divergence(jobID string, cluster Cluster, memberTotal int) *models.Divergence {
	missing := len(cluster.Members) < memberTotal

	if !missing && !cluster.CrossKind && cluster.MinSimilarity >= c.consensusThreshold {
		return nil
	}

	div := &models.Divergence{
		ID:               models.DivergenceID(jobID, cluster.Ordinal),
		BlockRefs:        map[string]*int{},
		SimilarityMatrix: cluster.Similarities,
		MinSimilarity:    cluster.MinSimilarity,
		PageHint:         cluster.PageHint,
		Excerpts:         map[string]string{},
	}
	for name, block := range cluster.Members {
		order := block.Order
		div.BlockRefs[name] = &order
		div.Excerpts[name] = excerpt(block.Text)
	}

	switch {
	case missing:
		div.Kind = models.DivergenceMissingBlock
	case cluster.CrossKind:
		div.Kind = models.DivergenceStructural
	case cluster.Kind == models.BlockTable:
		div.Kind = models.DivergenceTableMismatch
	default:
		div.Kind = models.DivergenceTextMismatch
	}

	// Soft band: below consensus but at or above the divergence floor,
	// with every extractor represented and kinds agreeing
	div.Soft = !missing && !cluster.CrossKind && cluster.MinSimilarity >= c.divergenceThreshold
	return div
}

// bestMatch scans the window ahead of the cursor for the most similar
// block. Same-kind matches are preferred; a cross-kind match is admitted
// at a penalty so genuinely moved content still clusters.
func (c *Comparator) bestMatch(ref candState, refIdx int, other candState, cursor int) (int, float64, bool) {
	refBlock := ref.Blocks[refIdx]
	bestIdx := -1
	bestSim := -1.0
	bestSameKind := false

	end := cursor + alignmentWindow
	if end > len(other.Blocks) {
		end = len(other.Blocks)
	}
	for i := cursor; i < end; i++ {
		b := other.Blocks[i]
		if !pagesCompatible(refBlock.PageHint, b.PageHint) {
			continue
		}
		sameKind := b.Kind == refBlock.Kind
		sim := blockSimilarity(ref, refIdx, other, i)
		if !sameKind {
			sim *= crossKindPenalty
		}
		if sim > bestSim || (sim == bestSim && sameKind && !bestSameKind) {
			bestIdx, bestSim, bestSameKind = i, sim, sameKind
		}
	}
	if bestIdx < 0 {
		return -1, 0, false
	}
	return bestIdx, bestSim, bestSameKind
}

// blockSimilarity scores two blocks. A pair of table blocks with grids on
// both sides scores cell by cell; everything else scores on tokens.
func blockSimilarity(a candState, ai int, b candState, bi int) float64 {
	ab, bb := a.Blocks[ai], b.Blocks[bi]
	if ab.Kind == models.BlockTable && bb.Kind == models.BlockTable {
		if ta, tb := a.table(ai), b.table(bi); ta != nil && tb != nil {
			return TableSimilarity(*ta, *tb)
		}
	}
	return TokenSimilarity(ab.Text, bb.Text)
}

// pagesCompatible accepts hints that are absent on either side or within
// one page of each other. Extractors disagree on exact page breaks.
func pagesCompatible(a, b *int) bool {
	if a == nil || b == nil {
		return true
	}
	d := *a - *b
	return d >= -1 && d <= 1
}

// referenceCandidate picks the alignment backbone: the candidate with the
// most blocks, priority breaking ties. A richer sequence gives the others
// more positions to land on.
func referenceCandidate(candidates []Candidate) Candidate {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if len(sorted[i].Blocks) != len(sorted[j].Blocks) {
			return len(sorted[i].Blocks) > len(sorted[j].Blocks)
		}
		return sorted[i].Priority < sorted[j].Priority
	})
	return sorted[0]
}

func singleCandidateClusters(cand Candidate) []Cluster {
	clusters := make([]Cluster, len(cand.Blocks))
	for i := range cand.Blocks {
		clusters[i] = Cluster{
			Ordinal:       i,
			Kind:          cand.Blocks[i].Kind,
			PageHint:      cand.Blocks[i].PageHint,
			Members:       map[string]*models.Block{cand.Extractor: &cand.Blocks[i]},
			Similarities:  map[string]float64{},
			MinSimilarity: 1.0,
		}
	}
	return clusters
}

func minSimilarity(cluster Cluster, memberTotal int) float64 {
	if len(cluster.Similarities) == 0 {
		if len(cluster.Members) < memberTotal {
			return 0
		}
		return 1.0
	}
	min := 1.0
	for _, s := range cluster.Similarities {
		if s < min {
			min = s
		}
	}
	return min
}

const excerptLen = 160

// excerpt truncates on a rune boundary; a byte slice could cut a
// multi-byte character in half.
func excerpt(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= excerptLen {
		return string(runes)
	}
	return string(runes[:excerptLen]) + "…"
}

// TableSimilarity scores two grids as the ratio of equal cells over their
// overlapping region, scaled down when either table has extra rows or
// columns. Cells compare after whitespace trimming.
func TableSimilarity(a, b models.Table) float64 {
	ra, rb := len(a.Rows), len(b.Rows)
	if ra == 0 && rb == 0 {
		return 1.0
	}
	if ra == 0 || rb == 0 {
		return 0.0
	}

	// Rows arrive padded to a uniform width per table
	ca, cb := len(a.Rows[0]), len(b.Rows[0])
	rows := min(ra, rb)
	rowPenalty := float64(rows) / float64(max(ra, rb))
	if ca == 0 && cb == 0 {
		return rowPenalty
	}
	if ca == 0 || cb == 0 {
		return 0.0
	}

	cols := min(ca, cb)
	colPenalty := float64(cols) / float64(max(ca, cb))

	equal := 0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if strings.TrimSpace(a.Rows[i][j]) == strings.TrimSpace(b.Rows[i][j]) {
				equal++
			}
		}
	}
	ratio := float64(equal) / float64(rows*cols)
	return ratio * rowPenalty * colPenalty
}

// TokenSimilarity scores two texts as the ratio of shared tokens found by
// a longest-common-subsequence diff over whitespace tokens. Symmetric and
// 1.0 for identical inputs, 0.0 when nothing is shared.
func TokenSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ta, tb := strings.Fields(a), strings.Fields(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1.0
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0.0
	}

	dmp := diffmatchpatch.New()
	ca, cb, _ := dmp.DiffLinesToChars(strings.Join(ta, "\n")+"\n", strings.Join(tb, "\n")+"\n")
	diffs := dmp.DiffMain(ca, cb, false)

	common := 0
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffEqual {
			common += len([]rune(d.Text))
		}
	}
	return 2.0 * float64(common) / float64(len(ta)+len(tb))
}
