// -----------------------------------------------------------------------
// Divergence - Comparison clusters that need resolution
// -----------------------------------------------------------------------

package models

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// DivergenceKind classifies why a cluster is not consensus.
type DivergenceKind string

const (
	DivergenceTextMismatch  DivergenceKind = "text_mismatch"
	DivergenceStructural    DivergenceKind = "structural"
	DivergenceTableMismatch DivergenceKind = "table_mismatch"
	DivergenceMissingBlock  DivergenceKind = "missing_block"
)

// Divergence is one non-consensus alignment cluster. BlockRefs maps each
// participating extractor to its block order, or nil when the candidate has
// no counterpart block. Soft divergences sit in the band between the
// divergence threshold and the auto-merge threshold and may be auto-picked.
type Divergence struct {
	ID               string               `json:"id"`
	Kind             DivergenceKind       `json:"kind"`
	BlockRefs        map[string]*int      `json:"block_refs"`
	SimilarityMatrix map[string]float64   `json:"similarity_matrix"`
	MinSimilarity    float64              `json:"min_similarity"`
	PageHint         *int                 `json:"page_hint,omitempty"`
	Soft             bool                 `json:"soft"`
	Excerpts         map[string]string    `json:"excerpts,omitempty"`
}

// DivergenceID derives the stable identifier for a cluster within a job.
func DivergenceID(jobID string, clusterOrdinal int) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s%d", jobID, clusterOrdinal)))
	return hex.EncodeToString(sum[:])
}

// PairKey is the canonical ordered key for a pairwise similarity entry.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}
