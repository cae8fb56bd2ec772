// -----------------------------------------------------------------------
// Extraction - Candidate extractions, blocks, tables and image refs
// -----------------------------------------------------------------------

package models

import "fmt"

// BlockKind is the comparison unit type emitted by the normalizer.
type BlockKind string

const (
	BlockHeading   BlockKind = "heading"
	BlockParagraph BlockKind = "paragraph"
	BlockList      BlockKind = "list"
	BlockTable     BlockKind = "table"
	BlockImage     BlockKind = "image"
	BlockFormula   BlockKind = "formula"
	BlockCode      BlockKind = "code"
)

// Block is one canonicalized unit of a candidate extraction. Order is the
// position within the candidate; PageHint is nil when the extractor gave no
// page attribution.
type Block struct {
	Kind        BlockKind `json:"kind"`
	PageHint    *int      `json:"page_hint,omitempty"`
	ContentHash string    `json:"content_hash"`
	Text        string    `json:"text"`
	Order       int       `json:"order"`
}

// Table is an ordered grid of cell text. Rows are padded by the normalizer
// to a uniform column count before comparison.
type Table struct {
	Rows     [][]string `json:"rows"`
	PageHint *int       `json:"page_hint,omitempty"`
}

// ColumnCount returns the widest row width.
func (t Table) ColumnCount() int {
	max := 0
	for _, row := range t.Rows {
		if len(row) > max {
			max = len(row)
		}
	}
	return max
}

// ImageRef is a stable relative reference to an extracted image, in the
// canonical form images/p{page}_{idx}.{ext}.
type ImageRef struct {
	Path string `json:"path"`
	Page int    `json:"page"`
}

// CanonicalImagePath builds the stable relative path for an image.
func CanonicalImagePath(page, idx int, ext string) string {
	return fmt.Sprintf("images/p%d_%d.%s", page, idx, ext)
}

// Precision and speed levels declared by extractor capabilities.
const (
	LevelLow    = "low"
	LevelMedium = "medium"
	LevelHigh   = "high"
	SpeedSlow   = "slow"
	SpeedMedium = "medium"
	SpeedFast   = "fast"
)

// Capabilities describes what an extractor can do. Precision and Speed are
// coarse declared levels, not measurements.
type Capabilities struct {
	SupportsTables   bool   `json:"supports_tables"`
	SupportsFormulas bool   `json:"supports_formulas"`
	SupportsImages   bool   `json:"supports_images"`
	SupportsOCR      bool   `json:"supports_ocr"`
	Precision        string `json:"precision"`
	Speed            string `json:"speed"`
}

// CandidateExtraction is one extractor's output for a job. Failure never
// crosses the extractor boundary as an error: Success is false and ErrorKind
// carries the classification instead.
type CandidateExtraction struct {
	ExtractorName    string     `json:"extractor_name"`
	ExtractorVersion string     `json:"extractor_version"`
	Priority         int        `json:"priority"`
	Markdown         string     `json:"markdown"`
	Blocks           []Block    `json:"blocks,omitempty"`
	Tables           []Table    `json:"tables,omitempty"`
	Images           []ImageRef `json:"images,omitempty"`
	Confidence       float64    `json:"confidence"`
	ElapsedMs        int64      `json:"elapsed_ms"`
	PageCount        int        `json:"page_count,omitempty"`
	Success          bool       `json:"success"`
	ErrorKind        ErrorKind  `json:"error_kind,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	Warnings         []string   `json:"warnings,omitempty"`
}

// FailedCandidate builds a failure record for an extractor run.
func FailedCandidate(name, version string, priority int, kind ErrorKind, message string) CandidateExtraction {
	return CandidateExtraction{
		ExtractorName:    name,
		ExtractorVersion: version,
		Priority:         priority,
		Success:          false,
		ErrorKind:        kind,
		ErrorMessage:     message,
	}
}
