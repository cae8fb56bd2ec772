// -----------------------------------------------------------------------
// Complexity - Weighted document complexity report
// -----------------------------------------------------------------------

package models

// Complexity criterion names. Each contributes weight * subscore / 100 to
// the total so the maximum score is exactly 100.
const (
	CriterionPages    = "pages"
	CriterionTables   = "tables"
	CriterionColumns  = "columns"
	CriterionImages   = "images"
	CriterionFormulas = "formulas"
	CriterionScanned  = "scanned"
)

// ComplexityComponent is one criterion's raw signal, normalized sub-score
// and weighted contribution.
type ComplexityComponent struct {
	Raw          float64 `json:"raw"`
	SubScore     int     `json:"sub_score"`
	Weight       int     `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// ComplexityReport is the analyzer output. Cached is true when the report
// was served from the content-hash memo instead of a fresh probe.
type ComplexityReport struct {
	Score      int                            `json:"score"`
	Class      ComplexityClass                `json:"class"`
	Components map[string]ComplexityComponent `json:"components"`
	PageCount  int                            `json:"page_count"`
	Cached     bool                           `json:"cached"`
	Forced     bool                           `json:"forced,omitempty"`
}

// ClassForScore applies the classification thresholds.
func ClassForScore(score int) ComplexityClass {
	switch {
	case score <= 30:
		return ComplexitySimple
	case score >= 60:
		return ComplexityComplex
	default:
		return ComplexityMedium
	}
}
