// -----------------------------------------------------------------------
// Aggregation - Cross-extractor run summary
// -----------------------------------------------------------------------

package models

// ExtractorOutcome summarizes one extractor's run inside the aggregation.
type ExtractorOutcome struct {
	Success    bool    `json:"success"`
	Confidence float64 `json:"confidence"`
	ElapsedMs  int64   `json:"elapsed_ms"`
	CharCount  int     `json:"char_count"`
	ErrorKind  ErrorKind `json:"error_kind,omitempty"`
}

// AggregationReport summarizes a multi-extractor run. SelectedExtractor is
// the highest-confidence successful candidate.
type AggregationReport struct {
	ExtractorCount     int                         `json:"extractor_count"`
	SuccessfulCount    int                         `json:"successful_count"`
	FailedCount        int                         `json:"failed_count"`
	AverageConfidence  float64                     `json:"average_confidence"`
	SelectedExtractor  string                      `json:"selected_extractor,omitempty"`
	ConsensusAvailable bool                        `json:"consensus_available"`
	TotalElapsedMs     int64                       `json:"total_elapsed_ms"`
	Extractors         map[string]ExtractorOutcome `json:"extractors"`
}
