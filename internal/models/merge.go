// -----------------------------------------------------------------------
// Merge - Policies, resolutions and the merged document
// -----------------------------------------------------------------------

package models

import "strings"

// MergePolicy names how candidates are fused into a final document.
// PREFER_<name> policies are constructed with PreferPolicy.
type MergePolicy string

const (
	PolicyHighestConfidence MergePolicy = "HIGHEST_CONFIDENCE"
	PolicyAutoMergeHigh     MergePolicy = "AUTO_MERGE_HIGH_CONFIDENCE"
	PolicyManual            MergePolicy = "MANUAL"

	preferPrefix = "PREFER_"
)

// PreferPolicy builds the policy that prefers a named extractor.
func PreferPolicy(extractor string) MergePolicy {
	return MergePolicy(preferPrefix + strings.ToUpper(extractor))
}

// PreferredExtractor returns the extractor name a PREFER_ policy targets,
// or "" when the policy is not a preference policy.
func (p MergePolicy) PreferredExtractor() string {
	s := string(p)
	if !strings.HasPrefix(s, preferPrefix) {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(s, preferPrefix))
}

// ResolutionChoice selects which candidate wins a divergence.
type ResolutionChoice string

const (
	ChoiceA      ResolutionChoice = "A"
	ChoiceB      ResolutionChoice = "B"
	ChoiceC      ResolutionChoice = "C"
	ChoiceManual ResolutionChoice = "manual"
	ChoiceAuto   ResolutionChoice = "auto"
)

// Resolution records how one cluster was settled.
type Resolution struct {
	DivergenceID string           `json:"divergence_id"`
	Choice       ResolutionChoice `json:"choice"`
	Extractor    string           `json:"extractor,omitempty"`
	ManualText   string           `json:"manual_text,omitempty"`
}

// ArbitrationChoice is one human decision submitted for a NEEDS_REVIEW job.
type ArbitrationChoice struct {
	DivergenceID string           `json:"divergence_id" validate:"required"`
	Choice       ResolutionChoice `json:"choice" validate:"required,oneof=A B C manual"`
	Content      string           `json:"content,omitempty"`
}

// MergedDocument is the single result of a completed job. Exactly one
// resolution is recorded per input cluster.
type MergedDocument struct {
	Markdown      string            `json:"markdown"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Policy        MergePolicy       `json:"policy"`
	Resolutions   []Resolution      `json:"resolutions"`
	NeedsReview   bool              `json:"needs_review"`
	UnresolvedIDs []string          `json:"unresolved_ids,omitempty"`
}
