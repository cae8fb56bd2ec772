// -----------------------------------------------------------------------
// Merger - Cluster resolution policies and final document assembly
// -----------------------------------------------------------------------

package merge

import (
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quorum/internal/models"
	"github.com/ternarybob/quorum/internal/services/compare"
	"github.com/ternarybob/quorum/internal/services/normalize"
)

type Merger struct {
	logger arbor.ILogger
}

func New(logger arbor.ILogger) *Merger {
	return &Merger{logger: logger}
}

// Merge resolves every cluster of the comparison exactly once and
// assembles the merged document. Divergent clusters are resolved by the
// policy; under MANUAL, hard divergences stay unresolved and the document
// is flagged for review. Manual choices, when supplied, override the
// policy for their divergence and clear review state once coverage is
// complete.
func (m *Merger) Merge(jobID string, candidates []compare.Candidate, cmp *compare.Result, policy models.MergePolicy, manual map[string]models.ArbitrationChoice) *models.MergedDocument {
	if policy == "" {
		policy = models.PolicyHighestConfidence
	}

	byDivergence := make(map[string]*models.Divergence, len(cmp.Divergences))
	for i := range cmp.Divergences {
		byDivergence[cmp.Divergences[i].ID] = &cmp.Divergences[i]
	}

	ranked := rankCandidates(candidates)

	doc := &models.MergedDocument{
		Policy:      policy,
		Resolutions: make([]models.Resolution, 0, len(cmp.Divergences)),
	}

	var parts []string
	for _, cluster := range cmp.Clusters {
		divID := models.DivergenceID(jobID, cluster.Ordinal)
		div := byDivergence[divID]

		if div == nil {
			if text := consensusText(cluster, ranked); text != "" {
				parts = append(parts, text)
			}
			continue
		}

		res, text := m.resolve(div, cluster, ranked, policy, manual)
		if res == nil {
			doc.NeedsReview = true
			doc.UnresolvedIDs = append(doc.UnresolvedIDs, div.ID)
			// Keep the best available text so the draft reads whole
			if t := consensusText(cluster, ranked); t != "" {
				parts = append(parts, t)
			}
			continue
		}
		doc.Resolutions = append(doc.Resolutions, *res)
		if text != "" {
			parts = append(parts, text)
		}
	}

	doc.Markdown = normalize.Normalize(strings.Join(parts, "\n\n"))

	m.logger.Info().
		Str("job_id", jobID).
		Str("policy", string(policy)).
		Int("resolutions", len(doc.Resolutions)).
		Int("unresolved", len(doc.UnresolvedIDs)).
		Msg("Merge complete")

	return doc
}

// resolve produces the single resolution for a divergence, or nil when the
// policy defers it to a human.
func (m *Merger) resolve(div *models.Divergence, cluster compare.Cluster, ranked []compare.Candidate, policy models.MergePolicy, manual map[string]models.ArbitrationChoice) (*models.Resolution, string) {
	if choice, ok := manual[div.ID]; ok {
		return m.applyManual(div, cluster, ranked, choice)
	}

	switch {
	case policy == models.PolicyManual:
		if div.Soft {
			// Soft divergences never block review; highest confidence wins
			return m.pickBest(div, cluster, ranked, models.ChoiceAuto)
		}
		return nil, ""

	case policy == models.PolicyAutoMergeHigh:
		if !div.Soft {
			return nil, ""
		}
		return m.pickBest(div, cluster, ranked, models.ChoiceAuto)

	case policy.PreferredExtractor() != "":
		preferred := policy.PreferredExtractor()
		if block, ok := cluster.Members[preferred]; ok {
			return &models.Resolution{
				DivergenceID: div.ID,
				Choice:       models.ChoiceAuto,
				Extractor:    preferred,
			}, block.Text
		}
		// Preferred extractor produced nothing here; fall back
		return m.pickBest(div, cluster, ranked, models.ChoiceAuto)

	default:
		return m.pickBest(div, cluster, ranked, models.ChoiceAuto)
	}
}

func (m *Merger) applyManual(div *models.Divergence, cluster compare.Cluster, ranked []compare.Candidate, choice models.ArbitrationChoice) (*models.Resolution, string) {
	if choice.Choice == models.ChoiceManual {
		return &models.Resolution{
			DivergenceID: div.ID,
			Choice:       models.ChoiceManual,
			ManualText:   choice.Content,
		}, choice.Content
	}

	// A, B, C address candidates in priority order
	idx := int(choice.Choice[0] - 'A')
	if idx < 0 || idx >= len(ranked) {
		return m.pickBest(div, cluster, ranked, choice.Choice)
	}
	name := ranked[idx].Extractor
	res := &models.Resolution{DivergenceID: div.ID, Choice: choice.Choice, Extractor: name}
	if block, ok := cluster.Members[name]; ok {
		return res, block.Text
	}
	return res, ""
}

// pickBest selects the member from the highest ranked candidate present in
// the cluster. Ranking is confidence first, then extractor priority, then
// name, so selection is total and deterministic.
func (m *Merger) pickBest(div *models.Divergence, cluster compare.Cluster, ranked []compare.Candidate, choice models.ResolutionChoice) (*models.Resolution, string) {
	for _, cand := range ranked {
		if block, ok := cluster.Members[cand.Extractor]; ok {
			return &models.Resolution{
				DivergenceID: div.ID,
				Choice:       choice,
				Extractor:    cand.Extractor,
			}, block.Text
		}
	}
	return nil, ""
}

// consensusText returns the text of the best ranked member of a cluster.
func consensusText(cluster compare.Cluster, ranked []compare.Candidate) string {
	for _, cand := range ranked {
		if block, ok := cluster.Members[cand.Extractor]; ok {
			return block.Text
		}
	}
	return ""
}

// rankCandidates orders candidates by descending confidence, then
// ascending priority number, then name.
func rankCandidates(candidates []compare.Candidate) []compare.Candidate {
	ranked := make([]compare.Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Confidence != ranked[j].Confidence {
			return ranked[i].Confidence > ranked[j].Confidence
		}
		if ranked[i].Priority != ranked[j].Priority {
			return ranked[i].Priority < ranked[j].Priority
		}
		return ranked[i].Extractor < ranked[j].Extractor
	})
	return ranked
}
