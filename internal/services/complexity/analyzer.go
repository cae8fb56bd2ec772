// -----------------------------------------------------------------------
// Complexity Analyzer - Weighted scoring with content-hash memoization
// -----------------------------------------------------------------------

package complexity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quorum/internal/interfaces"
	"github.com/ternarybob/quorum/internal/models"
)

// Criterion weights. They sum to 100; each criterion contributes
// weight * subscore / 100 so the maximum total score is exactly 100.
var criterionWeights = map[string]int{
	models.CriterionPages:    10,
	models.CriterionTables:   25,
	models.CriterionColumns:  20,
	models.CriterionImages:   15,
	models.CriterionFormulas: 15,
	models.CriterionScanned:  15,
}

// Analyzer implements interfaces.ComplexityAnalyzer. Successful reports are
// memoized in the state store keyed by content hash plus the option flags;
// probe failures are never cached.
type Analyzer struct {
	store  interfaces.StateStore
	logger arbor.ILogger
}

func NewAnalyzer(store interfaces.StateStore, logger arbor.ILogger) *Analyzer {
	return &Analyzer{store: store, logger: logger}
}

func cacheKey(contentHash string, opts models.ExtractionOptions) string {
	return fmt.Sprintf("complexity:%s:%s", contentHash, opts.CacheKeySuffix())
}

// Analyze scores the document. A force class bypasses classification but
// not scoring: the score is still computed (and cached) and the forced
// class is recorded on the report.
func (a *Analyzer) Analyze(ctx context.Context, filePath, contentHash string, opts models.ExtractionOptions, force models.ComplexityClass) (*models.ComplexityReport, error) {
	key := cacheKey(contentHash, opts)

	if data, err := a.store.Get(ctx, key); err == nil {
		var report models.ComplexityReport
		if err := json.Unmarshal(data, &report); err == nil {
			report.Cached = true
			applyForce(&report, force)
			a.logger.Debug().Str("content_hash", contentHash).Int("score", report.Score).Msg("Complexity cache hit")
			return &report, nil
		}
		// Corrupt cache entry; fall through to a fresh probe
		_ = a.store.Delete(ctx, key)
	}

	probe, err := probeFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("complexity probe: %w", err)
	}

	report := score(probe)
	report.Cached = false

	if data, err := json.Marshal(report); err == nil {
		// Unbounded TTL: identical bytes always produce the identical report
		if err := a.store.Set(ctx, key, data, 0); err != nil {
			a.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache complexity report")
		}
	}

	applyForce(report, force)

	a.logger.Info().
		Str("content_hash", contentHash).
		Int("score", report.Score).
		Str("class", string(report.Class)).
		Int("pages", report.PageCount).
		Msg("Complexity analyzed")

	return report, nil
}

func applyForce(report *models.ComplexityReport, force models.ComplexityClass) {
	if force != "" {
		report.Class = force
		report.Forced = true
	}
}

// score turns probe signals into the weighted report.
func score(p *ProbeResult) *models.ComplexityReport {
	components := map[string]models.ComplexityComponent{
		models.CriterionPages:    component(models.CriterionPages, float64(p.PageCount), pagesSubScore(p.PageCount)),
		models.CriterionTables:   component(models.CriterionTables, float64(p.TableCount), tablesSubScore(p.TableCount)),
		models.CriterionColumns:  component(models.CriterionColumns, float64(p.MaxColumns), columnsSubScore(p.MaxColumns)),
		models.CriterionImages:   component(models.CriterionImages, p.ImagesPerPage, imagesSubScore(p.ImagesPerPage)),
		models.CriterionFormulas: component(models.CriterionFormulas, float64(p.FormulaCount), formulasSubScore(p.FormulaCount)),
		models.CriterionScanned:  component(models.CriterionScanned, p.ScannedRatio, scannedSubScore(p.ScannedRatio)),
	}

	total := 0.0
	for _, c := range components {
		total += c.Contribution
	}
	scoreInt := int(total + 0.5)
	if scoreInt > 100 {
		scoreInt = 100
	}

	return &models.ComplexityReport{
		Score:      scoreInt,
		Class:      models.ClassForScore(scoreInt),
		Components: components,
		PageCount:  p.PageCount,
	}
}

func component(name string, raw float64, sub int) models.ComplexityComponent {
	weight := criterionWeights[name]
	return models.ComplexityComponent{
		Raw:          raw,
		SubScore:     sub,
		Weight:       weight,
		Contribution: float64(weight) * float64(sub) / 100.0,
	}
}

func pagesSubScore(pages int) int {
	switch {
	case pages <= 5:
		return 0
	case pages <= 20:
		return 20
	case pages <= 50:
		return 40
	default:
		return 100
	}
}

func tablesSubScore(tables int) int {
	switch {
	case tables == 0:
		return 0
	case tables <= 3:
		return 40
	default:
		return 100
	}
}

func columnsSubScore(columns int) int {
	switch {
	case columns <= 1:
		return 0
	case columns == 2:
		return 60
	default:
		return 100
	}
}

func imagesSubScore(perPage float64) int {
	switch {
	case perPage < 0.1:
		return 0
	case perPage < 0.5:
		return 33
	case perPage < 1.0:
		return 66
	default:
		return 100
	}
}

func formulasSubScore(count int) int {
	switch {
	case count == 0:
		return 0
	case count <= 5:
		return 50
	default:
		return 100
	}
}

func scannedSubScore(ratio float64) int {
	switch {
	case ratio == 0:
		return 0
	case ratio < 0.5:
		return 50
	default:
		return 100
	}
}
