// -----------------------------------------------------------------------
// Extractor Registry - Fixed built-in list gated by availability probes
// -----------------------------------------------------------------------

package extractors

import (
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quorum/internal/common"
	"github.com/ternarybob/quorum/internal/interfaces"
)

// Registry implements interfaces.ExtractorRegistry. The built-in list is
// fixed at construction; availability is a runtime predicate evaluated per
// call so an extractor installed after startup becomes selectable.
type Registry struct {
	extractors []interfaces.Extractor
	byName     map[string]interfaces.Extractor
	logger     arbor.ILogger
}

// NewRegistry constructs the registry with all built-in extractors.
func NewRegistry(config *common.Config, logger arbor.ILogger) *Registry {
	builtins := []interfaces.Extractor{
		NewDoclingExtractor(&config.Extractors.Docling, logger),
		NewMinerUExtractor(&config.Extractors.MinerU, logger),
		NewPdfcpuExtractor(logger),
		NewMistralExtractor(&config.Extractors.Mistral, logger),
	}

	sort.SliceStable(builtins, func(i, j int) bool {
		return builtins[i].Priority() < builtins[j].Priority()
	})

	byName := make(map[string]interfaces.Extractor, len(builtins))
	for _, e := range builtins {
		byName[strings.ToLower(e.Name())] = e
		logger.Info().
			Str("extractor", e.Name()).
			Str("version", e.Version()).
			Int("priority", e.Priority()).
			Bool("available", e.IsAvailable()).
			Msg("Registered extractor")
	}

	return &Registry{
		extractors: builtins,
		byName:     byName,
		logger:     logger,
	}
}

// All returns every registered extractor in priority order
func (r *Registry) All() []interfaces.Extractor {
	out := make([]interfaces.Extractor, len(r.extractors))
	copy(out, r.extractors)
	return out
}

// Available returns extractors passing their availability probe
func (r *Registry) Available() []interfaces.Extractor {
	var out []interfaces.Extractor
	for _, e := range r.extractors {
		if e.IsAvailable() {
			out = append(out, e)
		}
	}
	return out
}

// Get looks up an extractor by name, nil when unknown
func (r *Registry) Get(name string) interfaces.Extractor {
	return r.byName[strings.ToLower(strings.TrimSpace(name))]
}
