// -----------------------------------------------------------------------
// Extractor - Contract consumed by the coordination core
// -----------------------------------------------------------------------

package interfaces

import (
	"context"

	"github.com/ternarybob/quorum/internal/models"
)

// Extractor is one pluggable PDF-to-Markdown engine. Extract never returns
// an error across this boundary: failures are encoded in the returned
// candidate (Success=false plus an error kind). Implementations honor
// context cancellation cooperatively.
type Extractor interface {
	Name() string
	Version() string

	// Priority orders extractors; lower is higher priority
	Priority() int

	Capabilities() models.Capabilities

	// IsAvailable reports whether all runtime prerequisites are present
	IsAvailable() bool

	// Remote reports whether the extractor calls out of process boundaries
	// (hosted OCR); local extractors run on this host
	Remote() bool

	Extract(ctx context.Context, filePath string, opts models.ExtractionOptions) models.CandidateExtraction
}

// ExtractorRegistry enumerates extractors. Initialized once at startup and
// immutable thereafter. Unavailable extractors are listable but never
// selected for work.
type ExtractorRegistry interface {
	// All returns every registered extractor in priority order
	All() []Extractor

	// Available returns extractors passing their availability probe, in
	// priority order
	Available() []Extractor

	// Get looks up an extractor by name, nil when unknown
	Get(name string) Extractor
}
