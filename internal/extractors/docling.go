// -----------------------------------------------------------------------
// Docling Extractor - Local layout-aware CLI extractor (priority 1)
// -----------------------------------------------------------------------

package extractors

import (
	"context"
	"os"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quorum/internal/common"
	"github.com/ternarybob/quorum/internal/models"
)

const (
	doclingName       = "docling"
	doclingVersion    = "2.x"
	doclingPriority   = 1
	doclingConfidence = 0.92
)

// DoclingExtractor shells out to the docling CLI. It is the most precise
// local extractor and the first choice in fallback order.
type DoclingExtractor struct {
	config *common.DoclingConfig
	logger arbor.ILogger
}

func NewDoclingExtractor(config *common.DoclingConfig, logger arbor.ILogger) *DoclingExtractor {
	return &DoclingExtractor{config: config, logger: logger}
}

func (e *DoclingExtractor) Name() string    { return doclingName }
func (e *DoclingExtractor) Version() string { return doclingVersion }
func (e *DoclingExtractor) Priority() int   { return doclingPriority }
func (e *DoclingExtractor) Remote() bool    { return false }

func (e *DoclingExtractor) Capabilities() models.Capabilities {
	return models.Capabilities{
		SupportsTables:   true,
		SupportsFormulas: true,
		SupportsImages:   true,
		SupportsOCR:      true,
		Precision:        models.LevelHigh,
		Speed:            models.SpeedSlow,
	}
}

func (e *DoclingExtractor) IsAvailable() bool {
	return e.config.Enabled && binaryAvailable(e.config.Binary)
}

func (e *DoclingExtractor) Extract(ctx context.Context, filePath string, opts models.ExtractionOptions) models.CandidateExtraction {
	start := time.Now()

	outDir, err := os.MkdirTemp("", "docling-out-")
	if err != nil {
		return models.FailedCandidate(doclingName, doclingVersion, doclingPriority, models.ErrKindExtractorError, err.Error())
	}
	defer os.RemoveAll(outDir)

	args := []string{"--to", "md", "--output", outDir}
	if !opts.ExtractImages {
		args = append(args, "--image-export-mode", "placeholder")
	}
	if opts.ExtractFormulas {
		args = append(args, "--enrich-formula")
	}
	for _, lang := range opts.OCRLanguages {
		args = append(args, "--ocr-lang", lang)
	}
	args = append(args, filePath)

	if _, err := runCLI(ctx, e.config.Binary, args...); err != nil {
		kind := models.ErrKindExtractorError
		if ctx.Err() == context.DeadlineExceeded {
			kind = models.ErrKindExtractorTimeout
		}
		return models.FailedCandidate(doclingName, doclingVersion, doclingPriority, kind, err.Error())
	}

	markdown, err := findMarkdownOutput(outDir)
	if err != nil {
		return models.FailedCandidate(doclingName, doclingVersion, doclingPriority, models.ErrKindExtractorError, err.Error())
	}

	elapsed := time.Since(start)
	e.logger.Debug().
		Str("extractor", doclingName).
		Int("chars", len(markdown)).
		Dur("elapsed", elapsed).
		Msg("Extraction complete")

	return models.CandidateExtraction{
		ExtractorName:    doclingName,
		ExtractorVersion: doclingVersion,
		Priority:         doclingPriority,
		Markdown:         markdown,
		Confidence:       doclingConfidence,
		ElapsedMs:        elapsed.Milliseconds(),
		Success:          len(markdown) > 0,
	}
}
