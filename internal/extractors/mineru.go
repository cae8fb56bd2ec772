// -----------------------------------------------------------------------
// MinerU Extractor - Local scientific-document CLI extractor (priority 2)
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
	mineruName       = "mineru"
	mineruVersion    = "1.x"
	mineruPriority   = 2
	mineruConfidence = 0.85
)

// MinerUExtractor shells out to the mineru CLI. Strong on formulas and
// scanned scientific documents, slower than docling on plain text.
type MinerUExtractor struct {
	config *common.MinerUConfig
	logger arbor.ILogger
}

func NewMinerUExtractor(config *common.MinerUConfig, logger arbor.ILogger) *MinerUExtractor {
	return &MinerUExtractor{config: config, logger: logger}
}

func (e *MinerUExtractor) Name() string    { return mineruName }
func (e *MinerUExtractor) Version() string { return mineruVersion }
func (e *MinerUExtractor) Priority() int   { return mineruPriority }
func (e *MinerUExtractor) Remote() bool    { return false }

func (e *MinerUExtractor) Capabilities() models.Capabilities {
	return models.Capabilities{
		SupportsTables:   true,
		SupportsFormulas: true,
		SupportsImages:   true,
		SupportsOCR:      true,
		Precision:        models.LevelMedium,
		Speed:            models.SpeedSlow,
	}
}

func (e *MinerUExtractor) IsAvailable() bool {
	return e.config.Enabled && binaryAvailable(e.config.Binary)
}

func (e *MinerUExtractor) Extract(ctx context.Context, filePath string, opts models.ExtractionOptions) models.CandidateExtraction {
	start := time.Now()

	outDir, err := os.MkdirTemp("", "mineru-out-")
	if err != nil {
		return models.FailedCandidate(mineruName, mineruVersion, mineruPriority, models.ErrKindExtractorError, err.Error())
	}
	defer os.RemoveAll(outDir)

	args := []string{"-p", filePath, "-o", outDir}
	if opts.ExtractFormulas {
		args = append(args, "-f", "true")
	}
	if opts.ExtractTables {
		args = append(args, "-t", "true")
	}

	if _, err := runCLI(ctx, e.config.Binary, args...); err != nil {
		kind := models.ErrKindExtractorError
		if ctx.Err() == context.DeadlineExceeded {
			kind = models.ErrKindExtractorTimeout
		}
		return models.FailedCandidate(mineruName, mineruVersion, mineruPriority, kind, err.Error())
	}

	markdown, err := findMarkdownOutput(outDir)
	if err != nil {
		return models.FailedCandidate(mineruName, mineruVersion, mineruPriority, models.ErrKindExtractorError, err.Error())
	}

	elapsed := time.Since(start)
	e.logger.Debug().
		Str("extractor", mineruName).
		Int("chars", len(markdown)).
		Dur("elapsed", elapsed).
		Msg("Extraction complete")

	return models.CandidateExtraction{
		ExtractorName:    mineruName,
		ExtractorVersion: mineruVersion,
		Priority:         mineruPriority,
		Markdown:         markdown,
		Confidence:       mineruConfidence,
		ElapsedMs:        elapsed.Milliseconds(),
		Success:          len(markdown) > 0,
	}
}
