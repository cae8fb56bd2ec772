// -----------------------------------------------------------------------
// Pdfcpu Extractor - In-process Go-native text extractor (priority 3)
// Always available; the safety net when no CLI extractor is installed
// -----------------------------------------------------------------------

package extractors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quorum/internal/models"
)

const (
	pdfcpuName       = "pdfcpu"
	pdfcpuVersion    = "0.11"
	pdfcpuPriority   = 3
	pdfcpuConfidence = 0.60
)

// PdfcpuExtractor extracts raw text content with pdfcpu. No layout
// analysis, no OCR: every page's content streams are dumped and wrapped
// into paragraphs. Precision is low but the extractor has no external
// prerequisites, which makes it the guaranteed fallback.
type PdfcpuExtractor struct {
	logger  arbor.ILogger
	tempDir string
}

func NewPdfcpuExtractor(logger arbor.ILogger) *PdfcpuExtractor {
	tempDir := filepath.Join(os.TempDir(), "quorum-pdfcpu")
	os.MkdirAll(tempDir, 0755)
	return &PdfcpuExtractor{logger: logger, tempDir: tempDir}
}

func (e *PdfcpuExtractor) Name() string     { return pdfcpuName }
func (e *PdfcpuExtractor) Version() string  { return pdfcpuVersion }
func (e *PdfcpuExtractor) Priority() int    { return pdfcpuPriority }
func (e *PdfcpuExtractor) Remote() bool     { return false }
func (e *PdfcpuExtractor) IsAvailable() bool { return true }

func (e *PdfcpuExtractor) Capabilities() models.Capabilities {
	return models.Capabilities{
		SupportsTables:   false,
		SupportsFormulas: false,
		SupportsImages:   false,
		SupportsOCR:      false,
		Precision:        models.LevelLow,
		Speed:            models.SpeedFast,
	}
}

func (e *PdfcpuExtractor) Extract(ctx context.Context, filePath string, opts models.ExtractionOptions) models.CandidateExtraction {
	start := time.Now()

	pdfCtx, err := api.ReadContextFile(filePath)
	if err != nil {
		return models.FailedCandidate(pdfcpuName, pdfcpuVersion, pdfcpuPriority, models.ErrKindExtractorError,
			fmt.Sprintf("read pdf context: %v", err))
	}
	pageCount := pdfCtx.PageCount

	outDir, err := os.MkdirTemp(e.tempDir, "pages-")
	if err != nil {
		return models.FailedCandidate(pdfcpuName, pdfcpuVersion, pdfcpuPriority, models.ErrKindExtractorError, err.Error())
	}
	defer os.RemoveAll(outDir)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(filePath, outDir, nil, conf); err != nil {
		return models.FailedCandidate(pdfcpuName, pdfcpuVersion, pdfcpuPriority, models.ErrKindExtractorError,
			fmt.Sprintf("extract content: %v", err))
	}
	if ctx.Err() != nil {
		return models.FailedCandidate(pdfcpuName, pdfcpuVersion, pdfcpuPriority, models.ErrKindExtractorTimeout, ctx.Err().Error())
	}

	pageTexts := readContentPages(outDir)

	var builder strings.Builder
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		text := strings.TrimSpace(contentToText(pageTexts[pageNum]))
		if text == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(text)
	}
	markdown := builder.String()

	elapsed := time.Since(start)
	e.logger.Debug().
		Str("extractor", pdfcpuName).
		Int("pages", pageCount).
		Int("chars", len(markdown)).
		Dur("elapsed", elapsed).
		Msg("Extraction complete")

	candidate := models.CandidateExtraction{
		ExtractorName:    pdfcpuName,
		ExtractorVersion: pdfcpuVersion,
		Priority:         pdfcpuPriority,
		Markdown:         markdown,
		Confidence:       pdfcpuConfidence,
		ElapsedMs:        elapsed.Milliseconds(),
		PageCount:        pageCount,
		Success:          len(markdown) > 0,
	}
	if !candidate.Success {
		candidate.ErrorKind = models.ErrKindExtractorError
		candidate.ErrorMessage = "no extractable text (document may be scanned)"
	}
	return candidate
}

// readContentPages maps page number to raw content stream text.
func readContentPages(outDir string) map[int]string {
	pageTexts := make(map[int]string)
	files, _ := os.ReadDir(outDir)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outDir, file.Name()))
		if err != nil {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(file.Name(), "Content_page_%d", &pageNum); err == nil {
			pageTexts[pageNum] = string(content)
		} else if _, err := fmt.Sscanf(file.Name(), "page_%d", &pageNum); err == nil {
			pageTexts[pageNum] = string(content)
		}
	}
	return pageTexts
}

// contentToText pulls the literal strings out of a PDF content stream.
// Show operators (Tj, TJ) carry text in parenthesized literals.
func contentToText(stream string) string {
	var out strings.Builder
	depth := 0
	escaped := false
	for i := 0; i < len(stream); i++ {
		c := stream[i]
		if depth > 0 {
			if escaped {
				switch c {
				case 'n':
					out.WriteByte('\n')
				case 't':
					out.WriteByte('\t')
				case '(', ')', '\\':
					out.WriteByte(c)
				}
				escaped = false
				continue
			}
			switch c {
			case '\\':
				escaped = true
			case '(':
				depth++
				out.WriteByte(c)
			case ')':
				depth--
				if depth > 0 {
					out.WriteByte(c)
				} else {
					out.WriteByte(' ')
				}
			default:
				out.WriteByte(c)
			}
			continue
		}
		if c == '(' {
			depth = 1
		}
	}
	return out.String()
}
