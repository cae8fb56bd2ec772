// -----------------------------------------------------------------------
// Structural Probe - Extractor-independent document signals via pdfcpu
// -----------------------------------------------------------------------

package complexity

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// probeSamplePages caps how many pages the probe inspects. Signals from the
// sample are extrapolated; a 500 page document is not fully parsed just to
// route it.
const probeSamplePages = 10

// ProbeResult carries the raw structural signals feeding the scorer. The
// signals come from pdfcpu content streams, not from any extractor, so the
// same report routes every pipeline.
type ProbeResult struct {
	PageCount     int
	TableCount    int
	MaxColumns    int
	ImagesPerPage float64
	FormulaCount  int
	ScannedRatio  float64
}

// probeFile inspects the document structure.
func probeFile(filePath string) (*ProbeResult, error) {
	pdfCtx, err := api.ReadContextFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read pdf context: %w", err)
	}
	pageCount := pdfCtx.PageCount
	if pageCount == 0 {
		return nil, fmt.Errorf("document has no pages")
	}

	outDir, err := os.MkdirTemp("", "quorum-probe-")
	if err != nil {
		return nil, fmt.Errorf("create probe dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	sample := pageCount
	if sample > probeSamplePages {
		sample = probeSamplePages
	}
	selected := make([]string, 0, sample)
	for p := 1; p <= sample; p++ {
		selected = append(selected, strconv.Itoa(p))
	}

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(filePath, outDir, selected, conf); err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}

	result := &ProbeResult{PageCount: pageCount}
	scannedPages := 0
	totalImages := 0

	files, _ := os.ReadDir(outDir)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(outDir, file.Name()))
		if err != nil {
			continue
		}
		stream := string(data)

		text := streamText(stream)
		if len(strings.TrimSpace(text)) < 20 {
			scannedPages++
		}

		totalImages += countXObjectDraws(stream)
		result.TableCount += countTabularLines(text)
		result.FormulaCount += countFormulaSignals(text)

		if cols := estimateColumns(stream); cols > result.MaxColumns {
			result.MaxColumns = cols
		}
	}

	if sample > 0 {
		result.ImagesPerPage = float64(totalImages) / float64(sample)
		result.ScannedRatio = float64(scannedPages) / float64(sample)
	}
	if result.MaxColumns == 0 {
		result.MaxColumns = 1
	}
	return result, nil
}

// streamText pulls the literal show-operator strings out of a content
// stream. Good enough for density checks, not for reading order.
func streamText(stream string) string {
	var out strings.Builder
	depth := 0
	escaped := false
	for i := 0; i < len(stream); i++ {
		c := stream[i]
		if depth > 0 {
			if escaped {
				escaped = false
				out.WriteByte(c)
				continue
			}
			switch c {
			case '\\':
				escaped = true
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
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

// countXObjectDraws counts Do operators, the draws of form and image
// XObjects. Overcounts vector forms; acceptable as a density signal.
func countXObjectDraws(stream string) int {
	count := 0
	fields := strings.Fields(stream)
	for _, f := range fields {
		if f == "Do" {
			count++
		}
	}
	return count
}

// countTabularLines counts text lines with three or more gap-separated
// runs, the footprint column-aligned tables leave in extracted text.
func countTabularLines(text string) int {
	tables := 0
	run := 0
	for _, line := range strings.Split(text, "\n") {
		if len(strings.Split(line, "  ")) >= 3 {
			run++
		} else {
			if run >= 3 {
				tables++
			}
			run = 0
		}
	}
	if run >= 3 {
		tables++
	}
	return tables
}

// countFormulaSignals looks for mathematical notation in the sampled text.
func countFormulaSignals(text string) int {
	count := 0
	for _, marker := range []string{"∑", "∫", "√", "≈", "≤", "≥", "±", "∂", "α", "β", "λ", "Δ"} {
		count += strings.Count(text, marker)
	}
	return count
}

// estimateColumns clusters the x translations of text matrix operators.
// Two or more well-separated clusters of line starts indicate a multi
// column layout.
func estimateColumns(stream string) int {
	var xs []float64
	fields := strings.Fields(stream)
	for i, f := range fields {
		if f != "Tm" || i < 6 {
			continue
		}
		// Tm takes six operands; the fifth is the x translation
		if x, err := strconv.ParseFloat(fields[i-2], 64); err == nil {
			xs = append(xs, x)
		}
	}
	if len(xs) < 4 {
		return 1
	}
	sort.Float64s(xs)

	const clusterGap = 120.0 // points between column starts
	columns := 1
	last := xs[0]
	for _, x := range xs[1:] {
		if x-last > clusterGap {
			columns++
		}
		last = x
	}
	if columns > 4 {
		columns = 4
	}
	return columns
}
