// -----------------------------------------------------------------------
// Normalizer - Canonical Markdown form shared by all candidates
// Idempotent: applying it to its own output changes nothing
// -----------------------------------------------------------------------

package normalize

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	setextH1       = regexp.MustCompile(`^=+\s*$`)
	setextH2       = regexp.MustCompile(`^-+\s*$`)
	atxHeading     = regexp.MustCompile(`^(#{1,6})\s*(.*?)\s*#*\s*$`)
	bulletMarker   = regexp.MustCompile(`^(\s*)[•●∙‣]\s+`)
	imageRef       = regexp.MustCompile(`!\[([^\]]*)\]\(([^)\s]+)(?:\s+"[^"]*")?\)`)
	htmlComment    = regexp.MustCompile(`<!--[\s\S]*?-->`)
	canonicalImage = regexp.MustCompile(`^images/p(\d+)_(\d+)\.([A-Za-z0-9]+)$`)
	pageHintInPath = regexp.MustCompile(`(?i)(?:page|p)[_-]?(\d+)`)
	tableRow       = regexp.MustCompile(`^\s*\|.*\|\s*$`)
)

// imagePlaceholder is the one HTML comment with structural meaning; it
// marks an image an extractor saw but did not export.
const imagePlaceholder = "<!-- image -->"

// Normalize canonicalizes Markdown for comparison:
//   - LF line endings, trailing whitespace trimmed, runs of blank lines
//     collapsed to one, single trailing newline
//   - setext headings rewritten to ATX form, ATX trailing fences dropped
//   - unicode bullet markers rewritten to "-"
//   - image references rewritten to images/p{page}_{idx}.{ext}
//   - table rows padded to the widest row of their table
//   - HTML comments stripped except the image placeholder
func Normalize(markdown string) string {
	s := strings.ReplaceAll(markdown, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	s = stripComments(s)

	lines := strings.Split(s, "\n")
	lines = rewriteSetext(lines)

	for i, line := range lines {
		line = strings.TrimRight(line, " \t")
		line = bulletMarker.ReplaceAllString(line, "${1}- ")
		if m := atxHeading.FindStringSubmatch(line); m != nil {
			line = m[1] + " " + m[2]
			line = strings.TrimRight(line, " ")
		}
		lines[i] = line
	}

	lines = padTables(lines)
	lines = collapseBlanks(lines)

	s = strings.Join(lines, "\n")
	s = rewriteImageRefs(s)

	s = strings.Trim(s, "\n")
	if s != "" {
		s += "\n"
	}
	return s
}

// stripComments removes HTML comments, keeping image placeholders.
func stripComments(s string) string {
	return htmlComment.ReplaceAllStringFunc(s, func(c string) string {
		if strings.TrimSpace(c) == imagePlaceholder {
			return imagePlaceholder
		}
		return ""
	})
}

// rewriteSetext converts setext headings to ATX form.
func rewriteSetext(lines []string) []string {
	out := make([]string, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		if i+1 < len(lines) && strings.TrimSpace(lines[i]) != "" && !strings.HasPrefix(lines[i], "#") && !tableRow.MatchString(lines[i]) {
			next := lines[i+1]
			if setextH1.MatchString(next) {
				out = append(out, "# "+strings.TrimSpace(lines[i]))
				i++
				continue
			}
			// A bare dash run under list items is a rule, not a heading;
			// only promote when the line looks like a title
			if setextH2.MatchString(next) && len(strings.TrimSpace(next)) >= 2 && !strings.HasPrefix(strings.TrimSpace(lines[i]), "-") {
				out = append(out, "## "+strings.TrimSpace(lines[i]))
				i++
				continue
			}
		}
		out = append(out, lines[i])
	}
	return out
}

// collapseBlanks reduces every run of blank lines to a single blank line
// and guarantees a blank line before each heading.
func collapseBlanks(lines []string) []string {
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blank = true
			continue
		}
		if strings.HasPrefix(line, "#") && len(out) > 0 {
			blank = true
		}
		if blank && len(out) > 0 {
			out = append(out, "")
		}
		out = append(out, line)
		blank = false
	}
	return out
}

// padTables pads every row of a contiguous table to the widest row's cell
// count by appending empty cells.
func padTables(lines []string) []string {
	out := make([]string, len(lines))
	copy(out, lines)

	i := 0
	for i < len(out) {
		if !tableRow.MatchString(out[i]) {
			i++
			continue
		}
		start := i
		for i < len(out) && tableRow.MatchString(out[i]) {
			i++
		}
		padTableRows(out[start:i])
	}
	return out
}

func padTableRows(rows []string) {
	width := 0
	parsed := make([][]string, len(rows))
	for i, row := range rows {
		cells := splitRow(row)
		parsed[i] = cells
		if len(cells) > width {
			width = len(cells)
		}
	}
	for i, cells := range parsed {
		for len(cells) < width {
			cells = append(cells, "")
		}
		separator := false
		for _, c := range cells {
			trimmed := strings.TrimSpace(c)
			if trimmed == "" {
				continue
			}
			if strings.Trim(trimmed, ":-") == "" {
				separator = true
			} else {
				separator = false
				break
			}
		}
		if separator {
			for j := range cells {
				if strings.TrimSpace(cells[j]) == "" {
					cells[j] = "---"
				}
			}
		}
		rows[i] = "| " + strings.Join(cells, " | ") + " |"
	}
}

// splitRow splits a table row into trimmed cells, dropping the outer pipes.
func splitRow(row string) []string {
	trimmed := strings.TrimSpace(row)
	trimmed = strings.TrimPrefix(trimmed, "|")
	trimmed = strings.TrimSuffix(trimmed, "|")
	parts := strings.Split(trimmed, "|")
	cells := make([]string, len(parts))
	for i, p := range parts {
		cells[i] = strings.TrimSpace(p)
	}
	return cells
}

// rewriteImageRefs rewrites every image reference to the stable relative
// form images/p{page}_{idx}.{ext}. The page comes from a hint in the
// original path when present; the index is the order of appearance within
// the page.
func rewriteImageRefs(s string) string {
	perPage := map[int]int{}
	return imageRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := imageRef.FindStringSubmatch(ref)
		alt, path := m[1], m[2]

		page := 1
		if cm := canonicalImage.FindStringSubmatch(path); cm != nil {
			fmt.Sscanf(cm[1], "%d", &page)
		} else if pm := pageHintInPath.FindStringSubmatch(path); pm != nil {
			fmt.Sscanf(pm[1], "%d", &page)
		}

		ext := "png"
		if dot := strings.LastIndex(path, "."); dot >= 0 && dot < len(path)-1 {
			ext = strings.ToLower(path[dot+1:])
		}

		idx := perPage[page]
		perPage[page]++
		return fmt.Sprintf("![%s](images/p%d_%d.%s)", alt, page, idx, ext)
	})
}
