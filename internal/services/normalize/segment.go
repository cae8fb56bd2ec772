// -----------------------------------------------------------------------
// Segmenter - Normalized Markdown to typed block sequence
// -----------------------------------------------------------------------

package normalize

import (
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"

	"github.com/ternarybob/quorum/internal/common"
	"github.com/ternarybob/quorum/internal/models"
)

var segmentParser = goldmark.New(
	goldmark.WithExtensions(extension.Table),
	goldmark.WithParserOptions(parser.WithAttribute()),
)

// Segment parses normalized Markdown into an ordered block sequence. Each
// top-level node becomes one block; tables and images also populate their
// structured side tables so the comparator can align them by shape.
func Segment(markdown string) ([]models.Block, []models.Table, []models.ImageRef) {
	source := []byte(markdown)
	doc := segmentParser.Parser().Parse(text.NewReader(source))

	var blocks []models.Block
	var tables []models.Table
	var images []models.ImageRef

	order := 0
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		raw := nodeText(node, source)
		if strings.TrimSpace(raw) == "" {
			continue
		}

		block := models.Block{
			Kind:  classify(node, raw),
			Text:  raw,
			Order: order,
		}

		switch block.Kind {
		case models.BlockTable:
			if t, ok := node.(*east.Table); ok {
				table := tableModel(t, source)
				block.PageHint = table.PageHint
				tables = append(tables, table)
			}
		case models.BlockImage:
			if ref := firstImageRef(raw); ref != nil {
				block.PageHint = intPtr(ref.Page)
				images = append(images, *ref)
			}
		}

		block.ContentHash = common.HashBytes([]byte(block.Text))
		blocks = append(blocks, block)
		order++
	}
	return blocks, tables, images
}

// classify maps a goldmark node to a block kind. Paragraphs holding only
// an image reference or placeholder count as image blocks; display math
// fenced by $$ counts as formula.
func classify(node ast.Node, raw string) models.BlockKind {
	switch node.(type) {
	case *ast.Heading:
		return models.BlockHeading
	case *ast.List:
		return models.BlockList
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		return models.BlockCode
	case *east.Table:
		return models.BlockTable
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed == imagePlaceholder {
		return models.BlockImage
	}
	if imageRef.MatchString(trimmed) && strings.TrimSpace(imageRef.ReplaceAllString(trimmed, "")) == "" {
		return models.BlockImage
	}
	if strings.HasPrefix(trimmed, "$$") && strings.HasSuffix(trimmed, "$$") && len(trimmed) > 4 {
		return models.BlockFormula
	}
	return models.BlockParagraph
}

// nodeText reconstructs the source text of a top-level node from its line
// segments. Falls back to walking inline children for nodes without lines.
func nodeText(node ast.Node, source []byte) string {
	if node.Type() == ast.TypeBlock && node.Lines().Len() > 0 {
		var sb strings.Builder
		lines := node.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			sb.Write(seg.Value(source))
		}
		// Container blocks (lists, tables) keep line content on children
		text := strings.TrimRight(sb.String(), "\n")
		if text != "" {
			return text
		}
	}

	var sb strings.Builder
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.Text:
			sb.Write(v.Segment.Value(source))
			if v.SoftLineBreak() || v.HardLineBreak() {
				sb.WriteByte('\n')
			}
		case *ast.Image:
			sb.WriteString("![")
			sb.Write(childText(v, source))
			sb.WriteString("](")
			sb.Write(v.Destination)
			sb.WriteString(")")
			return ast.WalkSkipChildren, nil
		case *ast.ListItem:
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString("- ")
		case *east.TableRow, *east.TableHeader:
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
		case *east.TableCell:
			sb.WriteString("| ")
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}

func childText(node ast.Node, source []byte) []byte {
	var sb strings.Builder
	for c := node.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
		}
	}
	return []byte(sb.String())
}

// tableModel converts a goldmark table node into the structured row model.
func tableModel(t *east.Table, source []byte) models.Table {
	var rows [][]string
	for section := t.FirstChild(); section != nil; section = section.NextSibling() {
		switch sec := section.(type) {
		case *east.TableHeader:
			rows = append(rows, cellTexts(sec, source))
		case *east.TableRow:
			rows = append(rows, cellTexts(sec, source))
		}
	}

	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	for i, r := range rows {
		for len(r) < width {
			r = append(r, "")
		}
		rows[i] = r
	}
	return models.Table{Rows: rows}
}

func cellTexts(row ast.Node, source []byte) []string {
	var cells []string
	for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
		cells = append(cells, strings.TrimSpace(string(childText(cell, source))))
	}
	return cells
}

// firstImageRef parses the canonical image path out of an image block.
func firstImageRef(raw string) *models.ImageRef {
	m := imageRef.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	path := m[2]
	cm := canonicalImage.FindStringSubmatch(path)
	if cm == nil {
		return &models.ImageRef{Path: path, Page: 1}
	}
	page := 1
	if p, err := strconv.Atoi(cm[1]); err == nil {
		page = p
	}
	return &models.ImageRef{Path: path, Page: page}
}

func intPtr(v int) *int { return &v }
