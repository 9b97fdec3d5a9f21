package analysis

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var binaryFormats = map[string]bool{
	".pdf":  true,
	".docx": true,
	".doc":  true,
	".odt":  true,
	".rtf":  true,
}

// ParseDocument returns the plain text of a requirements document.
// Markdown is flattened to text; other UTF-8 files are returned as is.
func ParseDocument(filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if binaryFormats[ext] {
		return "", fmt.Errorf("unsupported document format %q: convert it to text or markdown first", ext)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return "", fmt.Errorf("reading document: %w", err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("document %s is not valid UTF-8 text", filename)
	}

	switch ext {
	case ".md", ".markdown":
		return MarkdownText(data), nil
	default:
		return strings.TrimSpace(string(data)), nil
	}
}

// MarkdownText flattens markdown into plain text, one block per line.
// Headings keep their leading hashes so the section structure survives.
func MarkdownText(src []byte) string {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Heading:
			if entering {
				buf.WriteString(strings.Repeat("#", node.Level))
				buf.WriteByte(' ')
			} else {
				buf.WriteByte('\n')
			}
		case *ast.ListItem:
			if entering {
				buf.WriteString("- ")
			}
		case *ast.Paragraph, *ast.TextBlock:
			if !entering {
				buf.WriteByte('\n')
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					buf.Write(seg.Value(src))
				}
				return ast.WalkSkipChildren, nil
			}
		case *ast.Text:
			if entering {
				buf.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					buf.WriteByte(' ')
				}
			}
		case *ast.String:
			if entering {
				buf.Write(node.Value)
			}
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(buf.String())
}
