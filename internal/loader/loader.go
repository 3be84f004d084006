package loader

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	appErr "github.com/xxxsen/docqa/internal/pkg/errors"
)

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Supported reports whether a file name has an extension the loader reads.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".md", ".markdown", "":
		return true
	}
	return false
}

// Load converts raw document bytes into plain text. Markdown is flattened to
// its text with blocks separated by blank lines.
func Load(name string, data []byte) (string, error) {
	if !Supported(name) {
		return "", fmt.Errorf("unsupported document type %q: %w", filepath.Ext(name), appErr.ErrInvalid)
	}
	if !utf8.Valid(data) || bytes.IndexByte(data, 0) >= 0 {
		return "", fmt.Errorf("document is not utf-8 text: %w", appErr.ErrInvalid)
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		return markdownText(data), nil
	default:
		return string(data), nil
	}
}

func markdownText(source []byte) string {
	doc := goldmark.New().Parser().Parse(text.NewReader(source))
	var sb strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch n.Kind() {
		case ast.KindText:
			if entering {
				t := n.(*ast.Text)
				sb.Write(t.Segment.Value(source))
				if t.SoftLineBreak() || t.HardLineBreak() {
					sb.WriteByte('\n')
				}
			}
		case ast.KindFencedCodeBlock, ast.KindCodeBlock:
			if !entering {
				sb.WriteString("\n\n")
				return ast.WalkContinue, nil
			}
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				line := lines.At(i)
				sb.Write(line.Value(source))
			}
			return ast.WalkSkipChildren, nil
		case ast.KindParagraph, ast.KindHeading:
			if !entering {
				sb.WriteString("\n\n")
			}
		case ast.KindTextBlock, ast.KindList:
			if !entering {
				sb.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(blankRuns.ReplaceAllString(sb.String(), "\n\n"))
}
