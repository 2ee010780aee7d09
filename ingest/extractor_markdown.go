package ingest

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// MarkdownExtractor parses markdown with goldmark and walks the AST,
// keeping text content (including code block bodies) and dropping all
// formatting markup.
type MarkdownExtractor struct {
	md goldmark.Markdown
}

var _ Extractor = (*MarkdownExtractor)(nil)

// NewMarkdownExtractor creates a markdown extractor.
func NewMarkdownExtractor() *MarkdownExtractor {
	return &MarkdownExtractor{
		md: goldmark.New(goldmark.WithExtensions(extension.Strikethrough, extension.Table)),
	}
}

// Extract returns the plain text of a markdown document.
func (e *MarkdownExtractor) Extract(content []byte) (string, error) {
	root := e.md.Parser().Parse(text.NewReader(content))

	var buf strings.Builder
	err := ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				buf.WriteString("\n\n")
			}
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(content))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteByte('\n')
			}
		case *ast.FencedCodeBlock:
			writeBlockLines(&buf, content, node)
		case *ast.CodeBlock:
			writeBlockLines(&buf, content, node)
		case *ast.AutoLink:
			buf.Write(node.URL(content))
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}

	return collapseWhitespace(buf.String()), nil
}

// writeBlockLines copies a code block's raw lines into buf.
func writeBlockLines(buf *strings.Builder, source []byte, n interface{ Lines() *text.Segments }) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
}
