package ingest

import (
	"bytes"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
)

// HTMLExtractor extracts readable text from HTML documents via
// go-readability, falling back to simple tag stripping when the
// readability heuristics find no article content.
type HTMLExtractor struct{}

var _ Extractor = (*HTMLExtractor)(nil)

// htmlBaseURL anchors relative links for readability; uploads have no
// real origin.
var htmlBaseURL, _ = url.Parse("https://localhost/")

func (HTMLExtractor) Extract(content []byte) (string, error) {
	article, err := readability.FromReader(bytes.NewReader(content), htmlBaseURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return collapseWhitespace(article.TextContent), nil
	}
	return collapseWhitespace(stripTags(string(content))), nil
}

// stripTags removes markup, skipping script and style bodies entirely.
func stripTags(content string) string {
	var result strings.Builder
	result.Grow(len(content))

	inTag := false
	collecting := false
	skipDepth := 0
	var tagName strings.Builder

	i := 0
	for i < len(content) {
		r, size := utf8.DecodeRuneInString(content[i:])

		if r == '<' {
			inTag = true
			collecting = true
			tagName.Reset()
			i += size
			continue
		}
		if inTag {
			if r == '>' {
				inTag = false
				switch strings.ToLower(tagName.String()) {
				case "script", "style":
					skipDepth++
				case "/script", "/style":
					if skipDepth > 0 {
						skipDepth--
					}
				}
				result.WriteByte('\n')
			} else if unicode.IsSpace(r) {
				collecting = false
			} else if collecting {
				tagName.WriteRune(r)
			}
			i += size
			continue
		}
		if skipDepth == 0 {
			result.WriteRune(r)
		}
		i += size
	}

	return result.String()
}
