package ingest

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunker splits text into chunks suitable for embedding.
type Chunker interface {
	Chunk(text string) []string
}

// ChunkerOption configures a chunker implementation.
type ChunkerOption func(*chunkerConfig)

type chunkerConfig struct {
	chunkTokens   int
	overlapTokens int
	maxChunks     int
	maxChars      int
}

func defaultChunkerConfig() chunkerConfig {
	return chunkerConfig{chunkTokens: 800, overlapTokens: 100, maxChunks: 500, maxChars: 6000}
}

// WithChunkTokens sets the window size in whitespace-delimited tokens.
func WithChunkTokens(n int) ChunkerOption {
	return func(c *chunkerConfig) { c.chunkTokens = n }
}

// WithOverlapTokens sets the overlap between consecutive windows in tokens.
func WithOverlapTokens(n int) ChunkerOption {
	return func(c *chunkerConfig) { c.overlapTokens = n }
}

// WithMaxChunks caps the number of chunks produced per document, bounding
// worst-case cost on pathological inputs.
func WithMaxChunks(n int) ChunkerOption {
	return func(c *chunkerConfig) { c.maxChunks = n }
}

// WithMaxChars caps each chunk's character count before it is handed to
// the embedding stage. Zero disables the cap.
func WithMaxChars(n int) ChunkerOption {
	return func(c *chunkerConfig) { c.maxChars = n }
}

// WindowChunker slides a fixed-size token window over the text, moving
// forward by (size - overlap) tokens per step. Tokens keep their trailing
// whitespace, so joining a window reconstructs the original spacing.
type WindowChunker struct {
	cfg chunkerConfig
}

var _ Chunker = (*WindowChunker)(nil)

// NewWindowChunker creates a WindowChunker with the given options.
// Defaults: 800-token windows, 100-token overlap, at most 500 chunks per
// document, 6000 characters per chunk.
func NewWindowChunker(opts ...ChunkerOption) *WindowChunker {
	cfg := defaultChunkerConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &WindowChunker{cfg: cfg}
}

// Chunk splits text into overlapping windows. Empty or all-whitespace
// input yields no chunks. The step size is floored at 1 so an overlap
// greater than or equal to the window size still makes forward progress.
func (wc *WindowChunker) Chunk(text string) []string {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	step := wc.cfg.chunkTokens - wc.cfg.overlapTokens
	if step < 1 {
		step = 1
	}

	var chunks []string
	for start := 0; start < len(tokens); start += step {
		end := start + wc.cfg.chunkTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		window := strings.TrimSpace(strings.Join(tokens[start:end], ""))
		if window != "" {
			chunks = append(chunks, truncateChars(window, wc.cfg.maxChars))
		}
		if wc.cfg.maxChunks > 0 && len(chunks) >= wc.cfg.maxChunks {
			break
		}
		if end == len(tokens) {
			break
		}
	}
	return chunks
}

// tokenize splits text into tokens of one non-whitespace run plus its
// trailing whitespace. Leading whitespace is dropped; concatenating the
// tokens reproduces the rest of the input byte-for-byte.
func tokenize(text string) []string {
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !unicode.IsSpace(r) {
			break
		}
		i += size
	}

	var tokens []string
	for i < len(text) {
		j := i
		for j < len(text) {
			r, size := utf8.DecodeRuneInString(text[j:])
			if unicode.IsSpace(r) {
				break
			}
			j += size
		}
		for j < len(text) {
			r, size := utf8.DecodeRuneInString(text[j:])
			if !unicode.IsSpace(r) {
				break
			}
			j += size
		}
		tokens = append(tokens, text[i:j])
		i = j
	}
	return tokens
}

// truncateChars trims s to at most max runes, then trims trailing
// whitespace left by the cut. max <= 0 disables truncation.
func truncateChars(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return strings.TrimSpace(s[:i])
		}
		n++
	}
	return s
}
