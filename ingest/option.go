package ingest

import (
	"log/slog"
	"time"
)

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithChunker sets the chunker (default: NewWindowChunker()).
func WithChunker(c Chunker) Option {
	return func(ing *Ingestor) { ing.chunker = c }
}

// WithBatchSize sets the number of chunks per Embed() call (default 64).
func WithBatchSize(n int) Option {
	return func(ing *Ingestor) {
		if n > 0 {
			ing.batchSize = n
		}
	}
}

// WithExtractor registers an Extractor for a given ContentType.
func WithExtractor(ct ContentType, e Extractor) Option {
	return func(ing *Ingestor) { ing.extractors[ct] = e }
}

// WithOpTimeout bounds each embedding batch call and each store
// operation (default 60s). Zero disables the bound.
func WithOpTimeout(d time.Duration) Option {
	return func(ing *Ingestor) { ing.opTimeout = d }
}

// WithLogger sets a structured logger for ingest progress and failures.
// If not set, no logs are emitted.
func WithLogger(l *slog.Logger) Option {
	return func(ing *Ingestor) { ing.logger = l }
}
