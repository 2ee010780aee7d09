package pernai

import "context"

// ChunkStore abstracts persistence with vector search over chunks.
// Chunk ids are unique within the store; the Source field groups chunks
// into logical documents and is the delete key.
type ChunkStore interface {
	// UpsertChunks inserts or replaces chunks by id in one operation.
	UpsertChunks(ctx context.Context, chunks []Chunk) error
	// DeleteSource removes every chunk whose Source equals source,
	// compared case-insensitively: chunk ids are derived from the
	// lower-cased filename, so case variants of one filename are the
	// same logical document. Deleting a source with no chunks is a
	// no-op, not an error.
	DeleteSource(ctx context.Context, source string) (int, error)
	// ListSources returns the distinct sources present in the store
	// with per-source chunk counts.
	ListSources(ctx context.Context) ([]SourceInfo, error)
	// SearchChunks returns the topK chunks nearest to embedding.
	SearchChunks(ctx context.Context, embedding []float32, topK int) ([]ScoredChunk, error)
	// CountChunks returns the total number of stored chunks.
	CountChunks(ctx context.Context) (int, error)

	// --- Lifecycle ---
	Init(ctx context.Context) error
	Close() error
}

// KeywordSearcher is an optional ChunkStore capability for full-text
// keyword search. Callers discover it via type assertion.
type KeywordSearcher interface {
	SearchChunksKeyword(ctx context.Context, query string, topK int) ([]ScoredChunk, error)
}
