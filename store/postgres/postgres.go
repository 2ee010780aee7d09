// Package postgres implements pernai.ChunkStore using PostgreSQL with
// pgvector for native vector similarity search and tsvector for
// full-text keyword search.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pernai/pernai"
)

// Store implements pernai.ChunkStore backed by PostgreSQL with pgvector.
// Vector search uses an HNSW index with cosine distance.
type Store struct {
	pool *pgxpool.Pool
	cfg  pgConfig
}

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	embeddingDimension int // 0 = untyped vector column
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
	hnswEFSearch       int // 0 = pgvector default (40)
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

// WithEmbeddingDimension sets the vector column dimension (e.g. 1536, 768).
// When set, CREATE TABLE uses vector(N) instead of untyped vector, enabling
// better index optimization and catching dimension mismatches at insert time.
// Only affects new table creation (no ALTER on existing tables).
func WithEmbeddingDimension(dim int) Option {
	return func(c *pgConfig) { c.embeddingDimension = dim }
}

// WithHNSWM sets the HNSW m parameter (max connections per node).
// Higher values improve recall at the cost of memory. Default: pgvector's 16.
func WithHNSWM(m int) Option {
	return func(c *pgConfig) { c.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction parameter (build-time
// candidate list size). Higher values improve index quality at the cost of
// slower builds. Default: pgvector's 64.
func WithEFConstruction(ef int) Option {
	return func(c *pgConfig) { c.hnswEFConstruction = ef }
}

// WithEFSearch sets the HNSW ef_search parameter (query-time candidate
// list size). Higher values improve recall at the cost of latency.
// Default: pgvector's 40. Applied via SET during Init().
func WithEFSearch(ef int) Option {
	return func(c *pgConfig) { c.hnswEFSearch = ef }
}

var _ pernai.ChunkStore = (*Store)(nil)
var _ pernai.KeywordSearcher = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	var cfg pgConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg}
}

// vectorType returns "vector" or "vector(N)" depending on config.
func (s *Store) vectorType() string {
	if s.cfg.embeddingDimension > 0 {
		return fmt.Sprintf("vector(%d)", s.cfg.embeddingDimension)
	}
	return "vector"
}

// hnswWithClause returns the WITH (...) clause for HNSW index creation,
// or an empty string if no tuning params are set.
func (s *Store) hnswWithClause() string {
	var parts []string
	if s.cfg.hnswM > 0 {
		parts = append(parts, fmt.Sprintf("m = %d", s.cfg.hnswM))
	}
	if s.cfg.hnswEFConstruction > 0 {
		parts = append(parts, fmt.Sprintf("ef_construction = %d", s.cfg.hnswEFConstruction))
	}
	if len(parts) == 0 {
		return ""
	}
	return " WITH (" + strings.Join(parts, ", ") + ")"
}

// Init creates the pgvector extension, the chunks table, and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	vtype := s.vectorType()
	hnswWith := s.hnswWithClause()

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding %s
		)`, vtype),
		`CREATE INDEX IF NOT EXISTS chunks_source_idx ON chunks(source)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS chunks_embedding_idx ON chunks USING hnsw (embedding vector_cosine_ops)%s`, hnswWith),
		`CREATE INDEX IF NOT EXISTS chunks_fts_idx ON chunks USING gin(to_tsvector('english', content))`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}

	if s.cfg.hnswEFSearch > 0 {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("SET hnsw.ef_search = %d", s.cfg.hnswEFSearch)); err != nil {
			return fmt.Errorf("postgres: set ef_search: %w", err)
		}
	}

	return nil
}

// UpsertChunks inserts or replaces chunks in a single transaction.
func (s *Store) UpsertChunks(ctx context.Context, chunks []pernai.Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, chunk := range chunks {
		if len(chunk.Embedding) > 0 {
			embStr := serializeEmbedding(chunk.Embedding)
			_, err = tx.Exec(ctx,
				`INSERT INTO chunks (id, source, ordinal, content, embedding)
				 VALUES ($1, $2, $3, $4, $5::vector)
				 ON CONFLICT (id) DO UPDATE SET
				   source = EXCLUDED.source,
				   ordinal = EXCLUDED.ordinal,
				   content = EXCLUDED.content,
				   embedding = EXCLUDED.embedding`,
				chunk.ID, chunk.Source, chunk.Ordinal, chunk.Content, embStr)
		} else {
			_, err = tx.Exec(ctx,
				`INSERT INTO chunks (id, source, ordinal, content, embedding)
				 VALUES ($1, $2, $3, $4, NULL)
				 ON CONFLICT (id) DO UPDATE SET
				   source = EXCLUDED.source,
				   ordinal = EXCLUDED.ordinal,
				   content = EXCLUDED.content,
				   embedding = NULL`,
				chunk.ID, chunk.Source, chunk.Ordinal, chunk.Content)
		}
		if err != nil {
			return fmt.Errorf("postgres: insert chunk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// DeleteSource removes every chunk for the given source and returns the
// number of chunks deleted. Matching ignores filename case: chunk ids
// are derived from the lower-cased filename, so case variants of one
// filename are the same logical document. Unknown sources delete zero
// rows without error.
func (s *Store) DeleteSource(ctx context.Context, source string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE lower(source) = lower($1)`, source)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete source: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListSources returns the distinct sources in the store with per-source
// chunk counts, ordered by source name.
func (s *Store) ListSources(ctx context.Context) ([]pernai.SourceInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source, COUNT(*) FROM chunks GROUP BY source ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sources: %w", err)
	}
	defer rows.Close()

	var sources []pernai.SourceInfo
	for rows.Next() {
		var info pernai.SourceInfo
		if err := rows.Scan(&info.Source, &info.Chunks); err != nil {
			return nil, fmt.Errorf("postgres: scan source: %w", err)
		}
		sources = append(sources, info)
	}
	return sources, rows.Err()
}

// SearchChunks performs vector similarity search over chunks using
// pgvector's cosine distance operator with the HNSW index. Results are
// returned closest first with the raw cosine distance populated.
func (s *Store) SearchChunks(ctx context.Context, embedding []float32, topK int) ([]pernai.ScoredChunk, error) {
	embStr := serializeEmbedding(embedding)
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, ordinal, content,
		        embedding <=> $1::vector AS distance
		 FROM chunks
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <=> $1::vector
		 LIMIT $2`,
		embStr, topK)
	if err != nil {
		return nil, fmt.Errorf("postgres: search chunks: %w", err)
	}
	defer rows.Close()

	var results []pernai.ScoredChunk
	for rows.Next() {
		var c pernai.Chunk
		var distance float32
		if err := rows.Scan(&c.ID, &c.Source, &c.Ordinal, &c.Content, &distance); err != nil {
			return nil, fmt.Errorf("postgres: scan chunk: %w", err)
		}
		d := distance
		results = append(results, pernai.ScoredChunk{Chunk: c, Distance: &d})
	}
	return results, rows.Err()
}

// SearchChunksKeyword performs full-text keyword search over chunks
// using PostgreSQL tsvector/tsquery with a GIN index. Results carry no
// distance, since ts_rank is not a cosine measure.
func (s *Store) SearchChunksKeyword(ctx context.Context, query string, topK int) ([]pernai.ScoredChunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, ordinal, content
		 FROM chunks
		 WHERE to_tsvector('english', content) @@ plainto_tsquery('english', $1)
		 ORDER BY ts_rank(to_tsvector('english', content), plainto_tsquery('english', $1)) DESC
		 LIMIT $2`,
		query, topK)
	if err != nil {
		return nil, fmt.Errorf("postgres: keyword search: %w", err)
	}
	defer rows.Close()

	var results []pernai.ScoredChunk
	for rows.Next() {
		var c pernai.Chunk
		if err := rows.Scan(&c.ID, &c.Source, &c.Ordinal, &c.Content); err != nil {
			return nil, fmt.Errorf("postgres: scan chunk: %w", err)
		}
		results = append(results, pernai.ScoredChunk{Chunk: c})
	}
	return results, rows.Err()
}

// CountChunks returns the total number of stored chunks.
func (s *Store) CountChunks(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count chunks: %w", err)
	}
	return n, nil
}

// Close is a no-op. The caller owns the pool and manages its lifecycle.
func (s *Store) Close() error {
	return nil
}

// serializeEmbedding converts []float32 to a string like "[0.1,0.2,0.3]"
// suitable for pgvector's text input format.
func serializeEmbedding(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
