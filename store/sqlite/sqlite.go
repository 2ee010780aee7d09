// Package sqlite implements pernai.ChunkStore using pure-Go SQLite
// with in-process brute-force vector search. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/pernai/pernai"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for every operation including timing and row counts.
// If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements pernai.ChunkStore backed by a local SQLite file.
// Embeddings are stored as JSON text and vector search is done
// in-process using brute-force cosine similarity.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ pernai.ChunkStore = (*Store)(nil)
var _ pernai.KeywordSearcher = (*Store)(nil)

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so
// that all goroutines serialize through one connection, eliminating
// SQLITE_BUSY errors from concurrent writers.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with
		// the blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates the chunks table, its indexes, and the FTS5 index.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()

	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding TEXT
	)`)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source)`)

	// FTS5 full-text index for keyword search over chunks.
	_, _ = s.db.ExecContext(ctx, `CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(chunk_id UNINDEXED, content)`)

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// UpsertChunks inserts or replaces chunks in a single transaction,
// keeping the FTS index in sync.
func (s *Store) UpsertChunks(ctx context.Context, chunks []pernai.Chunk) error {
	start := time.Now()
	s.logger.Debug("sqlite: upsert chunks", "count", len(chunks))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, chunk := range chunks {
		var embJSON *string
		if len(chunk.Embedding) > 0 {
			v := serializeEmbedding(chunk.Embedding)
			embJSON = &v
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO chunks (id, source, ordinal, content, embedding)
			 VALUES (?, ?, ?, ?, ?)`,
			chunk.ID, chunk.Source, chunk.Ordinal, chunk.Content, embJSON,
		)
		if err != nil {
			s.logger.Error("sqlite: insert chunk failed", "chunk_id", chunk.ID, "error", err)
			return fmt.Errorf("insert chunk: %w", err)
		}

		_, _ = tx.ExecContext(ctx, `DELETE FROM chunks_fts WHERE chunk_id = ?`, chunk.ID)
		if _, err2 := tx.ExecContext(ctx, `INSERT INTO chunks_fts(chunk_id, content) VALUES (?, ?)`, chunk.ID, chunk.Content); err2 != nil {
			return fmt.Errorf("insert chunk fts: %w", err2)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: upsert commit failed", "error", err)
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: upsert chunks ok", "count", len(chunks), "duration", time.Since(start))
	return nil
}

// DeleteSource removes every chunk whose source equals source and
// returns the number of chunks deleted. Matching ignores filename case:
// chunk ids are derived from the lower-cased filename, so case variants
// of one filename are the same logical document. Unknown sources delete
// zero rows without error.
func (s *Store) DeleteSource(ctx context.Context, source string) (int, error) {
	start := time.Now()
	s.logger.Debug("sqlite: delete source", "source", source)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks_fts WHERE chunk_id IN (SELECT id FROM chunks WHERE lower(source) = lower(?))`,
		source,
	); err != nil {
		return 0, fmt.Errorf("delete fts rows: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE lower(source) = lower(?)`, source)
	if err != nil {
		s.logger.Error("sqlite: delete source failed", "source", source, "error", err)
		return 0, fmt.Errorf("delete source: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: delete source ok", "source", source, "deleted", n, "duration", time.Since(start))
	return int(n), nil
}

// ListSources returns the distinct sources in the store with per-source
// chunk counts, ordered by source name.
func (s *Store) ListSources(ctx context.Context) ([]pernai.SourceInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, COUNT(*) FROM chunks GROUP BY source ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []pernai.SourceInfo
	for rows.Next() {
		var info pernai.SourceInfo
		if err := rows.Scan(&info.Source, &info.Chunks); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return sources, nil
}

// SearchChunks performs brute-force cosine similarity search over all
// embedded chunks and returns the topK nearest, closest first. Distance
// is reported as cosine distance (1 - similarity).
func (s *Store) SearchChunks(ctx context.Context, embedding []float32, topK int) ([]pernai.ScoredChunk, error) {
	start := time.Now()
	s.logger.Debug("sqlite: search chunks", "top_k", topK, "embedding_dim", len(embedding))

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, ordinal, content, embedding FROM chunks WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var results []pernai.ScoredChunk
	scanned := 0

	for rows.Next() {
		var c pernai.Chunk
		var embJSON string
		if err := rows.Scan(&c.ID, &c.Source, &c.Ordinal, &c.Content, &embJSON); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		scanned++
		stored, err := deserializeEmbedding(embJSON)
		if err != nil {
			continue
		}
		d := 1 - cosineSimilarity(embedding, stored)
		results = append(results, pernai.ScoredChunk{Chunk: c, Distance: &d})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		return *results[i].Distance < *results[j].Distance
	})

	if len(results) > topK {
		results = results[:topK]
	}
	s.logger.Debug("sqlite: search chunks ok", "scanned", scanned, "returned", len(results), "duration", time.Since(start))
	return results, nil
}

// SearchChunksKeyword performs full-text keyword search over chunks
// using SQLite FTS5. Results are sorted by FTS5 rank and carry no
// distance, since rank is not a cosine measure.
func (s *Store) SearchChunksKeyword(ctx context.Context, query string, topK int) ([]pernai.ScoredChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.source, c.ordinal, c.content
		 FROM chunks_fts f
		 JOIN chunks c ON c.id = f.chunk_id
		 WHERE chunks_fts MATCH ?
		 ORDER BY f.rank LIMIT ?`,
		query, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var results []pernai.ScoredChunk
	for rows.Next() {
		var c pernai.Chunk
		if err := rows.Scan(&c.ID, &c.Source, &c.Ordinal, &c.Content); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		results = append(results, pernai.ScoredChunk{Chunk: c})
	}
	return results, rows.Err()
}

// CountChunks returns the total number of stored chunks.
func (s *Store) CountChunks(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// cosineSimilarity computes the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// serializeEmbedding converts []float32 to a JSON array string.
func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

// deserializeEmbedding parses a JSON array string back to []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	var embedding []float32
	if err := json.Unmarshal([]byte(s), &embedding); err != nil {
		return nil, err
	}
	return embedding, nil
}
