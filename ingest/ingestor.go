package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	pernai "github.com/pernai/pernai"
)

// FileStatus is the per-file outcome of an ingest operation.
type FileStatus string

const (
	StatusIngested    FileStatus = "ingested"
	StatusEmpty       FileStatus = "empty-or-unreadable"
	StatusReadFailed  FileStatus = "failed-to-read"
	StatusEmbedFailed FileStatus = "embedding-failed"
	StatusStoreFailed FileStatus = "vector-add-failed"
)

// FileReport records the outcome of ingesting one file.
type FileReport struct {
	File   string     `json:"file"`
	Status FileStatus `json:"status"`
	Chunks int        `json:"chunks,omitempty"`
	Detail string     `json:"detail,omitempty"`
}

// File is one (filename, raw bytes) pair submitted for ingestion. Err
// records an upstream read failure (e.g. a broken upload); such files
// are reported as failed-to-read without touching the store.
type File struct {
	Name    string
	Content []byte
	Err     error
}

// Ingestor provides end-to-end ingestion: extract -> chunk -> embed ->
// store, with full-replace semantics per source filename. Re-ingesting a
// filename deletes its previous chunk set before inserting the new one;
// filename case is ignored when identifying a source, matching the
// lower-cased id namespace.
type Ingestor struct {
	store      pernai.ChunkStore
	embedding  pernai.EmbeddingProvider
	chunker    Chunker
	extractors map[ContentType]Extractor
	batchSize  int
	opTimeout  time.Duration
	logger     *slog.Logger
	locks      sourceLocks
}

// NewIngestor creates an Ingestor with sensible defaults.
func NewIngestor(store pernai.ChunkStore, emb pernai.EmbeddingProvider, opts ...Option) *Ingestor {
	ing := &Ingestor{
		store:     store,
		embedding: emb,
		chunker:   NewWindowChunker(),
		extractors: map[ContentType]Extractor{
			TypePlainText: PlainTextExtractor{},
			TypeHTML:      HTMLExtractor{},
			TypeMarkdown:  NewMarkdownExtractor(),
			TypePDF:       NewPDFExtractor(),
		},
		batchSize: 64,
		opTimeout: 60 * time.Second,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(ing)
	}
	return ing
}

// IngestAll ingests a batch of files independently: one file's failure
// never aborts the rest, and the result is always a per-file report.
// The only whole-batch error is ErrNotReady when no embedding provider
// is configured.
func (ing *Ingestor) IngestAll(ctx context.Context, files []File) ([]FileReport, error) {
	if ing.embedding == nil {
		return nil, pernai.ErrNotReady
	}
	reports := make([]FileReport, 0, len(files))
	for _, f := range files {
		if f.Err != nil {
			ing.logger.Warn("ingest: file unreadable", "file", f.Name, "error", f.Err)
			reports = append(reports, FileReport{File: f.Name, Status: StatusReadFailed, Detail: f.Err.Error()})
			continue
		}
		report, err := ing.IngestFile(ctx, f.Name, f.Content)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// IngestFile (re)populates the chunk store for one source document.
// The returned error is only ErrNotReady; everything else is recorded in
// the report. Ingestion for the same filename is serialized so the
// delete+insert replacement is atomic to observers; different filenames
// proceed in parallel.
func (ing *Ingestor) IngestFile(ctx context.Context, filename string, content []byte) (FileReport, error) {
	if ing.embedding == nil {
		return FileReport{}, pernai.ErrNotReady
	}

	unlock := ing.locks.lock(strings.ToLower(filename))
	defer unlock()

	start := time.Now()
	namespace := pernai.SourceNamespace(filename)
	ing.logger.Debug("ingest: file started", "file", filename, "namespace", namespace, "bytes", len(content))

	if err := ing.deleteSource(ctx, filename); err != nil {
		ing.logger.Error("ingest: delete previous chunks failed", "file", filename, "error", err)
		return FileReport{File: filename, Status: StatusStoreFailed, Detail: err.Error()}, nil
	}

	text, err := ing.extract(filename, content)
	if err != nil {
		ing.logger.Warn("ingest: extract failed", "file", filename, "error", err)
		return FileReport{File: filename, Status: StatusReadFailed, Detail: err.Error()}, nil
	}

	chunkTexts := ing.chunker.Chunk(norm.NFC.String(text))
	if len(chunkTexts) == 0 {
		ing.logger.Info("ingest: no chunks", "file", filename)
		return FileReport{File: filename, Status: StatusEmpty, Detail: "no text extracted"}, nil
	}

	embeddings, err := ing.batchEmbed(ctx, chunkTexts)
	if err != nil {
		ing.logger.Error("ingest: embedding failed", "file", filename, "error", err)
		return FileReport{File: filename, Status: StatusEmbedFailed, Detail: err.Error()}, nil
	}

	chunks := make([]pernai.Chunk, len(chunkTexts))
	for i, t := range chunkTexts {
		chunks[i] = pernai.Chunk{
			ID:        pernai.ChunkID(namespace, i),
			Source:    filename,
			Ordinal:   i,
			Content:   t,
			Embedding: embeddings[i],
		}
	}

	if err := ing.upsert(ctx, chunks); err != nil {
		ing.logger.Error("ingest: store write failed", "file", filename, "error", err)
		return FileReport{File: filename, Status: StatusStoreFailed, Detail: err.Error()}, nil
	}

	ing.logger.Info("ingest: file completed",
		"file", filename, "chunks", len(chunks), "duration", time.Since(start))
	return FileReport{
		File:   filename,
		Status: StatusIngested,
		Chunks: len(chunks),
		Detail: fmt.Sprintf("%d chunks", len(chunks)),
	}, nil
}

// extract picks an extractor by file extension and runs it.
func (ing *Ingestor) extract(filename string, content []byte) (string, error) {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	ct := ContentTypeFromExtension(ext)

	extractor, ok := ing.extractors[ct]
	if !ok {
		extractor = PlainTextExtractor{}
	}

	text, err := extractor.Extract(content)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", ct, err)
	}
	return text, nil
}

// batchEmbed embeds texts in batches of ing.batchSize, preserving input
// order so chunk index always matches embedding index.
func (ing *Ingestor) batchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += ing.batchSize {
		end := i + ing.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batchCtx, cancel := ing.stepContext(ctx)
		embs, err := ing.embedding.Embed(batchCtx, texts[i:end])
		cancel()
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", i, end, err)
		}
		if len(embs) != end-i {
			return nil, fmt.Errorf("embed batch %d-%d: got %d embeddings for %d texts", i, end, len(embs), end-i)
		}
		out = append(out, embs...)
	}
	return out, nil
}

func (ing *Ingestor) deleteSource(ctx context.Context, filename string) error {
	opCtx, cancel := ing.stepContext(ctx)
	defer cancel()
	_, err := ing.store.DeleteSource(opCtx, filename)
	return err
}

func (ing *Ingestor) upsert(ctx context.Context, chunks []pernai.Chunk) error {
	opCtx, cancel := ing.stepContext(ctx)
	defer cancel()
	return ing.store.UpsertChunks(opCtx, chunks)
}

// stepContext bounds one embedding or store call; a timeout fails that
// file only, not the batch.
func (ing *Ingestor) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ing.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, ing.opTimeout)
}

// sourceLocks serializes ingestion per source filename. The zero value
// is ready to use.
type sourceLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *sourceLocks) lock(key string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
