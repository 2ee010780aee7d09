package pernai

import (
	"context"
	"fmt"
	"strings"
)

// RetrievalResult is a scored piece of content from the chunk store.
// Score is the cosine similarity in [0, 1] (1 - distance); nil when the
// store reported no distance. Scores are never fabricated.
type RetrievalResult struct {
	Content string   `json:"content"`
	Source  string   `json:"source"`
	Score   *float32 `json:"score"`
}

// Retriever searches the chunk store and returns ranked results.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]RetrievalResult, error)
}

// DefaultTopK is the number of results Retrieve returns when the caller
// asks for zero or a negative count.
const DefaultTopK = 5

// VectorRetriever embeds the query and runs a nearest-neighbor search
// against the chunk store.
type VectorRetriever struct {
	store     ChunkStore
	embedding EmbeddingProvider
}

var _ Retriever = (*VectorRetriever)(nil)

// NewVectorRetriever creates a Retriever over store using embedding for
// query vectors.
func NewVectorRetriever(store ChunkStore, embedding EmbeddingProvider) *VectorRetriever {
	return &VectorRetriever{store: store, embedding: embedding}
}

// Retrieve returns the topK chunks most similar to query, most-similar
// first. An empty or whitespace-only query returns an empty result
// without calling the embedding provider. Ordering between equal
// distances is whatever the store returns; it is not guaranteed stable
// across runs. Store errors are returned as errors, never as an empty
// result set.
func (r *VectorRetriever) Retrieve(ctx context.Context, query string, topK int) ([]RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if r.embedding == nil {
		return nil, ErrNotReady
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	embs, err := r.embedding.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(embs) == 0 {
		return nil, fmt.Errorf("embed query: no embedding returned")
	}

	scored, err := r.store.SearchChunks(ctx, embs[0], topK)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}

	results := make([]RetrievalResult, 0, len(scored))
	for _, sc := range scored {
		var score *float32
		if sc.Distance != nil {
			s := 1 - *sc.Distance
			score = &s
		}
		results = append(results, RetrievalResult{
			Content: sc.Content,
			Source:  sc.Source,
			Score:   score,
		})
	}
	return results, nil
}
