// Package openai implements the OpenAI embedding provider using the
// go-openai client.
package openai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pernai/pernai"
)

// embeddingClient is the subset of the go-openai client the provider
// uses, extracted for testability.
type embeddingClient interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Embedding implements pernai.EmbeddingProvider for OpenAI embedding
// models (text-embedding-3-small, text-embedding-3-large).
type Embedding struct {
	client embeddingClient
	model  string
	dims   int
}

// NewEmbedding creates a new OpenAI embedding provider.
// dims is sent as the requested output dimensionality when > 0;
// text-embedding-3-* models support shortened embeddings.
func NewEmbedding(apiKey, model string, dims int) *Embedding {
	return &Embedding{
		client: openai.NewClient(apiKey),
		model:  model,
		dims:   dims,
	}
}

// Name returns "openai".
func (e *Embedding) Name() string { return "openai" }

// Dimensions returns the configured embedding dimensionality.
func (e *Embedding) Dimensions() int { return e.dims }

// Embed embeds all texts in a single API call and returns the vectors
// in input order.
func (e *Embedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	}
	if e.dims > 0 {
		req.Dimensions = e.dims
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, &pernai.ErrLLM{Provider: "openai", Message: "embed request failed: " + err.Error()}
	}
	if len(resp.Data) != len(texts) {
		return nil, &pernai.ErrLLM{
			Provider: "openai",
			Message:  fmt.Sprintf("got %d embeddings for %d inputs", len(resp.Data), len(texts)),
		}
	}

	// The API documents data in input order but carries an explicit
	// Index field; place by Index so reordering can never corrupt the
	// text-to-vector mapping.
	embeddings := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(embeddings) {
			return nil, &pernai.ErrLLM{
				Provider: "openai",
				Message:  fmt.Sprintf("embedding index %d out of range", d.Index),
			}
		}
		embeddings[d.Index] = d.Embedding
	}
	return embeddings, nil
}

var _ pernai.EmbeddingProvider = (*Embedding)(nil)
