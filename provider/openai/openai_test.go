package openai

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	pernai "github.com/pernai/pernai"
)

type fakeClient struct {
	resp openai.EmbeddingResponse
	err  error
	got  openai.EmbeddingRequestConverter
}

func (f *fakeClient) CreateEmbeddings(_ context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	f.got = req
	return f.resp, f.err
}

func TestEmbedOrdersByIndex(t *testing.T) {
	fake := &fakeClient{resp: openai.EmbeddingResponse{
		Data: []openai.Embedding{
			{Index: 1, Embedding: []float32{2}},
			{Index: 0, Embedding: []float32{1}},
		},
	}}
	e := &Embedding{client: fake, model: "text-embedding-3-small", dims: 1}

	out, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if out[0][0] != 1 || out[1][0] != 2 {
		t.Errorf("embeddings not placed by index: %v", out)
	}
}

func TestEmbedCountMismatch(t *testing.T) {
	fake := &fakeClient{resp: openai.EmbeddingResponse{
		Data: []openai.Embedding{{Index: 0, Embedding: []float32{1}}},
	}}
	e := &Embedding{client: fake, model: "m"}

	_, err := e.Embed(context.Background(), []string{"a", "b"})
	var llmErr *pernai.ErrLLM
	if !errors.As(err, &llmErr) {
		t.Fatalf("expected ErrLLM, got %v", err)
	}
}

func TestEmbedPropagatesClientError(t *testing.T) {
	fake := &fakeClient{err: errors.New("boom")}
	e := &Embedding{client: fake, model: "m"}

	_, err := e.Embed(context.Background(), []string{"a"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestEmbedSendsDimensions(t *testing.T) {
	fake := &fakeClient{resp: openai.EmbeddingResponse{
		Data: []openai.Embedding{{Index: 0, Embedding: []float32{1}}},
	}}
	e := &Embedding{client: fake, model: "text-embedding-3-small", dims: 256}

	if _, err := e.Embed(context.Background(), []string{"a"}); err != nil {
		t.Fatal(err)
	}
	req, ok := fake.got.(openai.EmbeddingRequestStrings)
	if !ok {
		t.Fatalf("unexpected request type %T", fake.got)
	}
	if req.Dimensions != 256 {
		t.Errorf("dimensions: %d", req.Dimensions)
	}
	if req.Model != "text-embedding-3-small" {
		t.Errorf("model: %s", req.Model)
	}
}
