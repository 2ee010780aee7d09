package pernai

import (
	"context"
	"errors"
	"testing"
)

// --- test doubles ---

type fakeEmbedding struct {
	callCount int
	vec       []float32
	err       error
}

func (f *fakeEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.callCount++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}
func (f *fakeEmbedding) Dimensions() int { return len(f.vec) }
func (f *fakeEmbedding) Name() string    { return "fake" }

type fakeStore struct {
	results []ScoredChunk
	err     error
}

func (f *fakeStore) UpsertChunks(context.Context, []Chunk) error      { return nil }
func (f *fakeStore) DeleteSource(context.Context, string) (int, error) { return 0, nil }
func (f *fakeStore) ListSources(context.Context) ([]SourceInfo, error) { return nil, nil }
func (f *fakeStore) CountChunks(context.Context) (int, error)          { return len(f.results), nil }
func (f *fakeStore) Init(context.Context) error                        { return nil }
func (f *fakeStore) Close() error                                      { return nil }
func (f *fakeStore) SearchChunks(_ context.Context, _ []float32, topK int) ([]ScoredChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) > topK {
		return f.results[:topK], nil
	}
	return f.results, nil
}

func dist(d float32) *float32 { return &d }

// --- tests ---

func TestRetrieveEmptyQuery(t *testing.T) {
	emb := &fakeEmbedding{vec: []float32{1, 0}}
	r := NewVectorRetriever(&fakeStore{}, emb)

	for _, q := range []string{"", "   ", "\n\t"} {
		results, err := r.Retrieve(context.Background(), q, 5)
		if err != nil {
			t.Fatalf("query %q: %v", q, err)
		}
		if len(results) != 0 {
			t.Errorf("query %q: expected no results, got %d", q, len(results))
		}
	}
	if emb.callCount != 0 {
		t.Errorf("embedding provider called %d times for empty queries", emb.callCount)
	}
}

func TestRetrieveNotReady(t *testing.T) {
	r := NewVectorRetriever(&fakeStore{}, nil)
	_, err := r.Retrieve(context.Background(), "anything", 5)
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestRetrieveScoreConversion(t *testing.T) {
	store := &fakeStore{results: []ScoredChunk{
		{Chunk: Chunk{Content: "close", Source: "a.txt"}, Distance: dist(0.1)},
		{Chunk: Chunk{Content: "far", Source: "b.txt"}, Distance: dist(0.6)},
		{Chunk: Chunk{Content: "keyword only", Source: "c.txt"}}, // no distance
	}}
	r := NewVectorRetriever(store, &fakeEmbedding{vec: []float32{1, 0}})

	results, err := r.Retrieve(context.Background(), "query", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Score == nil || *results[0].Score < 0.89 || *results[0].Score > 0.91 {
		t.Errorf("expected score ~0.9, got %v", results[0].Score)
	}
	if results[2].Score != nil {
		t.Error("score must stay nil when the store reports no distance")
	}
}

func TestRetrieveScoresNonIncreasing(t *testing.T) {
	store := &fakeStore{results: []ScoredChunk{
		{Chunk: Chunk{Content: "a"}, Distance: dist(0.05)},
		{Chunk: Chunk{Content: "b"}, Distance: dist(0.2)},
		{Chunk: Chunk{Content: "c"}, Distance: dist(0.2)},
		{Chunk: Chunk{Content: "d"}, Distance: dist(0.7)},
	}}
	r := NewVectorRetriever(store, &fakeEmbedding{vec: []float32{1, 0}})

	results, err := r.Retrieve(context.Background(), "query", 10)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(results); i++ {
		if *results[i].Score > *results[i-1].Score {
			t.Errorf("scores increase at position %d", i)
		}
	}
}

func TestRetrieveStoreErrorSurfaces(t *testing.T) {
	store := &fakeStore{err: errors.New("index corrupted")}
	r := NewVectorRetriever(store, &fakeEmbedding{vec: []float32{1, 0}})

	results, err := r.Retrieve(context.Background(), "query", 5)
	if err == nil {
		t.Fatal("store failure must surface as an error, not empty results")
	}
	if results != nil {
		t.Error("expected nil results on store error")
	}
}

func TestRetrieveDefaultTopK(t *testing.T) {
	var chunks []ScoredChunk
	for i := 0; i < 10; i++ {
		chunks = append(chunks, ScoredChunk{Chunk: Chunk{Content: "x"}, Distance: dist(0.1)})
	}
	r := NewVectorRetriever(&fakeStore{results: chunks}, &fakeEmbedding{vec: []float32{1, 0}})

	results, err := r.Retrieve(context.Background(), "query", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != DefaultTopK {
		t.Errorf("expected %d results for topK=0, got %d", DefaultTopK, len(results))
	}
}
