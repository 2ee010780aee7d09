package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pernai "github.com/pernai/pernai"
	"github.com/pernai/pernai/ingest"
)

// --- test doubles ---

type fakeProvider struct {
	resp    pernai.ChatResponse
	err     error
	lastReq pernai.ChatRequest
}

func (f *fakeProvider) Name() string { return "fake" }
func (f *fakeProvider) Chat(_ context.Context, req pernai.ChatRequest) (pernai.ChatResponse, error) {
	f.lastReq = req
	return f.resp, f.err
}

type fakeRetriever struct {
	results []pernai.RetrievalResult
	err     error
	gotTopK int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, topK int) ([]pernai.RetrievalResult, error) {
	f.gotTopK = topK
	return f.results, f.err
}

type fakeStore struct {
	sources   []pernai.SourceInfo
	deleted   []string
	deleteN   int
	deleteErr error
}

func (f *fakeStore) UpsertChunks(context.Context, []pernai.Chunk) error { return nil }
func (f *fakeStore) DeleteSource(_ context.Context, source string) (int, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	f.deleted = append(f.deleted, source)
	return f.deleteN, nil
}
func (f *fakeStore) ListSources(context.Context) ([]pernai.SourceInfo, error) {
	return f.sources, nil
}
func (f *fakeStore) SearchChunks(context.Context, []float32, int) ([]pernai.ScoredChunk, error) {
	return nil, nil
}
func (f *fakeStore) CountChunks(context.Context) (int, error) { return 0, nil }
func (f *fakeStore) Init(context.Context) error               { return nil }
func (f *fakeStore) Close() error                             { return nil }

type fakeEmbedding struct{}

func (fakeEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}
func (fakeEmbedding) Dimensions() int { return 2 }
func (fakeEmbedding) Name() string    { return "fake" }

type memStore struct {
	fakeStore
	chunks []pernai.Chunk
}

func (m *memStore) UpsertChunks(_ context.Context, chunks []pernai.Chunk) error {
	m.chunks = append(m.chunks, chunks...)
	return nil
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response: %v (%s)", err, w.Body.String())
	}
	return v
}

// --- tests ---

func TestHealth(t *testing.T) {
	h := New().Handler()
	w := doJSON(t, h, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing request id header")
	}
}

func TestChatInjectsContextIntoSystemPrompt(t *testing.T) {
	score := float32(0.9)
	prov := &fakeProvider{resp: pernai.ChatResponse{Content: "answer"}}
	retr := &fakeRetriever{results: []pernai.RetrievalResult{
		{Content: "solar output peaks at noon", Source: "solar.txt", Score: &score},
	}}
	h := New(WithProvider(prov), WithRetriever(retr)).Handler()

	w := doJSON(t, h, http.MethodPost, "/chat", chatRequest{Message: "when does output peak?"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d (%s)", w.Code, w.Body.String())
	}

	resp := decode[chatResponse](t, w)
	if resp.Content != "answer" {
		t.Errorf("content: %q", resp.Content)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].Source != "solar.txt" {
		t.Errorf("sources: %+v", resp.Sources)
	}

	msgs := prov.lastReq.Messages
	if len(msgs) != 2 || msgs[0].Role != "system" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if !strings.Contains(msgs[0].Content, "[solar.txt] solar output peaks at noon") {
		t.Errorf("context missing from system prompt: %q", msgs[0].Content)
	}
	if !strings.Contains(msgs[0].Content, "cite the source in brackets") {
		t.Errorf("citation instruction missing: %q", msgs[0].Content)
	}
	if msgs[1].Content != "when does output peak?" {
		t.Errorf("user message: %q", msgs[1].Content)
	}
}

func TestChatWithoutRetrieverStillAnswers(t *testing.T) {
	prov := &fakeProvider{resp: pernai.ChatResponse{Content: "plain answer"}}
	h := New(WithProvider(prov)).Handler()

	w := doJSON(t, h, http.MethodPost, "/chat", chatRequest{Message: "hi"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	if prov.lastReq.Messages[0].Content != defaultSystemPrompt {
		t.Errorf("system prompt: %q", prov.lastReq.Messages[0].Content)
	}
}

func TestChatRetrievalNotReadyDegradesGracefully(t *testing.T) {
	prov := &fakeProvider{resp: pernai.ChatResponse{Content: "ok"}}
	retr := &fakeRetriever{err: pernai.ErrNotReady}
	h := New(WithProvider(prov), WithRetriever(retr)).Handler()

	w := doJSON(t, h, http.MethodPost, "/chat", chatRequest{Message: "hi"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d (%s)", w.Code, w.Body.String())
	}
}

func TestChatCustomSystemPrompt(t *testing.T) {
	prov := &fakeProvider{resp: pernai.ChatResponse{Content: "ok"}}
	h := New(WithProvider(prov)).Handler()

	w := doJSON(t, h, http.MethodPost, "/chat", chatRequest{
		Message:   "hi",
		System:    "Answer in French.",
		MaxTokens: 128,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	if prov.lastReq.Messages[0].Content != "Answer in French." {
		t.Errorf("system prompt: %q", prov.lastReq.Messages[0].Content)
	}
	if prov.lastReq.MaxTokens != 128 {
		t.Errorf("max tokens: %d", prov.lastReq.MaxTokens)
	}
}

func TestChatEmptyMessageRejected(t *testing.T) {
	h := New(WithProvider(&fakeProvider{})).Handler()
	w := doJSON(t, h, http.MethodPost, "/chat", chatRequest{Message: "   "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: %d", w.Code)
	}
}

func TestChatNoProvider503(t *testing.T) {
	h := New().Handler()
	w := doJSON(t, h, http.MethodPost, "/chat", chatRequest{Message: "hi"})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status: %d", w.Code)
	}
}

func TestChatUpstreamRateLimitMapsTo429(t *testing.T) {
	prov := &fakeProvider{err: &pernai.ErrHTTP{Status: 429, Body: "slow down"}}
	h := New(WithProvider(prov)).Handler()

	w := doJSON(t, h, http.MethodPost, "/chat", chatRequest{Message: "hi"})
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status: %d", w.Code)
	}
}

func TestChatImage(t *testing.T) {
	prov := &fakeProvider{resp: pernai.ChatResponse{Content: "a cat"}}
	h := New(WithProvider(prov)).Handler()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("image", "cat.png")
	fw.Write([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'})
	mw.WriteField("prompt", "what animal?")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/chat-image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: %d (%s)", w.Code, w.Body.String())
	}
	msg := prov.lastReq.Messages[0]
	if msg.Content != "what animal?" {
		t.Errorf("prompt: %q", msg.Content)
	}
	if len(msg.Images) != 1 || msg.Images[0].Base64 == "" {
		t.Errorf("image block missing: %+v", msg.Images)
	}
	if !strings.HasPrefix(msg.Images[0].MimeType, "image/") {
		t.Errorf("mime type: %q", msg.Images[0].MimeType)
	}
}

func TestIngestMultipart(t *testing.T) {
	store := &memStore{}
	ing := ingest.NewIngestor(store, fakeEmbedding{})
	h := New(WithIngestor(ing), WithStore(store)).Handler()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	f1, _ := mw.CreateFormFile("files", "a.txt")
	f1.Write([]byte("first document"))
	f2, _ := mw.CreateFormFile("files", "empty.txt")
	f2.Write([]byte("   "))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/ingest", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status: %d (%s)", w.Code, w.Body.String())
	}

	var resp struct {
		Files []ingest.FileReport `json:"files"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Files) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(resp.Files))
	}
	if resp.Files[0].Status != ingest.StatusIngested {
		t.Errorf("file 1: %s (%s)", resp.Files[0].Status, resp.Files[0].Detail)
	}
	if resp.Files[1].Status != ingest.StatusEmpty {
		t.Errorf("file 2: %s", resp.Files[1].Status)
	}
}

func TestIngestNotReady503(t *testing.T) {
	ing := ingest.NewIngestor(&memStore{}, nil)
	h := New(WithIngestor(ing)).Handler()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("files", "a.txt")
	fw.Write([]byte("text"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/ingest", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status: %d (%s)", w.Code, w.Body.String())
	}
}

func TestIngestNoFiles400(t *testing.T) {
	ing := ingest.NewIngestor(&memStore{}, fakeEmbedding{})
	h := New(WithIngestor(ing)).Handler()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("other", "value")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/ingest", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status: %d", w.Code)
	}
}

func TestListSources(t *testing.T) {
	store := &fakeStore{sources: []pernai.SourceInfo{
		{Source: "a.txt", Chunks: 3},
	}}
	h := New(WithStore(store)).Handler()

	w := doJSON(t, h, http.MethodGet, "/sources", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var resp struct {
		Sources []pernai.SourceInfo `json:"sources"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].Chunks != 3 {
		t.Errorf("sources: %+v", resp.Sources)
	}
}

func TestDeleteSource(t *testing.T) {
	store := &fakeStore{deleteN: 4}
	h := New(WithStore(store)).Handler()

	w := doJSON(t, h, http.MethodDelete, "/sources?name=a.txt", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "a.txt" {
		t.Errorf("deleted: %v", store.deleted)
	}
	resp := decode[map[string]any](t, w)
	if resp["deleted"].(float64) != 4 {
		t.Errorf("deleted count: %v", resp["deleted"])
	}
}

func TestDeleteSourceMissingName400(t *testing.T) {
	h := New(WithStore(&fakeStore{})).Handler()
	w := doJSON(t, h, http.MethodDelete, "/sources", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: %d", w.Code)
	}
}

func TestSearch(t *testing.T) {
	score := float32(0.8)
	retr := &fakeRetriever{results: []pernai.RetrievalResult{
		{Content: "text", Source: "a.txt", Score: &score},
	}}
	h := New(WithRetriever(retr)).Handler()

	w := doJSON(t, h, http.MethodPost, "/search", searchRequest{Query: "text", TopK: 3})
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	if retr.gotTopK != 3 {
		t.Errorf("topK: %d", retr.gotTopK)
	}
	var resp struct {
		Results []pernai.RetrievalResult `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || *resp.Results[0].Score != 0.8 {
		t.Errorf("results: %+v", resp.Results)
	}
}

type keywordStore struct {
	fakeStore
	results  []pernai.ScoredChunk
	gotQuery string
	gotTopK  int
}

func (k *keywordStore) SearchChunksKeyword(_ context.Context, query string, topK int) ([]pernai.ScoredChunk, error) {
	k.gotQuery = query
	k.gotTopK = topK
	return k.results, nil
}

func TestSearchKeywordMode(t *testing.T) {
	store := &keywordStore{results: []pernai.ScoredChunk{
		{Chunk: pernai.Chunk{Content: "solar panel guide", Source: "a.txt"}},
	}}
	h := New(WithStore(store)).Handler()

	w := doJSON(t, h, http.MethodPost, "/search", searchRequest{Query: "solar", TopK: 2, Mode: "keyword"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d (%s)", w.Code, w.Body.String())
	}
	if store.gotQuery != "solar" || store.gotTopK != 2 {
		t.Errorf("store call: query=%q topK=%d", store.gotQuery, store.gotTopK)
	}
	var resp struct {
		Results []pernai.RetrievalResult `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Source != "a.txt" {
		t.Errorf("results: %+v", resp.Results)
	}
	if resp.Results[0].Score != nil {
		t.Error("keyword results must not carry a score")
	}
}

func TestSearchKeywordModeDefaultTopK(t *testing.T) {
	store := &keywordStore{}
	h := New(WithStore(store), WithTopK(7)).Handler()

	w := doJSON(t, h, http.MethodPost, "/search", searchRequest{Query: "q", Mode: "keyword"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	if store.gotTopK != 7 {
		t.Errorf("topK default: %d", store.gotTopK)
	}
}

func TestSearchKeywordModeUnsupported(t *testing.T) {
	h := New(WithStore(&fakeStore{})).Handler()

	w := doJSON(t, h, http.MethodPost, "/search", searchRequest{Query: "q", Mode: "keyword"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: %d", w.Code)
	}
}

func TestSearchNotReady503(t *testing.T) {
	retr := &fakeRetriever{err: pernai.ErrNotReady}
	h := New(WithRetriever(retr)).Handler()

	w := doJSON(t, h, http.MethodPost, "/search", searchRequest{Query: "q"})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status: %d", w.Code)
	}
}

func TestSearchStoreError500(t *testing.T) {
	retr := &fakeRetriever{err: errors.New("store offline")}
	h := New(WithRetriever(retr)).Handler()

	w := doJSON(t, h, http.MethodPost, "/search", searchRequest{Query: "q"})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status: %d", w.Code)
	}
}
