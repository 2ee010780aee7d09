// Package server exposes the chat, ingestion, and search operations
// over HTTP.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	pernai "github.com/pernai/pernai"
	"github.com/pernai/pernai/ingest"
)

const defaultSystemPrompt = "You are a helpful assistant. Answer using the provided context when it is relevant. If you use the context, cite the source in brackets."

// maxUploadBytes bounds multipart ingest and image uploads.
const maxUploadBytes = 64 << 20

// Server handles the HTTP API. All dependencies are injected; any of
// provider, retriever, or ingestor may be nil, in which case the
// corresponding endpoints report 503.
type Server struct {
	provider  pernai.Provider
	retriever pernai.Retriever
	ingestor  *ingest.Ingestor
	store     pernai.ChunkStore
	logger    *slog.Logger
	topK      int
}

// Option configures a Server.
type Option func(*Server)

// WithProvider sets the chat LLM provider.
func WithProvider(p pernai.Provider) Option {
	return func(s *Server) { s.provider = p }
}

// WithRetriever sets the retriever used for chat context and /search.
func WithRetriever(r pernai.Retriever) Option {
	return func(s *Server) { s.retriever = r }
}

// WithIngestor sets the document ingestor.
func WithIngestor(ing *ingest.Ingestor) Option {
	return func(s *Server) { s.ingestor = ing }
}

// WithStore sets the chunk store used for source listing and deletion.
func WithStore(st pernai.ChunkStore) Option {
	return func(s *Server) { s.store = st }
}

// WithLogger sets the request logger. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithTopK sets how many chunks are retrieved for chat context (default 5).
func WithTopK(k int) Option {
	return func(s *Server) {
		if k > 0 {
			s.topK = k
		}
	}
}

// New creates a Server with functional options.
func New(opts ...Option) *Server {
	s := &Server{
		logger: slog.New(slog.DiscardHandler),
		topK:   pernai.DefaultTopK,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /chat-image", s.handleChatImage)
	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("GET /sources", s.handleListSources)
	mux.HandleFunc("DELETE /sources", s.handleDeleteSource)
	mux.HandleFunc("POST /search", s.handleSearch)
	return s.requestLog(mux)
}

// requestLog tags every request with an id and logs method, path,
// status, and duration.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := pernai.NewRequestID()
		w.Header().Set("X-Request-ID", id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// --- health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"llm_ready":       s.provider != nil,
		"ingestion_ready": s.ingestor != nil,
		"retrieval_ready": s.retriever != nil,
	})
}

// --- chat ---

type chatRequest struct {
	Message   string               `json:"message"`
	System    string               `json:"system,omitempty"`
	History   []pernai.ChatMessage `json:"history,omitempty"`
	TopK      int                  `json:"top_k,omitempty"`
	MaxTokens int                  `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Content string                   `json:"content"`
	Sources []pernai.RetrievalResult `json:"sources,omitempty"`
	Usage   pernai.Usage             `json:"usage"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.provider == nil {
		writeError(w, http.StatusServiceUnavailable, "chat provider not configured")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	results, err := s.retrieveContext(r.Context(), req.Message, req.TopK)
	if err != nil {
		// Retrieval failure degrades to a context-free answer.
		s.logger.Warn("context retrieval failed", "error", err)
	}

	messages := []pernai.ChatMessage{pernai.SystemMessage(systemPrompt(req.System, results))}
	messages = append(messages, req.History...)
	messages = append(messages, pernai.UserMessage(req.Message))

	resp, err := s.provider.Chat(r.Context(), pernai.ChatRequest{
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		s.writeProviderError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Content: resp.Content,
		Sources: results,
		Usage:   resp.Usage,
	})
}

// retrieveContext fetches chunks for the chat context. A nil retriever
// or a not-ready embedding stack yields no context rather than an error.
func (s *Server) retrieveContext(ctx context.Context, query string, topK int) ([]pernai.RetrievalResult, error) {
	if s.retriever == nil {
		return nil, nil
	}
	if topK <= 0 {
		topK = s.topK
	}
	results, err := s.retriever.Retrieve(ctx, query, topK)
	if errors.Is(err, pernai.ErrNotReady) {
		return nil, nil
	}
	return results, err
}

// systemPrompt renders retrieved chunks into the system prompt, each
// prefixed with its bracketed source so the model can cite it.
func systemPrompt(base string, results []pernai.RetrievalResult) string {
	if strings.TrimSpace(base) == "" {
		base = defaultSystemPrompt
	}
	if len(results) == 0 {
		return base
	}
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nContext:\n")
	for _, res := range results {
		fmt.Fprintf(&b, "\n[%s] %s\n", res.Source, res.Content)
	}
	return b.String()
}

// --- chat-image ---

func (s *Server) handleChatImage(w http.ResponseWriter, r *http.Request) {
	if s.provider == nil {
		writeError(w, http.StatusServiceUnavailable, "chat provider not configured")
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read image: "+err.Error())
		return
	}

	prompt := r.FormValue("prompt")
	if strings.TrimSpace(prompt) == "" {
		prompt = "Describe this image."
	}

	msg := pernai.ChatMessage{
		Role:    "user",
		Content: prompt,
		Images: []pernai.ImageData{{
			MimeType: imageMimeType(header, data),
			Base64:   base64.StdEncoding.EncodeToString(data),
		}},
	}

	resp, err := s.provider.Chat(r.Context(), pernai.ChatRequest{
		Messages: []pernai.ChatMessage{msg},
	})
	if err != nil {
		s.writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Content: resp.Content, Usage: resp.Usage})
}

// imageMimeType prefers the declared content type, falling back to
// sniffing the bytes.
func imageMimeType(header *multipart.FileHeader, data []byte) string {
	if ct := header.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	return http.DetectContentType(data)
}

// --- ingest ---

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingestor == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion not configured")
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "no files uploaded; use repeated 'files' form fields")
		return
	}

	files := make([]ingest.File, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			files = append(files, ingest.File{Name: h.Filename, Err: err})
			continue
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			files = append(files, ingest.File{Name: h.Filename, Err: err})
			continue
		}
		files = append(files, ingest.File{Name: h.Filename, Content: content})
	}

	reports, err := s.ingestor.IngestAll(r.Context(), files)
	if errors.Is(err, pernai.ErrNotReady) {
		writeError(w, http.StatusServiceUnavailable, "embedding provider not configured")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": reports})
}

// --- sources ---

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	sources, err := s.store.ListSources(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sources == nil {
		sources = []pernai.SourceInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources, "count": len(sources)})
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name query parameter is required")
		return
	}
	deleted, err := s.store.DeleteSource(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": name, "deleted": deleted})
}

// --- search ---

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
	Mode  string `json:"mode,omitempty"` // "vector" (default) or "keyword"
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	if req.Mode == "keyword" {
		s.handleKeywordSearch(w, r, req)
		return
	}

	if s.retriever == nil {
		writeError(w, http.StatusServiceUnavailable, "retrieval not configured")
		return
	}

	results, err := s.retriever.Retrieve(r.Context(), req.Query, req.TopK)
	if errors.Is(err, pernai.ErrNotReady) {
		writeError(w, http.StatusServiceUnavailable, "embedding provider not configured")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []pernai.RetrievalResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// handleKeywordSearch runs full-text search through the store's keyword
// capability. Results carry no score: FTS rank is not a cosine measure.
func (s *Server) handleKeywordSearch(w http.ResponseWriter, r *http.Request, req searchRequest) {
	ks, ok := s.store.(pernai.KeywordSearcher)
	if !ok {
		writeError(w, http.StatusBadRequest, "keyword search not supported by the configured store")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusOK, map[string]any{"results": []pernai.RetrievalResult{}})
		return
	}
	topK := req.TopK
	if topK <= 0 {
		topK = s.topK
	}

	scored, err := ks.SearchChunksKeyword(r.Context(), req.Query, topK)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	results := make([]pernai.RetrievalResult, 0, len(scored))
	for _, sc := range scored {
		results = append(results, pernai.RetrievalResult{Content: sc.Content, Source: sc.Source})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// --- helpers ---

// writeProviderError maps provider failures to HTTP statuses: upstream
// HTTP errors pass through as 502 (or 429 for rate limits), everything
// else is a 500.
func (s *Server) writeProviderError(w http.ResponseWriter, err error) {
	s.logger.Error("provider call failed", "error", err)
	var httpErr *pernai.ErrHTTP
	if errors.As(err, &httpErr) {
		if httpErr.Status == http.StatusTooManyRequests {
			writeError(w, http.StatusTooManyRequests, "upstream rate limit")
			return
		}
		writeError(w, http.StatusBadGateway, fmt.Sprintf("upstream error (status %d)", httpErr.Status))
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
