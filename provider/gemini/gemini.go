// Package gemini implements the Google Gemini embedding provider.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pernai/pernai"
)

var baseURL = "https://generativelanguage.googleapis.com/v1beta"

// Embedding implements pernai.EmbeddingProvider for Gemini embedding models.
type Embedding struct {
	apiKey     string
	model      string
	dims       int
	httpClient *http.Client
}

// NewEmbedding creates a new Gemini embedding provider.
func NewEmbedding(apiKey, model string, dims int) *Embedding {
	return &Embedding{
		apiKey:     apiKey,
		model:      model,
		dims:       dims,
		httpClient: &http.Client{},
	}
}

// Name returns "gemini".
func (e *Embedding) Name() string { return "gemini" }

// Dimensions returns the configured embedding dimensionality.
func (e *Embedding) Dimensions() int { return e.dims }

// Embed embeds the texts in a single batchEmbedContents call and
// returns the vectors in input order.
func (e *Embedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	url := fmt.Sprintf("%s/models/%s:batchEmbedContents?key=%s", baseURL, e.model, e.apiKey)

	requests := make([]map[string]any, len(texts))
	for i, text := range texts {
		req := map[string]any{
			"model": "models/" + e.model,
			"content": map[string]any{
				"parts": []map[string]any{
					{"text": text},
				},
			},
		}
		// Omitted when unset so the API default dimensionality applies.
		if e.dims > 0 {
			req["outputDimensionality"] = e.dims
		}
		requests[i] = req
	}

	payload, err := json.Marshal(map[string]any{"requests": requests})
	if err != nil {
		return nil, e.wrapErr("marshal embed body: " + err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return nil, e.wrapErr("create embed request: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, e.wrapErr("embed request failed: " + err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, e.wrapErr("failed to read embed response: " + err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &pernai.ErrHTTP{Status: resp.StatusCode, Body: string(respBody)}
	}

	var parsed batchEmbedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, e.wrapErr("failed to parse embed response: " + err.Error())
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, e.wrapErr(fmt.Sprintf("got %d embeddings for %d inputs", len(parsed.Embeddings), len(texts)))
	}

	embeddings := make([][]float32, len(parsed.Embeddings))
	for i, emb := range parsed.Embeddings {
		vec := make([]float32, len(emb.Values))
		for j, v := range emb.Values {
			vec[j] = float32(v)
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}

func (e *Embedding) wrapErr(msg string) error {
	return &pernai.ErrLLM{Provider: "gemini", Message: msg}
}

type batchEmbedResponse struct {
	Embeddings []embedValues `json:"embeddings"`
}

type embedValues struct {
	Values []float64 `json:"values"`
}

var _ pernai.EmbeddingProvider = (*Embedding)(nil)
