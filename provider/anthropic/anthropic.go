// Package anthropic implements the Anthropic Messages API chat provider.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pernai/pernai"
)

var baseURL = "https://api.anthropic.com/v1"

const apiVersion = "2023-06-01"

// Anthropic implements pernai.Provider for Anthropic Claude models.
type Anthropic struct {
	apiKey     string
	model      string
	httpClient *http.Client

	maxTokens   int
	temperature float64
}

// New creates a new Anthropic chat provider with functional options.
func New(apiKey, model string, opts ...Option) *Anthropic {
	a := &Anthropic{
		apiKey:      apiKey,
		model:       model,
		httpClient:  &http.Client{},
		maxTokens:   900,
		temperature: 0.2,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns "anthropic".
func (a *Anthropic) Name() string { return "anthropic" }

// Chat sends a non-streaming Messages API request and returns the
// complete response. System messages are collected out of the message
// list into the top-level system field, as the API requires.
func (a *Anthropic) Chat(ctx context.Context, req pernai.ChatRequest) (pernai.ChatResponse, error) {
	body, err := a.buildBody(req)
	if err != nil {
		return pernai.ChatResponse{}, a.wrapErr("build body: " + err.Error())
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return pernai.ChatResponse{}, a.wrapErr("marshal body: " + err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/messages", strings.NewReader(string(payload)))
	if err != nil {
		return pernai.ChatResponse{}, a.wrapErr("create request: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return pernai.ChatResponse{}, a.wrapErr("request failed: " + err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return pernai.ChatResponse{}, a.wrapErr("failed to read response body: " + err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return pernai.ChatResponse{}, &pernai.ErrHTTP{Status: resp.StatusCode, Body: string(respBody)}
	}

	var parsed messagesResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return pernai.ChatResponse{}, a.wrapErr("failed to parse response JSON: " + err.Error())
	}

	// Concatenate all text blocks. Non-text blocks are ignored.
	var content strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return pernai.ChatResponse{
		Content: content.String(),
		Usage: pernai.Usage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
		},
	}, nil
}

// buildBody constructs the Messages API request body.
func (a *Anthropic) buildBody(req pernai.ChatRequest) (map[string]any, error) {
	var systemParts []string
	var messages []map[string]any

	for _, m := range req.Messages {
		if m.Role == "system" {
			systemParts = append(systemParts, m.Content)
			continue
		}

		var blocks []map[string]any
		for _, img := range m.Images {
			blocks = append(blocks, map[string]any{
				"type": "image",
				"source": map[string]any{
					"type":       "base64",
					"media_type": img.MimeType,
					"data":       img.Base64,
				},
			})
		}
		if m.Content != "" {
			blocks = append(blocks, map[string]any{
				"type": "text",
				"text": m.Content,
			})
		}
		if len(blocks) == 0 {
			return nil, fmt.Errorf("message with role %q has no content", m.Role)
		}
		messages = append(messages, map[string]any{
			"role":    m.Role,
			"content": blocks,
		})
	}

	if len(messages) == 0 {
		return nil, fmt.Errorf("no user or assistant messages")
	}

	maxTokens := a.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	body := map[string]any{
		"model":       a.model,
		"max_tokens":  maxTokens,
		"temperature": a.temperature,
		"messages":    messages,
	}
	if len(systemParts) > 0 {
		body["system"] = strings.Join(systemParts, "\n\n")
	}
	return body, nil
}

func (a *Anthropic) wrapErr(msg string) error {
	return &pernai.ErrLLM{Provider: "anthropic", Message: msg}
}

// ---- Response parsing types ----

type messagesResponse struct {
	Content []contentBlock `json:"content"`
	Usage   usageBlock     `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usageBlock struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

var _ pernai.Provider = (*Anthropic)(nil)
