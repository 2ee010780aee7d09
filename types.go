package pernai

// --- Domain types (chunk store records) ---

// Chunk is one retrievable unit of text extracted from a source document.
// IDs are deterministic: SourceNamespace(source) + "-" + ordinal, so
// re-ingesting the same filename reproduces the same id sequence.
type Chunk struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Ordinal   int       `json:"ordinal"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
}

// ScoredChunk is a chunk returned from a nearest-neighbor search.
// Distance is the cosine distance in [0, 2] when the store can report
// one; nil when the search strategy has no distance (e.g. keyword FTS).
type ScoredChunk struct {
	Chunk
	Distance *float32
}

// SourceInfo describes one ingested source document: its case-preserved
// filename and how many chunks it currently contributes to the store.
type SourceInfo struct {
	Source string `json:"source"`
	Chunks int    `json:"chunks"`
}

// --- LLM protocol types ---

type ChatMessage struct {
	Role    string      `json:"role"` // "system", "user", "assistant"
	Content string      `json:"content"`
	Images  []ImageData `json:"images,omitempty"`
}

type ImageData struct {
	MimeType string `json:"mime_type"`
	Base64   string `json:"base64"`
}

type ChatRequest struct {
	Messages  []ChatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type ChatResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}
