// Package pernai is a retrieval-augmented chat backend: documents are
// split into overlapping chunks, embedded, and stored in a vector index;
// queries retrieve the most similar chunks, which are folded into the
// prompt sent to the LLM along with provenance metadata.
//
// The root package defines the domain types and the boundaries between
// the core and its collaborators: Provider (chat LLM), EmbeddingProvider
// (text -> vector), ChunkStore (persistent vector index), and Retriever
// (ranked top-k search). Concrete implementations live in subpackages:
// ingest (chunking and extraction), store/sqlite and store/postgres,
// provider/anthropic, provider/openai, and provider/gemini.
package pernai
