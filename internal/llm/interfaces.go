// Package llm provides embedding and chat provider clients for Engram.
// All HTTP calls are wrapped with circuit breaker protection.
package llm

import "context"

// EmbeddingGenerator is the interface for generating vector embeddings.
// The returned vector has a fixed length per model; the dimension is never
// mixed across calls within one process.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	GetModel() string
}

// TextGenerator is the interface for LLM text completion. The intent
// classifier uses single-string completion style (not chat history).
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}
