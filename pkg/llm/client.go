// Package llm wraps the embedding and completion providers used by the semantic similarity strategies.
package llm

import (
	"context"
)

// Generator produces a completion for a single prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Embedder computes one vector per input text.
type Embedder interface {
	Embed(ctx context.Context, texts ...string) ([][]float32, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider       string // openai, ollama, gemini, claude; empty disables the semantic backend
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
}
