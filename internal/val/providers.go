// Package val is the provider-agnostic vector abstraction layer (C9):
// embedding and summarization providers, a routing registry, a
// per-provider circuit breaker, and a latency health cache.
package val

import "context"

// EmbeddingProvider turns text into vectors.
type EmbeddingProvider interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelID() string
}

// Artifact is a candidate artifact a SummarizationProvider extracts from
// free text, before it becomes a model.Artifact.
type Artifact struct {
	Name    string
	Content string
}

// SummarizationProvider condenses text, extracts structured artifacts,
// and scores how strongly two passages contradict each other.
type SummarizationProvider interface {
	Name() string
	Summarize(ctx context.Context, text string, targetTokens int) (string, error)
	ExtractArtifacts(ctx context.Context, text string) ([]Artifact, error)
	DetectContradiction(ctx context.Context, a, b string) (float64, error)
}
