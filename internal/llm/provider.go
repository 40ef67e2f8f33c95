package llm

import "context"

// Provider is the interface all model backends must implement.
type Provider interface {
	// Complete sends a prompt and returns a completion.
	Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error)
	// Embed returns embedding vectors for the given texts, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string
	// EmbedModel returns the identifier of the embedding model this provider
	// uses. Index-time and query-time embeddings must come from the same
	// model; the vector store records this identifier and refuses to serve
	// queries when it differs.
	EmbedModel() string
}

// RequestOptions tunes a single completion call. Nil fields use provider
// defaults.
type RequestOptions struct {
	MaxTokens   *int
	Temperature *float64
	TopP        *float64
	StopSeqs    []string
}
