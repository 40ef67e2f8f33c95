package rag

import (
	"context"
	"fmt"

	"github.com/efebarandurmaz/askdoc/internal/llm"
	"github.com/efebarandurmaz/askdoc/internal/vector"
)

// DefaultTopK is the retrieval depth used when the caller does not override it.
const DefaultTopK = 3

// Retriever embeds a query and finds the most similar corpus documents. It is
// the only place query text touches the corpus; it performs no generation.
type Retriever struct {
	embedder llm.Provider
	repo     vector.Repository
}

// NewRetriever creates a Retriever. The embedder must be the same provider
// used at index-build time; the index load path enforces this.
func NewRetriever(embedder llm.Provider, repo vector.Repository) *Retriever {
	return &Retriever{embedder: embedder, repo: repo}
}

// Retrieve returns at most k documents ordered by decreasing similarity.
// k <= 0 uses DefaultTopK. Results come back unchanged from the index's own
// ordering.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]vector.SearchResult, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("rag: got %d embeddings for one query", len(vectors))
	}
	results, err := r.repo.Search(ctx, vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("rag: searching index: %w", err)
	}
	return results, nil
}
