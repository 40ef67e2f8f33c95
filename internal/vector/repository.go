// Package vector provides persisted vector indexes with similarity search
// over the embedded QA corpus.
package vector

import (
	"context"
	"errors"
)

// ErrIndexNotFound indicates the index path holds no valid persisted index.
var ErrIndexNotFound = errors.New("vector: index not found")

// ErrModelMismatch indicates the index was built with a different embedding
// model than the one configured for querying. Distances across models are
// not comparable, so the index refuses to load.
var ErrModelMismatch = errors.New("vector: embedding model mismatch")

// Document is an embedded corpus document as stored in the index.
type Document struct {
	ID       string
	Content  string
	Vector   []float32
	Metadata map[string]string
}

// SearchResult is a single match from a similarity search.
type SearchResult struct {
	ID       string
	Score    float32
	Content  string
	Metadata map[string]string
}

// Repository provides read-only similarity search over a built index.
type Repository interface {
	// Search finds the top-k most similar documents, best first.
	Search(ctx context.Context, vector []float32, topK int) ([]SearchResult, error)
	// Close releases resources.
	Close() error
}

// Writer ingests an embedded corpus wholesale, replacing any prior index
// content. Index building is an exclusive offline operation; there is no
// incremental update.
type Writer interface {
	// Replace atomically supersedes the index content with docs.
	Replace(ctx context.Context, docs []Document) error
	// Close releases resources.
	Close() error
}
