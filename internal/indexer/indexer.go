// Package indexer builds the persisted vector index from a corpus snapshot.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/efebarandurmaz/askdoc/internal/corpus"
	"github.com/efebarandurmaz/askdoc/internal/llm"
	"github.com/efebarandurmaz/askdoc/internal/vector"
)

// ErrEmptyCorpus indicates there were no valid documents to index. An index
// over zero documents is never produced.
var ErrEmptyCorpus = errors.New("indexer: no valid documents in corpus")

// defaultBatchSize bounds how many texts go into one embedding request.
const defaultBatchSize = 64

// Indexer embeds a loaded corpus and writes it to a vector index.
type Indexer struct {
	provider  llm.Provider
	writer    vector.Writer
	batchSize int
}

// New creates an Indexer using the given embedding provider and index writer.
func New(provider llm.Provider, writer vector.Writer) *Indexer {
	return &Indexer{provider: provider, writer: writer, batchSize: defaultBatchSize}
}

// Build embeds every document once and replaces the index content wholesale.
// It fails with ErrEmptyCorpus before touching the index when docs is empty.
func (ix *Indexer) Build(ctx context.Context, docs []corpus.Document) error {
	if len(docs) == 0 {
		return ErrEmptyCorpus
	}

	start := time.Now()
	embedded := make([]vector.Document, 0, len(docs))

	for lo := 0; lo < len(docs); lo += ix.batchSize {
		hi := lo + ix.batchSize
		if hi > len(docs) {
			hi = len(docs)
		}
		batch := docs[lo:hi]

		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = d.Text
		}
		vectors, err := ix.provider.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("indexer: embedding batch %d-%d: %w", lo, hi, err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("indexer: got %d embeddings for %d documents", len(vectors), len(batch))
		}

		for i, d := range batch {
			embedded = append(embedded, vector.Document{
				ID:      d.ID,
				Content: d.Text,
				Vector:  vectors[i],
				Metadata: map[string]string{
					"source":     d.Metadata.Source,
					"question":   d.Metadata.Question,
					"updated_at": d.Metadata.UpdatedAt,
				},
			})
		}
		slog.Debug("embedded batch", "from", lo, "to", hi, "total", len(docs))
	}

	if err := ix.writer.Replace(ctx, embedded); err != nil {
		return fmt.Errorf("indexer: writing index: %w", err)
	}

	slog.Info("index built",
		"documents", len(embedded),
		"embed_model", ix.provider.EmbedModel(),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}
