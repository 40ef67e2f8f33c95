// Package rag implements the retrieval-augmented query pipeline: retrieval,
// prompt assembly, grounded generation, and citation deduplication.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/efebarandurmaz/askdoc/internal/llm"
	"github.com/efebarandurmaz/askdoc/internal/observability"
	"github.com/efebarandurmaz/askdoc/internal/vector"
)

// fallbackAnswer is returned when the model produces no answer text. It is
// the only text the engine ever substitutes for model output.
const fallbackAnswer = "I don't know."

// defaultHistoryWindow bounds how many past turns condition the generation
// prompt.
const defaultHistoryWindow = 6

// Citation identifies a source document that backed an answer.
type Citation struct {
	Source    string `json:"source"`
	Question  string `json:"question"`
	ID        string `json:"id"`
	UpdatedAt string `json:"updated_at"`
}

// Answer is the result of one query: the generated text plus the provenance
// of the documents it was grounded on.
type Answer struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations"`
}

// Options tunes engine behavior.
type Options struct {
	// TopK is the retrieval depth (default 3).
	TopK int
	// HistoryWindow bounds how many recent turns condition the prompt
	// (default 6).
	HistoryWindow int
	// Temperature for generation; nil uses the provider default.
	Temperature *float64
}

// Engine is the top-level query orchestrator. It owns the provider and index
// handles for the process lifetime and is stateless across calls; concurrent
// Ask calls are safe because the index is read-only after load and the model
// is invoked as a pure function of its prompt.
type Engine struct {
	generator llm.Provider
	retriever *Retriever
	topK      int
	window    int
	temp      *float64
}

// NewEngine constructs an engine from explicit handles. generator produces
// answers; embedder must be the provider whose model built the index; repo is
// the loaded index.
func NewEngine(generator, embedder llm.Provider, repo vector.Repository, opts Options) (*Engine, error) {
	if generator == nil {
		return nil, errors.New("rag: generator provider is required")
	}
	if embedder == nil {
		return nil, errors.New("rag: embedding provider is required")
	}
	if repo == nil {
		return nil, errors.New("rag: vector repository is required")
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	window := opts.HistoryWindow
	if window <= 0 {
		window = defaultHistoryWindow
	}

	return &Engine{
		generator: generator,
		retriever: NewRetriever(embedder, repo),
		topK:      topK,
		window:    window,
		temp:      opts.Temperature,
	}, nil
}

// Ask answers a query grounded in the indexed corpus. History is a sequence
// of completed (question, answer) turns; only the current query drives
// retrieval, while a bounded window of history conditions generation.
func (e *Engine) Ask(ctx context.Context, query string, history []Turn) (*Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("rag: query is empty")
	}

	ctx, span := observability.StartSpan(ctx, "rag.ask",
		attribute.Int("rag.top_k", e.topK),
		attribute.Int("rag.history_turns", len(history)))
	defer span.End()

	start := time.Now()
	retrieved, err := e.retriever.Retrieve(ctx, query, e.topK)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	if len(retrieved) == 0 {
		// An empty index never gets built, so this means retrieval itself is
		// misconfigured rather than "no good match".
		observability.RecordError(span, errors.New("no documents retrieved"))
		return nil, errors.New("rag: retrieval returned no documents")
	}

	contexts := make([]string, len(retrieved))
	for i, doc := range retrieved {
		contexts[i] = doc.Content
	}
	prompt, err := buildPrompt(strings.Join(contexts, "\n\n"), query, history, e.window)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	resp, err := e.generator.Complete(ctx, prompt, &llm.RequestOptions{Temperature: e.temp})
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("rag: generating answer: %w", err)
	}

	text := llm.StripThinkingTags(resp.Content)
	if text == "" {
		text = fallbackAnswer
	}

	answer := &Answer{
		Text:      text,
		Citations: dedupeCitations(retrieved),
	}

	slog.Info("query answered",
		"retrieved", len(retrieved),
		"citations", len(answer.Citations),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return answer, nil
}

// dedupeCitations collapses retrieved documents into citations keyed by
// (source, question), keeping first-seen order and the first occurrence's
// metadata.
func dedupeCitations(retrieved []vector.SearchResult) []Citation {
	seen := make(map[[2]string]struct{}, len(retrieved))
	citations := make([]Citation, 0, len(retrieved))
	for _, doc := range retrieved {
		c := Citation{
			Source:    metadataOr(doc.Metadata, "source", "unknown"),
			Question:  metadataOr(doc.Metadata, "question", ""),
			ID:        doc.ID,
			UpdatedAt: metadataOr(doc.Metadata, "updated_at", "unknown"),
		}
		key := [2]string{c.Source, c.Question}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		citations = append(citations, c)
	}
	return citations
}

func metadataOr(meta map[string]string, key, fallback string) string {
	if v, ok := meta[key]; ok && v != "" {
		return v
	}
	return fallback
}
