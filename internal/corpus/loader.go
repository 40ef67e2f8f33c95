// Package corpus loads the medical question/answer corpus and converts
// external datasets into its JSON format.
package corpus

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrParse indicates the corpus file exists but is not valid JSON. Indexing
// must not proceed past it.
var ErrParse = errors.New("corpus: invalid corpus file")

// DefaultSource is the source recorded for records that carry none.
const DefaultSource = "medical_data.json"

// Document is one canonical question/answer document ready for indexing.
// Immutable after load.
type Document struct {
	ID       string
	Text     string
	Metadata Metadata
}

// Metadata is the provenance attached to a document and surfaced in citations.
type Metadata struct {
	Source    string `json:"source"`
	Question  string `json:"question"`
	UpdatedAt string `json:"updated_at"`
}

// Record is one raw entry of the corpus JSON array.
type Record struct {
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Source    string `json:"source,omitempty"`
	ID        string `json:"id,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Load reads the corpus file and returns the valid documents in file order.
// Records whose question or answer is empty after trimming are skipped.
// A missing file yields the built-in sample corpus so the system stays
// demoable without data; a present but malformed file fails with ErrParse.
func Load(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return sampleCorpus(), nil
		}
		return nil, fmt.Errorf("corpus: reading %s: %w", path, err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, path, err)
	}

	docs := make([]Document, 0, len(records))
	for i, rec := range records {
		question := strings.TrimSpace(rec.Question)
		answer := strings.TrimSpace(rec.Answer)
		if question == "" || answer == "" {
			continue
		}

		id := rec.ID
		if id == "" {
			id = fmt.Sprintf("doc-%d", i+1)
		}
		source := rec.Source
		if source == "" {
			source = DefaultSource
		}
		updatedAt := rec.UpdatedAt
		if updatedAt == "" {
			updatedAt = "unknown"
		}

		docs = append(docs, Document{
			ID:   id,
			Text: fmt.Sprintf("Question: %s\nAnswer: %s", question, answer),
			Metadata: Metadata{
				Source:    source,
				Question:  question,
				UpdatedAt: updatedAt,
			},
		})
	}
	return docs, nil
}

// sampleCorpus is the degraded-mode fallback used when no corpus file exists.
func sampleCorpus() []Document {
	return []Document{
		{
			ID: "sample-1",
			Text: "Question: What are common viral infection symptoms?\n" +
				"Answer: Fever and headache are common symptoms of viral infections.",
			Metadata: Metadata{
				Source:    "sample_data",
				Question:  "What are common viral infection symptoms?",
				UpdatedAt: "unknown",
			},
		},
		{
			ID: "sample-2",
			Text: "Question: What is diabetes?\n" +
				"Answer: Diabetes is a condition that affects insulin regulation.",
			Metadata: Metadata{
				Source:    "sample_data",
				Question:  "What is diabetes?",
				UpdatedAt: "unknown",
			},
		},
	}
}
