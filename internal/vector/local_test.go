package vector

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func testDocs() []Document {
	return []Document{
		{
			ID:      "doc-1",
			Content: "Question: What is diabetes?\nAnswer: A condition affecting insulin.",
			Vector:  []float32{1, 0, 0},
			Metadata: map[string]string{
				"source":     "medical_data.json",
				"question":   "What is diabetes?",
				"updated_at": "unknown",
			},
		},
		{
			ID:      "doc-2",
			Content: "Question: What causes fever?\nAnswer: Often infection.",
			Vector:  []float32{0, 1, 0},
			Metadata: map[string]string{
				"source":     "medical_data.json",
				"question":   "What causes fever?",
				"updated_at": "unknown",
			},
		},
		{
			ID:      "doc-3",
			Content: "Question: What is asthma?\nAnswer: A chronic airway condition.",
			Vector:  []float32{0, 0, 1},
			Metadata: map[string]string{
				"source":     "medical_data.json",
				"question":   "What is asthma?",
				"updated_at": "unknown",
			},
		},
	}
}

func buildIndex(t *testing.T, dir string, docs []Document) {
	t.Helper()
	w := NewLocalWriter(dir, "test-embed-model")
	if err := w.Replace(context.Background(), docs); err != nil {
		t.Fatalf("building index: %v", err)
	}
}

func TestLocalIndex_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	buildIndex(t, dir, testDocs())

	repo, err := OpenLocal(dir, "test-embed-model")
	if err != nil {
		t.Fatalf("opening index: %v", err)
	}
	defer repo.Close()

	m := repo.Manifest()
	if m.Count != 3 {
		t.Fatalf("expected 3 documents, got %d", m.Count)
	}
	if m.Dimension != 3 {
		t.Fatalf("expected dimension 3, got %d", m.Dimension)
	}
	if m.EmbedModel != "test-embed-model" {
		t.Fatalf("expected recorded embed model, got %s", m.EmbedModel)
	}

	results, err := repo.Search(context.Background(), []float32{0, 1, 0}, 2)
	if err != nil {
		t.Fatalf("searching: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "doc-2" {
		t.Fatalf("expected doc-2 first, got %s", results[0].ID)
	}
	if results[0].Score <= results[1].Score {
		t.Fatalf("expected descending scores, got %f then %f", results[0].Score, results[1].Score)
	}
	if results[0].Metadata["question"] != "What causes fever?" {
		t.Fatalf("metadata lost in round trip: %v", results[0].Metadata)
	}
}

func TestLocalIndex_TiesKeepInsertionOrder(t *testing.T) {
	docs := testDocs()
	// Make doc-1 and doc-3 equally similar to the query.
	docs[0].Vector = []float32{1, 1, 0}
	docs[2].Vector = []float32{1, 1, 0}

	dir := filepath.Join(t.TempDir(), "index")
	buildIndex(t, dir, docs)

	repo, err := OpenLocal(dir, "")
	if err != nil {
		t.Fatalf("opening index: %v", err)
	}
	defer repo.Close()

	results, err := repo.Search(context.Background(), []float32{1, 1, 0}, 3)
	if err != nil {
		t.Fatalf("searching: %v", err)
	}
	if results[0].ID != "doc-1" || results[1].ID != "doc-3" {
		t.Fatalf("expected tied documents in insertion order, got %s then %s",
			results[0].ID, results[1].ID)
	}
}

func TestLocalIndex_TopKBeyondCorpus(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	buildIndex(t, dir, testDocs())

	repo, err := OpenLocal(dir, "")
	if err != nil {
		t.Fatalf("opening index: %v", err)
	}
	defer repo.Close()

	results, err := repo.Search(context.Background(), []float32{1, 0, 0}, 100)
	if err != nil {
		t.Fatalf("searching: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected all 3 documents, got %d", len(results))
	}
}

func TestLocalIndex_InvalidTopK(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	buildIndex(t, dir, testDocs())

	repo, err := OpenLocal(dir, "")
	if err != nil {
		t.Fatalf("opening index: %v", err)
	}
	defer repo.Close()

	if _, err := repo.Search(context.Background(), []float32{1, 0, 0}, 0); err == nil {
		t.Fatal("expected error for topK = 0")
	}
}

func TestLocalIndex_QueryDimensionMismatch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	buildIndex(t, dir, testDocs())

	repo, err := OpenLocal(dir, "")
	if err != nil {
		t.Fatalf("opening index: %v", err)
	}
	defer repo.Close()

	if _, err := repo.Search(context.Background(), []float32{1, 0}, 1); err == nil {
		t.Fatal("expected error for mismatched query dimension")
	}
}

func TestOpenLocal_NotFound(t *testing.T) {
	_, err := OpenLocal(filepath.Join(t.TempDir(), "missing"), "")
	if !errors.Is(err, ErrIndexNotFound) {
		t.Fatalf("expected ErrIndexNotFound, got %v", err)
	}
}

func TestOpenLocal_ModelMismatch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	buildIndex(t, dir, testDocs())

	_, err := OpenLocal(dir, "other-model")
	if !errors.Is(err, ErrModelMismatch) {
		t.Fatalf("expected ErrModelMismatch, got %v", err)
	}
}

func TestLocalWriter_RefusesEmptyIndex(t *testing.T) {
	w := NewLocalWriter(filepath.Join(t.TempDir(), "index"), "m")
	if err := w.Replace(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty index")
	}
}

func TestLocalWriter_RefusesMixedDimensions(t *testing.T) {
	docs := testDocs()
	docs[1].Vector = []float32{1, 0}

	w := NewLocalWriter(filepath.Join(t.TempDir(), "index"), "m")
	if err := w.Replace(context.Background(), docs); err == nil {
		t.Fatal("expected error for mixed vector dimensions")
	}
}

func TestLocalWriter_ReplaceSupersedesPriorIndex(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	buildIndex(t, dir, testDocs())

	replacement := []Document{
		{
			ID:      "new-1",
			Content: "replacement",
			Vector:  []float32{1, 1},
			Metadata: map[string]string{
				"source": "s", "question": "q", "updated_at": "unknown",
			},
		},
	}
	buildIndex(t, dir, replacement)

	repo, err := OpenLocal(dir, "")
	if err != nil {
		t.Fatalf("opening replaced index: %v", err)
	}
	defer repo.Close()

	if repo.Manifest().Count != 1 {
		t.Fatalf("expected 1 document after replace, got %d", repo.Manifest().Count)
	}
	results, err := repo.Search(context.Background(), []float32{1, 1}, 1)
	if err != nil {
		t.Fatalf("searching: %v", err)
	}
	if results[0].ID != "new-1" {
		t.Fatalf("expected replacement document, got %s", results[0].ID)
	}
}
