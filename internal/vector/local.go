package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

const (
	manifestFile = "manifest.json"
	vectorsFile  = "vectors.bin"
	docstoreFile = "docstore.db"
)

// Manifest describes a persisted local index.
type Manifest struct {
	EmbedModel string    `json:"embed_model"`
	Dimension  int       `json:"dimension"`
	Count      int       `json:"count"`
	CreatedAt  time.Time `json:"created_at"`
}

// LocalRepository is an on-disk index: a manifest, a flat float32 vector
// matrix, and a SQLite document store. The whole index is loaded into memory
// on Open and never mutated afterwards, so concurrent searches are safe.
type LocalRepository struct {
	manifest Manifest
	vectors  [][]float32
	norms    []float32
	docs     []Document
}

// OpenLocal loads a persisted index from dir. It fails with ErrIndexNotFound
// when no valid index exists there, and with ErrModelMismatch when embedModel
// is non-empty and differs from the model recorded at build time.
func OpenLocal(dir, embedModel string) (*LocalRepository, error) {
	manifest, err := readManifest(dir)
	if err != nil {
		return nil, err
	}
	if embedModel != "" && manifest.EmbedModel != embedModel {
		return nil, fmt.Errorf("%w: index built with %q, querying with %q",
			ErrModelMismatch, manifest.EmbedModel, embedModel)
	}

	vectors, err := readVectors(filepath.Join(dir, vectorsFile), manifest.Dimension, manifest.Count)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexNotFound, err)
	}
	docs, err := readDocstore(filepath.Join(dir, docstoreFile), manifest.Count)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexNotFound, err)
	}

	norms := make([]float32, len(vectors))
	for i, v := range vectors {
		norms[i] = norm(v)
	}

	return &LocalRepository{
		manifest: manifest,
		vectors:  vectors,
		norms:    norms,
		docs:     docs,
	}, nil
}

// Manifest returns the index build metadata.
func (r *LocalRepository) Manifest() Manifest { return r.manifest }

// Search returns the topK most similar documents by cosine similarity,
// descending; ties keep insertion order. topK beyond the corpus size returns
// everything.
func (r *LocalRepository) Search(_ context.Context, query []float32, topK int) ([]SearchResult, error) {
	if len(query) != r.manifest.Dimension {
		return nil, fmt.Errorf("vector: query dimension %d, index dimension %d",
			len(query), r.manifest.Dimension)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("vector: topK must be positive, got %d", topK)
	}

	qn := norm(query)
	scores := make([]float32, len(r.vectors))
	for i, v := range r.vectors {
		scores[i] = cosine(query, qn, v, r.norms[i])
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	if topK > len(order) {
		topK = len(order)
	}
	results := make([]SearchResult, 0, topK)
	for _, idx := range order[:topK] {
		doc := r.docs[idx]
		results = append(results, SearchResult{
			ID:       doc.ID,
			Score:    scores[idx],
			Content:  doc.Content,
			Metadata: doc.Metadata,
		})
	}
	return results, nil
}

// Close is a no-op; the index is fully in memory after Open.
func (r *LocalRepository) Close() error { return nil }

// LocalWriter builds a local index into a staging directory and atomically
// renames it over the target on Replace, so readers opening the path never
// observe a partial index.
type LocalWriter struct {
	dir        string
	embedModel string
}

// NewLocalWriter creates a writer targeting dir.
func NewLocalWriter(dir, embedModel string) *LocalWriter {
	return &LocalWriter{dir: dir, embedModel: embedModel}
}

// Replace persists docs as the entire index content, superseding any prior
// index at the target path.
func (w *LocalWriter) Replace(_ context.Context, docs []Document) error {
	if len(docs) == 0 {
		return errors.New("vector: refusing to write an empty index")
	}
	dim := len(docs[0].Vector)
	for i, d := range docs {
		if len(d.Vector) != dim {
			return fmt.Errorf("vector: document %d has dimension %d, want %d", i, len(d.Vector), dim)
		}
	}

	parent := filepath.Dir(w.dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	staging, err := os.MkdirTemp(parent, ".index-build-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	if err := writeVectors(filepath.Join(staging, vectorsFile), docs); err != nil {
		return err
	}
	if err := writeDocstore(filepath.Join(staging, docstoreFile), docs); err != nil {
		return err
	}
	manifest := Manifest{
		EmbedModel: w.embedModel,
		Dimension:  dim,
		Count:      len(docs),
		CreatedAt:  time.Now().UTC(),
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(staging, manifestFile), data, 0o644); err != nil {
		return err
	}

	if err := os.RemoveAll(w.dir); err != nil {
		return err
	}
	return os.Rename(staging, w.dir)
}

// Close is a no-op for the local writer.
func (w *LocalWriter) Close() error { return nil }

func readManifest(dir string) (Manifest, error) {
	var manifest Manifest
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return manifest, fmt.Errorf("%w: %s", ErrIndexNotFound, dir)
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return manifest, fmt.Errorf("%w: corrupt manifest in %s: %v", ErrIndexNotFound, dir, err)
	}
	if manifest.Dimension <= 0 || manifest.Count <= 0 {
		return manifest, fmt.Errorf("%w: corrupt manifest in %s", ErrIndexNotFound, dir)
	}
	return manifest, nil
}

func writeVectors(path string, docs []Document) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, d := range docs {
		if err := binary.Write(f, binary.LittleEndian, d.Vector); err != nil {
			return err
		}
	}
	return f.Sync()
}

func readVectors(path string, dim, count int) ([][]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	want := dim * count * 4
	if len(data) != want {
		return nil, fmt.Errorf("vector file is %d bytes, want %d", len(data), want)
	}
	vectors := make([][]float32, count)
	off := 0
	for i := range vectors {
		v := make([]float32, dim)
		for j := range v {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
		vectors[i] = v
	}
	return vectors, nil
}

func writeDocstore(path string, docs []Document) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE documents (
		position   INTEGER PRIMARY KEY,
		id         TEXT NOT NULL,
		content    TEXT NOT NULL,
		source     TEXT NOT NULL,
		question   TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`); err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO documents
		(position, id, content, source, question, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i, d := range docs {
		_, err := stmt.Exec(i, d.ID, d.Content,
			d.Metadata["source"], d.Metadata["question"], d.Metadata["updated_at"])
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func readDocstore(path string, count int) ([]Document, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query(`SELECT id, content, source, question, updated_at
		FROM documents ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]Document, 0, count)
	for rows.Next() {
		var d Document
		var source, question, updatedAt string
		if err := rows.Scan(&d.ID, &d.Content, &source, &question, &updatedAt); err != nil {
			return nil, err
		}
		d.Metadata = map[string]string{
			"source":     source,
			"question":   question,
			"updated_at": updatedAt,
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(docs) != count {
		return nil, fmt.Errorf("docstore holds %d documents, manifest says %d", len(docs), count)
	}
	return docs, nil
}

func norm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}

func cosine(a []float32, na float32, b []float32, nb float32) float32 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot / (float64(na) * float64(nb)))
}
