package corpus

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ConvertOptions configures a MedQuAD conversion run.
type ConvertOptions struct {
	// Limit caps the number of exported records (0 = all).
	Limit int
}

// ConvertMedQuAD walks a directory of MedQuAD XML files and writes the corpus
// JSON array to outputPath. Records are deduplicated by (question, answer)
// pair across all files; unparsable files are skipped.
func ConvertMedQuAD(inputDir, outputPath string, opts ConvertOptions) (int, error) {
	info, err := os.Stat(inputDir)
	if err != nil || !info.IsDir() {
		return 0, fmt.Errorf("corpus: input directory not found: %s", inputDir)
	}

	var xmlFiles []string
	err = filepath.WalkDir(inputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".xml") {
			xmlFiles = append(xmlFiles, path)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("corpus: walking %s: %w", inputDir, err)
	}
	sort.Strings(xmlFiles)
	if len(xmlFiles) == 0 {
		return 0, fmt.Errorf("corpus: no XML files found in %s", inputDir)
	}

	var records []Record
	seen := make(map[[2]string]struct{})

	for _, path := range xmlFiles {
		parsed, err := parseMedQuADFile(path)
		if err != nil {
			continue
		}
		for _, rec := range parsed {
			key := [2]string{rec.Question, rec.Answer}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			records = append(records, rec)
			if opts.Limit > 0 && len(records) >= opts.Limit {
				break
			}
		}
		if opts.Limit > 0 && len(records) >= opts.Limit {
			break
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return 0, err
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return 0, err
	}
	return len(records), nil
}

// medquadNode is a namespace-insensitive view of one XML element.
type medquadNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr    `xml:",any,attr"`
	Text     string        `xml:",chardata"`
	Children []medquadNode `xml:",any"`
}

func parseMedQuADFile(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var root medquadNode
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, err
	}

	// MedQuAD carries provenance as attributes on the Document element; some
	// variants use child elements instead.
	source := firstAttr(&root, "url", "source")
	if source == "" {
		source = firstText(&root, "url", "source", "documenturl")
	}
	if source == "" {
		source = "medquad:" + filepath.Base(path)
	}

	var records []Record
	collectQAPairs(&root, source, &records)
	return records, nil
}

// collectQAPairs finds QAPair elements anywhere in the tree and extracts
// their first non-empty Question and Answer.
func collectQAPairs(n *medquadNode, source string, out *[]Record) {
	if strings.EqualFold(n.XMLName.Local, "qapair") {
		question := firstText(n, "question")
		answer := firstText(n, "answer")
		if question != "" && answer != "" {
			*out = append(*out, Record{
				Question:  question,
				Answer:    answer,
				Source:    source,
				UpdatedAt: "unknown",
			})
		}
		return
	}
	for i := range n.Children {
		collectQAPairs(&n.Children[i], source, out)
	}
}

// firstText returns the first non-empty normalized text of a descendant whose
// local name matches one of the candidates, in document order.
func firstText(n *medquadNode, names ...string) string {
	for i := range n.Children {
		child := &n.Children[i]
		for _, name := range names {
			if strings.EqualFold(child.XMLName.Local, name) {
				if text := normalizeSpace(collectText(child)); text != "" {
					return text
				}
			}
		}
		if text := firstText(child, names...); text != "" {
			return text
		}
	}
	return ""
}

// firstAttr returns the first attribute on n whose local name matches one of
// the candidates, in candidate priority order.
func firstAttr(n *medquadNode, names ...string) string {
	for _, name := range names {
		for _, attr := range n.Attrs {
			if strings.EqualFold(attr.Name.Local, name) {
				if v := strings.TrimSpace(attr.Value); v != "" {
					return v
				}
			}
		}
	}
	return ""
}

func collectText(n *medquadNode) string {
	var b strings.Builder
	b.WriteString(n.Text)
	for i := range n.Children {
		b.WriteString(collectText(&n.Children[i]))
	}
	return b.String()
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
