package retrieval

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	coctx "coco/internal/context"
	"coco/internal/logging"
)

// DocumentIndex supplies document context for the system prompt. The contract:
// results never exceed budgetTokens, are deterministic for a fixed corpus and
// query, and every chunk is preceded by a header naming its source document.
type DocumentIndex interface {
	RelevantChunks(query string, budgetTokens int) (string, error)
}

// chunkTargetBytes is the approximate size a document is split into before
// ranking. Chunks break on paragraph boundaries, so real sizes vary.
const chunkTargetBytes = 1200

type chunk struct {
	source  string
	ordinal int
	text    string
	terms   map[string]int
}

// KeywordIndex is the default DocumentIndex: it chunks text files from a
// directory and ranks chunks by keyword overlap with the query. No external
// index, no randomness.
type KeywordIndex struct {
	chunks    []chunk
	estimator *coctx.Estimator
}

// NewKeywordIndex builds an index over the .md and .txt files directly inside
// dir. Files are read once at construction; callers rebuild to pick up edits.
func NewKeywordIndex(dir string, estimator *coctx.Estimator) (*KeywordIndex, error) {
	if estimator == nil {
		estimator = coctx.NewEstimator()
	}
	idx := &KeywordIndex{estimator: estimator}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, fmt.Errorf("failed to read document dir: %w", err)
	}

	// Deterministic corpus order: ReadDir sorts by filename.
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".md" && ext != ".txt" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			logging.Router("Skipping unreadable document %s: %v", entry.Name(), err)
			continue
		}
		idx.addDocument(entry.Name(), string(data))
	}
	logging.Router("Indexed %d chunks from %s", len(idx.chunks), dir)
	return idx, nil
}

func (idx *KeywordIndex) addDocument(source, text string) {
	ordinal := 0
	for _, part := range splitChunks(text) {
		idx.chunks = append(idx.chunks, chunk{
			source:  source,
			ordinal: ordinal,
			text:    part,
			terms:   termCounts(part),
		})
		ordinal++
	}
}

// splitChunks groups paragraphs into chunks of roughly chunkTargetBytes.
func splitChunks(text string) []string {
	paragraphs := strings.Split(text, "\n\n")
	var out []string
	var current strings.Builder
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(p) > chunkTargetBytes {
			out = append(out, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}

// ChunkCount returns the number of indexed chunks.
func (idx *KeywordIndex) ChunkCount() int { return len(idx.chunks) }

// RelevantChunks returns the best-matching chunks for the query, concatenated
// with source headers, within budgetTokens. A chunk is included whole or not
// at all. Zero-overlap chunks are never included.
func (idx *KeywordIndex) RelevantChunks(query string, budgetTokens int) (string, error) {
	if budgetTokens <= 0 || len(idx.chunks) == 0 {
		return "", nil
	}

	queryTerms := termCounts(query)
	if len(queryTerms) == 0 {
		return "", nil
	}

	type scored struct {
		idx   int
		score float64
	}
	var ranked []scored
	for i, c := range idx.chunks {
		s := overlapScore(queryTerms, c.terms)
		if s > 0 {
			ranked = append(ranked, scored{idx: i, score: s})
		}
	}
	if len(ranked) == 0 {
		return "", nil
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].idx < ranked[j].idx
	})

	var sb strings.Builder
	used := 0
	for _, r := range ranked {
		c := idx.chunks[r.idx]
		header := fmt.Sprintf("--- %s (chunk %d) ---\n", c.source, c.ordinal)
		cost := idx.estimator.Estimate(header) + idx.estimator.Estimate(c.text) + 2
		if used+cost > budgetTokens {
			continue
		}
		used += cost
		sb.WriteString(header)
		sb.WriteString(c.text)
		sb.WriteString("\n\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// overlapScore is the fraction of distinct query terms present in the chunk,
// weighted toward rarer (longer) terms.
func overlapScore(query, doc map[string]int) float64 {
	var total, matched float64
	for term := range query {
		w := 1.0
		if len(term) >= 6 {
			w = 2.0
		}
		total += w
		if doc[term] > 0 {
			matched += w
		}
	}
	if total == 0 {
		return 0
	}
	return matched / total
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "on": true, "is": true, "it": true, "for": true,
	"with": true, "was": true, "are": true, "what": true, "that": true,
	"this": true, "my": true, "me": true, "i": true, "you": true, "do": true,
}

func termCounts(text string) map[string]int {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]int)
	for _, w := range words {
		if len(w) < 2 || stopwords[w] {
			continue
		}
		out[w]++
	}
	return out
}
