package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"coco/internal/embedding"
	"coco/internal/logging"
)

// SemanticEntry is one row of the semantic store.
type SemanticEntry struct {
	ID         int64
	Content    string
	Importance float64
	CreatedAt  time.Time
	Similarity float64 // populated by retrieval
}

// AddSemantic stores free text with its embedding. When no embedding engine
// is configured the text is stored without a vector and remains reachable by
// keyword fallback.
func (s *LocalStore) AddSemantic(ctx context.Context, content string, importance float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var embJSON any
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, content)
		if err != nil {
			return fmt.Errorf("failed to embed content: %w", err)
		}
		data, err := json.Marshal(vec)
		if err != nil {
			return fmt.Errorf("failed to serialize embedding: %w", err)
		}
		embJSON = string(data)
	}

	_, err := s.db.Exec(
		"INSERT INTO vectors (content, embedding, importance) VALUES (?, ?, ?)",
		content, embJSON, importance,
	)
	if err != nil {
		return fmt.Errorf("failed to insert semantic memory: %w", err)
	}
	return nil
}

// RetrieveSemantic returns the k most similar entries by cosine similarity.
// Retrieval is deterministic given the same rows and query: scores depend
// only on stored vectors, and ties are broken by id.
func (s *LocalStore) RetrieveSemantic(ctx context.Context, query string, k int) ([]SemanticEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 {
		k = 5
	}
	if s.embedder == nil {
		return s.retrieveKeyword(query, k)
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	rows, err := s.db.Query(
		"SELECT id, content, embedding, importance, created_at FROM vectors WHERE embedding IS NOT NULL")
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer rows.Close()

	var candidates []SemanticEntry
	for rows.Next() {
		var entry SemanticEntry
		var embJSON string
		if err := rows.Scan(&entry.ID, &entry.Content, &embJSON, &entry.Importance, &entry.CreatedAt); err != nil {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(embJSON), &vec); err != nil {
			continue
		}
		sim, err := embedding.CosineSimilarity(queryVec, vec)
		if err != nil {
			// Dimension mismatch from a provider switch; skip rather than fail.
			logging.EmbeddingDebug("skipping vector %d: %v", entry.ID, err)
			continue
		}
		entry.Similarity = sim
		candidates = append(candidates, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].ID < candidates[j].ID
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// retrieveKeyword is the no-embedder fallback: term overlap ranking.
func (s *LocalStore) retrieveKeyword(query string, k int) ([]SemanticEntry, error) {
	rows, err := s.db.Query("SELECT id, content, importance, created_at FROM vectors")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	terms := searchTerms(query)
	var candidates []SemanticEntry
	for rows.Next() {
		var entry SemanticEntry
		if err := rows.Scan(&entry.ID, &entry.Content, &entry.Importance, &entry.CreatedAt); err != nil {
			continue
		}
		lower := strings.ToLower(entry.Content)
		hits := 0
		for _, t := range terms {
			if strings.Contains(lower, t) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		entry.Similarity = float64(hits) / float64(len(terms))
		candidates = append(candidates, entry)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].ID < candidates[j].ID
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, rows.Err()
}

// SemanticCount returns the number of semantic memories.
func (s *LocalStore) SemanticCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM vectors").Scan(&n)
	return n, err
}
