package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"coco/internal/facts"
	"coco/internal/logging"
)

// Search ranking weights. Keyword match dominates; importance, access
// frequency, and recency break the field apart.
const (
	weightMatch      = 0.45
	weightImportance = 0.25
	weightAccess     = 0.15
	weightRecency    = 0.15

	recencyHalfLife = 30 * 24 * time.Hour
)

// ScoredFact pairs a fact with its search score.
type ScoredFact struct {
	Fact  facts.Fact
	Score float64
}

// AddFact persists a fact. A (type, content) pair already present with the
// same context is treated as a duplicate and skipped; the same pair with a
// meaningfully different context is stored as a new row.
func (s *LocalStore) AddFact(f *facts.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM facts WHERE fact_type = ? AND content = ? AND context = ?",
		string(f.Type), f.Content, f.Context,
	).Scan(&existing)
	if err != nil {
		return fmt.Errorf("failed to check fact duplicate: %w", err)
	}
	if existing > 0 {
		logging.FactsDebug("Skipping duplicate fact: %s %q", f.Type, f.Content)
		return nil
	}

	tags, _ := json.Marshal(f.Tags)
	meta, _ := json.Marshal(f.Metadata)
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now().UTC()
	}

	var episodeID any
	if f.EpisodeID > 0 {
		episodeID = f.EpisodeID
	}

	res, err := s.db.Exec(`
		INSERT INTO facts (fact_type, content, context, episode_id, session_id, timestamp, importance, access_count, last_accessed, tags, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(f.Type), f.Content, f.Context, episodeID, f.SessionID, f.Timestamp,
		f.Importance, f.AccessCount, nullableTime(f.LastAccess), string(tags), string(meta),
	)
	if err != nil {
		return fmt.Errorf("failed to insert fact: %w", err)
	}
	f.ID, _ = res.LastInsertId()
	logging.FactsDebug("Stored fact %d: %s %q (importance=%.2f)", f.ID, f.Type, f.Content, f.Importance)
	return nil
}

// SearchFacts ranks facts against a free-text query. The result is a pure
// function of the store's rows and the query: scoring uses only row data and
// the query, and ties are broken deterministically by importance, recency,
// then id.
func (s *LocalStore) SearchFacts(query string, limit int, types []facts.Type) ([]ScoredFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	rows, err := s.queryFactRows(types)
	if err != nil {
		return nil, err
	}

	terms := searchTerms(query)
	now := time.Now().UTC()

	var scored []ScoredFact
	for _, f := range rows {
		match := keywordMatchScore(f, terms)
		if match == 0 && len(terms) > 0 && len(types) == 0 {
			continue
		}
		scored = append(scored, ScoredFact{Fact: f, Score: factScore(f, match, now)})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Fact.Importance != b.Fact.Importance {
			return a.Fact.Importance > b.Fact.Importance
		}
		if !a.Fact.Timestamp.Equal(b.Fact.Timestamp) {
			return a.Fact.Timestamp.After(b.Fact.Timestamp)
		}
		return a.Fact.ID < b.Fact.ID
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func factScore(f facts.Fact, match float64, now time.Time) float64 {
	access := math.Log1p(float64(f.AccessCount)) / math.Log1p(100)
	if access > 1 {
		access = 1
	}
	age := now.Sub(f.Timestamp)
	recency := math.Pow(0.5, age.Hours()/recencyHalfLife.Hours())
	return weightMatch*match + weightImportance*f.Importance + weightAccess*access + weightRecency*recency
}

func searchTerms(query string) []string {
	var terms []string
	for _, t := range strings.Fields(strings.ToLower(query)) {
		t = strings.Trim(t, ".,!?;:\"'")
		if len(t) > 2 {
			terms = append(terms, t)
		}
	}
	return terms
}

func keywordMatchScore(f facts.Fact, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	content := strings.ToLower(f.Content)
	context := strings.ToLower(f.Context)
	hits := 0.0
	for _, t := range terms {
		switch {
		case strings.Contains(content, t):
			hits += 1.0
		case strings.Contains(context, t):
			hits += 0.5
		}
	}
	return hits / float64(len(terms))
}

// FactsByType returns the most important facts of one type.
func (s *LocalStore) FactsByType(factType facts.Type, limit int) ([]facts.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(factSelect+` WHERE fact_type = ?
		ORDER BY importance DESC, timestamp DESC LIMIT ?`, string(factType), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query facts by type: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// TouchFact increments access_count and sets last_accessed. Frequent access
// also promotes importance slightly, capped at 1.0.
func (s *LocalStore) TouchFact(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE facts SET
			access_count = access_count + 1,
			last_accessed = ?,
			importance = MIN(1.0, importance + 0.01)
		WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch fact %d: %w", id, err)
	}
	return nil
}

// FactStats summarizes the store's contents.
type FactStats struct {
	Total         int
	ByType        map[facts.Type]int
	AvgImportance float64
}

// Stats returns counts per type and the average importance.
func (s *LocalStore) Stats() (*FactStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &FactStats{ByType: make(map[facts.Type]int)}

	rows, err := s.db.Query("SELECT fact_type, COUNT(*) FROM facts GROUP BY fact_type")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ft string
		var n int
		if err := rows.Scan(&ft, &n); err != nil {
			return nil, err
		}
		stats.ByType[facts.Type(ft)] = n
		stats.Total += n
	}
	if stats.Total > 0 {
		if err := s.db.QueryRow("SELECT AVG(importance) FROM facts").Scan(&stats.AvgImportance); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

// ApplyImportanceDecay decays importance by elapsed time since last access.
// Called at startup only, never within a session. halfLifeDays <= 0 disables.
func (s *LocalStore) ApplyImportanceDecay(halfLifeDays float64) error {
	if halfLifeDays <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Floor keeps decayed facts discoverable by type queries.
	_, err := s.db.Exec(`
		UPDATE facts SET importance = MAX(0.1, importance * POWER(0.5,
			(JULIANDAY('now') - JULIANDAY(COALESCE(last_accessed, timestamp))) / ?))`,
		halfLifeDays)
	if err != nil {
		return fmt.Errorf("failed to apply importance decay: %w", err)
	}
	return nil
}

const factSelect = `
	SELECT id, fact_type, content, context, COALESCE(episode_id, 0), session_id,
	       timestamp, importance, access_count, last_accessed, tags, metadata
	FROM facts`

func (s *LocalStore) queryFactRows(types []facts.Type) ([]facts.Fact, error) {
	query := factSelect
	var args []any
	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		query += " WHERE fact_type IN (" + strings.Join(placeholders, ",") + ")"
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

func scanFacts(rows *sql.Rows) ([]facts.Fact, error) {
	var out []facts.Fact
	for rows.Next() {
		var f facts.Fact
		var ft, tags, meta string
		var lastAccess sql.NullTime
		if err := rows.Scan(&f.ID, &ft, &f.Content, &f.Context, &f.EpisodeID, &f.SessionID,
			&f.Timestamp, &f.Importance, &f.AccessCount, &lastAccess, &tags, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan fact: %w", err)
		}
		f.Type = facts.Type(ft)
		if lastAccess.Valid {
			f.LastAccess = lastAccess.Time
		}
		_ = json.Unmarshal([]byte(tags), &f.Tags)
		_ = json.Unmarshal([]byte(meta), &f.Metadata)
		out = append(out, f)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
