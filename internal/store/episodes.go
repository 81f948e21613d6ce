package store

import (
	"encoding/json"
	"fmt"
	"time"

	"coco/internal/logging"
)

// ToolCall records one tool invocation performed during an exchange.
type ToolCall struct {
	Name          string         `json:"name"`
	Input         map[string]any `json:"input"`
	ResultSummary string         `json:"result_summary"`
}

// Exchange is one user+assistant turn, including any tool calls performed
// during that turn. Immutable once written except for the summarized flag.
type Exchange struct {
	ID            int64
	CreatedAt     time.Time
	SessionID     string
	UserText      string
	AgentText     string
	ToolCalls     []ToolCall
	TokenEstimate int
	Summarized    bool
	Autonomous    bool
}

// Summary is a compressed digest of a contiguous range of exchanges.
type Summary struct {
	ID              int64
	FirstExchangeID int64
	LastExchangeID  int64
	Text            string
	TokenEstimate   int
	CreatedAt       time.Time
}

// InsertExchange persists a new exchange and assigns its id.
func (s *LocalStore) InsertExchange(ex *Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	calls, err := json.Marshal(ex.ToolCalls)
	if err != nil {
		return fmt.Errorf("failed to serialize tool calls: %w", err)
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.Exec(`
		INSERT INTO exchanges (created_at, session_id, user_text, agent_text, tool_calls, token_estimate, summarized, autonomous)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.CreatedAt, ex.SessionID, ex.UserText, ex.AgentText, string(calls),
		ex.TokenEstimate, boolToInt(ex.Summarized), boolToInt(ex.Autonomous),
	)
	if err != nil {
		return fmt.Errorf("failed to insert exchange: %w", err)
	}
	ex.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read exchange id: %w", err)
	}
	logging.StoreDebug("Inserted exchange %d (%d tokens)", ex.ID, ex.TokenEstimate)
	return nil
}

// MarkExchangesSummarized flips the summarized flag for the given ids.
func (s *LocalStore) MarkExchangesSummarized(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("UPDATE exchanges SET summarized = 1 WHERE id = ?")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.Exec(id); err != nil {
			return fmt.Errorf("failed to mark exchange %d summarized: %w", id, err)
		}
	}
	return tx.Commit()
}

// RecentExchanges returns the newest n unsummarized exchanges in id order.
// Used to rehydrate the episodic buffer on startup.
func (s *LocalStore) RecentExchanges(n int) ([]*Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, created_at, session_id, user_text, agent_text, tool_calls, token_estimate, summarized, autonomous
		FROM exchanges WHERE summarized = 0
		ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to load exchanges: %w", err)
	}
	defer rows.Close()

	var out []*Exchange
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	// Reverse into ascending id order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// ExchangeByID loads a single exchange.
func (s *LocalStore) ExchangeByID(id int64) (*Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, created_at, session_id, user_text, agent_text, tool_calls, token_estimate, summarized, autonomous
		FROM exchanges WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, fmt.Errorf("exchange %d not found", id)
	}
	return scanExchange(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExchange(row rowScanner) (*Exchange, error) {
	var ex Exchange
	var calls string
	var summarized, autonomous int
	if err := row.Scan(&ex.ID, &ex.CreatedAt, &ex.SessionID, &ex.UserText, &ex.AgentText,
		&calls, &ex.TokenEstimate, &summarized, &autonomous); err != nil {
		return nil, fmt.Errorf("failed to scan exchange: %w", err)
	}
	if err := json.Unmarshal([]byte(calls), &ex.ToolCalls); err != nil {
		ex.ToolCalls = nil
	}
	ex.Summarized = summarized != 0
	ex.Autonomous = autonomous != 0
	return &ex, nil
}

// InsertSummary persists a summary row.
func (s *LocalStore) InsertSummary(sum *Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(`
		INSERT INTO summaries (first_exchange_id, last_exchange_id, text, token_estimate, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		sum.FirstExchangeID, sum.LastExchangeID, sum.Text, sum.TokenEstimate, sum.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert summary: %w", err)
	}
	sum.ID, err = res.LastInsertId()
	return err
}

// Summaries returns all summaries in creation order.
func (s *LocalStore) Summaries() ([]*Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, first_exchange_id, last_exchange_id, text, token_estimate, created_at
		FROM summaries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load summaries: %w", err)
	}
	defer rows.Close()

	var out []*Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.ID, &sum.FirstExchangeID, &sum.LastExchangeID,
			&sum.Text, &sum.TokenEstimate, &sum.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &sum)
	}
	return out, rows.Err()
}

// DeleteSummary evicts one summary (oldest-first pruning).
func (s *LocalStore) DeleteSummary(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM summaries WHERE id = ?", id)
	return err
}

// ExchangeCount returns the total number of durable exchanges.
func (s *LocalStore) ExchangeCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM exchanges").Scan(&n)
	return n, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
