package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus enumerates the states of a deferred external action.
type OutboxStatus string

const (
	OutboxPending  OutboxStatus = "pending"
	OutboxApproved OutboxStatus = "approved"
	OutboxRejected OutboxStatus = "rejected"
)

// OutboxEntry is an external action (email send, tweet post) held for manual
// approval instead of being executed directly.
type OutboxEntry struct {
	ID         string
	CreatedAt  time.Time
	ToolName   string
	Payload    map[string]any
	Origin     string // task or template that produced the entry
	Status     OutboxStatus
	ResolvedAt time.Time
}

// InsertOutbox stores a pending entry.
func (s *LocalStore) InsertOutbox(e *OutboxEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Status == "" {
		e.Status = OutboxPending
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to serialize outbox payload: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO outbox (id, created_at, tool_name, payload, origin, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.CreatedAt, e.ToolName, string(payload), e.Origin, string(e.Status),
	)
	return err
}

// PendingOutbox lists unresolved entries, oldest first.
func (s *LocalStore) PendingOutbox() ([]*OutboxEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, created_at, tool_name, payload, origin, status, resolved_at
		FROM outbox WHERE status = 'pending' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		var payload, status string
		var resolved sql.NullTime
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.ToolName, &payload, &e.Origin, &status, &resolved); err != nil {
			return nil, err
		}
		e.Status = OutboxStatus(status)
		if resolved.Valid {
			e.ResolvedAt = resolved.Time
		}
		_ = json.Unmarshal([]byte(payload), &e.Payload)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ResolveOutbox marks an entry approved or rejected by id prefix.
func (s *LocalStore) ResolveOutbox(prefix string, status OutboxStatus) (*OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, created_at, tool_name, payload, origin, status, resolved_at
		FROM outbox WHERE id LIKE ? AND status = 'pending' LIMIT 2`, prefix+"%")
	if err != nil {
		return nil, err
	}
	var matches []*OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		var payload, st string
		var resolved sql.NullTime
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.ToolName, &payload, &e.Origin, &st, &resolved); err != nil {
			rows.Close()
			return nil, err
		}
		e.Status = OutboxStatus(st)
		_ = json.Unmarshal([]byte(payload), &e.Payload)
		matches = append(matches, &e)
	}
	rows.Close()

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: outbox %s", ErrTaskNotFound, prefix)
	case 1:
	default:
		return nil, fmt.Errorf("%w: outbox %s", ErrAmbiguousPrefix, prefix)
	}

	entry := matches[0]
	entry.Status = status
	entry.ResolvedAt = time.Now().UTC()
	_, err = s.db.Exec("UPDATE outbox SET status = ?, resolved_at = ? WHERE id = ?",
		string(status), entry.ResolvedAt, entry.ID)
	return entry, err
}

func marshalConfig(cfg map[string]any) (string, error) {
	if cfg == nil {
		return "{}", nil
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to serialize config: %w", err)
	}
	return string(data), nil
}

func unmarshalConfig(data string) map[string]any {
	out := make(map[string]any)
	_ = json.Unmarshal([]byte(data), &out)
	return out
}
