// Package store implements COCO's durable persistence on SQLite: the episodic
// log and summaries, the typed facts database, the semantic vector store, and
// the scheduler's tasks, executions, and outbox. One LocalStore owns a single
// database file inside the workspace.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"coco/internal/embedding"
	"coco/internal/logging"
)

// ErrSchemaIncompatible is returned when the on-disk schema cannot be
// upgraded without destroying data. Fatal at startup.
var ErrSchemaIncompatible = errors.New("schema incompatible")

// LocalStore provides durable storage for exchanges, summaries, facts,
// semantic memories, and scheduler state.
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string

	// Optional engine for the semantic store. When nil, semantic writes
	// store content without vectors and retrieval falls back to keywords.
	embedder embedding.Engine
}

// NewLocalStore opens (or creates) the SQLite database at the given path and
// brings the schema up to date.
func NewLocalStore(path string) (*LocalStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewLocalStore")
	defer timer.Stop()

	logging.Store("Opening store at %s", path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StoreDebug("pragma failed: %s: %v", pragma, err)
		}
	}

	s := &LocalStore{db: db, dbPath: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	logging.StoreDebug("Schema initialized")
	return s, nil
}

// SetEmbeddingEngine configures the engine used by the semantic store.
// Must be called before AddSemantic / RetrieveSemantic for vector search.
func (s *LocalStore) SetEmbeddingEngine(engine embedding.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embedder = engine
}

// Close closes the underlying database.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the database file path.
func (s *LocalStore) Path() string { return s.dbPath }

func (s *LocalStore) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS exchanges (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	session_id TEXT NOT NULL DEFAULT '',
	user_text TEXT NOT NULL,
	agent_text TEXT NOT NULL,
	tool_calls TEXT NOT NULL DEFAULT '[]',
	token_estimate INTEGER NOT NULL DEFAULT 0,
	summarized INTEGER NOT NULL DEFAULT 0,
	autonomous INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_exchanges_summarized ON exchanges(summarized);
CREATE INDEX IF NOT EXISTS idx_exchanges_session ON exchanges(session_id);

CREATE TABLE IF NOT EXISTS summaries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	first_exchange_id INTEGER NOT NULL,
	last_exchange_id INTEGER NOT NULL,
	text TEXT NOT NULL,
	token_estimate INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS facts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	fact_type TEXT NOT NULL,
	content TEXT NOT NULL,
	context TEXT NOT NULL DEFAULT '',
	episode_id INTEGER,
	session_id TEXT NOT NULL DEFAULT '',
	timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	importance REAL NOT NULL DEFAULT 0.5,
	access_count INTEGER NOT NULL DEFAULT 0,
	last_accessed DATETIME,
	tags TEXT NOT NULL DEFAULT '[]',
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_facts_type ON facts(fact_type);
CREATE INDEX IF NOT EXISTS idx_facts_importance ON facts(importance);
CREATE INDEX IF NOT EXISTS idx_facts_timestamp ON facts(timestamp);
CREATE INDEX IF NOT EXISTS idx_facts_episode ON facts(episode_id);
CREATE INDEX IF NOT EXISTS idx_facts_session ON facts(session_id);
CREATE INDEX IF NOT EXISTS idx_facts_access ON facts(access_count);

CREATE TABLE IF NOT EXISTS vectors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content TEXT NOT NULL,
	embedding TEXT,
	importance REAL NOT NULL DEFAULT 1.0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	schedule_text TEXT NOT NULL,
	cron_expr TEXT NOT NULL,
	timezone TEXT NOT NULL DEFAULT '',
	template_name TEXT NOT NULL,
	config TEXT NOT NULL DEFAULT '{}',
	enabled INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_run_at DATETIME,
	last_status TEXT NOT NULL DEFAULT '',
	next_run_at DATETIME
);

CREATE TABLE IF NOT EXISTS executions (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	completed_at DATETIME,
	status TEXT NOT NULL,
	output_summary TEXT NOT NULL DEFAULT '',
	FOREIGN KEY(task_id) REFERENCES tasks(id)
);
CREATE INDEX IF NOT EXISTS idx_executions_task ON executions(task_id, started_at);

CREATE TABLE IF NOT EXISTS outbox (
	id TEXT PRIMARY KEY,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	tool_name TEXT NOT NULL,
	payload TEXT NOT NULL,
	origin TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	resolved_at DATETIME
);

CREATE TABLE IF NOT EXISTS schema_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}
