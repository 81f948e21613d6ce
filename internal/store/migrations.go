package store

import (
	"database/sql"
	"fmt"
	"strconv"

	"coco/internal/logging"
)

// CurrentSchemaVersion tracks the additive migration level.
//
// v1: initial tables
// v2: exchanges.autonomous flag
// v3: vectors.importance column
// v4: outbox.origin column
const CurrentSchemaVersion = 4

// Migration adds one column to one table. Migrations are additive only;
// anything that would drop or rewrite data fails with ErrSchemaIncompatible
// instead of proceeding.
type Migration struct {
	Version int
	Table   string
	Column  string
	Def     string
}

var pendingMigrations = []Migration{
	{2, "exchanges", "autonomous", "INTEGER NOT NULL DEFAULT 0"},
	{3, "vectors", "importance", "REAL NOT NULL DEFAULT 1.0"},
	{4, "outbox", "origin", "TEXT NOT NULL DEFAULT ''"},
}

func (s *LocalStore) runMigrations() error {
	version, err := s.schemaVersion()
	if err != nil {
		return err
	}
	if version > CurrentSchemaVersion {
		// A newer COCO wrote this database. Downgrading would require
		// dropping columns, which is destructive.
		return fmt.Errorf("%w: database schema version %d is newer than supported version %d",
			ErrSchemaIncompatible, version, CurrentSchemaVersion)
	}
	if version == CurrentSchemaVersion {
		return nil
	}

	applied := 0
	for _, m := range pendingMigrations {
		if m.Version <= version {
			continue
		}
		if !columnExists(s.db, m.Table, m.Column) {
			query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
			if _, err := s.db.Exec(query); err != nil {
				return fmt.Errorf("migration v%d (%s.%s) failed: %w", m.Version, m.Table, m.Column, err)
			}
			applied++
		}
	}
	if err := s.setSchemaVersion(CurrentSchemaVersion); err != nil {
		return err
	}
	logging.Store("Migrated schema from v%d to v%d (%d columns added)", version, CurrentSchemaVersion, applied)
	return nil
}

func (s *LocalStore) schemaVersion() (int, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM schema_meta WHERE key = 'version'").Scan(&value)
	if err == sql.ErrNoRows {
		// Fresh database: initSchema already created the full current layout.
		if err := s.setSchemaVersion(CurrentSchemaVersion); err != nil {
			return 0, err
		}
		return CurrentSchemaVersion, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed schema version %q", ErrSchemaIncompatible, value)
	}
	return v, nil
}

func (s *LocalStore) setSchemaVersion(v int) error {
	_, err := s.db.Exec(
		"INSERT INTO schema_meta (key, value) VALUES ('version', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		strconv.Itoa(v),
	)
	if err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
