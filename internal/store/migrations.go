package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const schemaVersion = 2

var bootstrapDDL = []string{
	`CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS mailbox_state (
		mailbox       TEXT PRIMARY KEY,
		last_seen_uid INTEGER NOT NULL DEFAULT 0,
		updated_at    TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS processed_uids (
		mailbox TEXT NOT NULL,
		uid     INTEGER NOT NULL,
		seq     INTEGER NOT NULL,
		PRIMARY KEY (mailbox, uid)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_processed_seq ON processed_uids(mailbox, seq)`,
	`CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		mailbox     TEXT NOT NULL,
		started_at  TEXT NOT NULL,
		finished_at TEXT NOT NULL DEFAULT '',
		messages    INTEGER NOT NULL DEFAULT 0,
		threads     INTEGER NOT NULL DEFAULT 0,
		output      TEXT NOT NULL DEFAULT '',
		error       TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
}

// migrate creates all tables if they don't exist and applies column
// additions. Every step is idempotent.
func (s *Store) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning bootstrap: %w", err)
	}
	defer tx.Rollback()

	for _, ddl := range bootstrapDDL {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("bootstrap DDL: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO meta (key, value) VALUES ('created_at', ?)",
		time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("seeding meta: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing bootstrap: %w", err)
	}

	// v2: runs gained the source name and a digest hash.
	if err := s.addColumn(ctx, "runs", "source", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	if err := s.addColumn(ctx, "runs", "output_hash", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO meta (key, value) VALUES ('schema_version', ?)",
		strconv.Itoa(schemaVersion))
	return err
}

// SchemaVersion reports the version recorded in meta.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'schema_version'").Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

func (s *Store) addColumn(ctx context.Context, table, column, decl string) error {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	if err != nil && !isDuplicateColumnError(err) {
		return fmt.Errorf("adding %s.%s: %w", table, column, err)
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}
