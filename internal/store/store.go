// Package store persists incremental fetch state for inboxdigest in SQLite.
//
// One database file holds, per mailbox, the highest UID already digested and
// a bounded list of processed UIDs, plus a log of digest runs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultMaxProcessed bounds the processed-UID list kept per mailbox.
const DefaultMaxProcessed = 5000

// MailboxState is the incremental cursor for one mailbox.
type MailboxState struct {
	Mailbox        string    `json:"mailbox"`
	LastSeenUID    uint32    `json:"last_seen_uid"`
	ProcessedCount int       `json:"processed_count"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Run is one recorded digest invocation.
type Run struct {
	ID         string    `json:"id"`
	Mailbox    string    `json:"mailbox"`
	Source     string    `json:"source"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Messages   int       `json:"messages"`
	Threads    int       `json:"threads"`
	Output     string    `json:"output,omitempty"`
	OutputHash string    `json:"output_hash,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Store is the SQLite-backed state tracker.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the state database at path.
// Pass ":memory:" for in-memory databases (testing).
func Open(ctx context.Context, path string) (*Store, error) {
	path = expandPath(path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps ":memory:" coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 1 && path[0] == '~' && (path[1] == '/' || path[1] == filepath.Separator) {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
