package store

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"
)

// HashDigest computes the SHA-256 of a rendered digest, used to spot runs
// that produced identical output.
func HashDigest(content string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(content)))
}

// RecordRun appends r to the run log and returns its id. A missing id is
// generated.
func (s *Store) RecordRun(ctx context.Context, r Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, mailbox, source, started_at, finished_at, messages, threads, output, output_hash, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Mailbox, r.Source, formatTime(r.StartedAt), formatTime(r.FinishedAt),
		r.Messages, r.Threads, r.Output, r.OutputHash, r.Error)
	if err != nil {
		return "", fmt.Errorf("recording run: %w", err)
	}
	return r.ID, nil
}

// Runs returns the most recent runs, newest first. limit <= 0 means 20.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mailbox, source, started_at, finished_at, messages, threads, output, output_hash, error
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished string
		)
		if err := rows.Scan(&r.ID, &r.Mailbox, &r.Source, &started, &finished,
			&r.Messages, &r.Threads, &r.Output, &r.OutputHash, &r.Error); err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}
