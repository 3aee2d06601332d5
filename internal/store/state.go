package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LastSeenUID returns the highest digested UID for mailbox, 0 when unknown.
func (s *Store) LastSeenUID(ctx context.Context, mailbox string) (uint32, error) {
	var uid int64
	err := s.db.QueryRowContext(ctx,
		"SELECT last_seen_uid FROM mailbox_state WHERE mailbox = ?", mailbox,
	).Scan(&uid)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading last seen uid for %s: %w", mailbox, err)
	}
	return uint32(uid), nil
}

// SetLastSeenUID raises the cursor for mailbox to uid. A lower uid is a
// no-op: the cursor never moves backwards.
func (s *Store) SetLastSeenUID(ctx context.Context, mailbox string, uid uint32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mailbox_state (mailbox, last_seen_uid, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(mailbox) DO UPDATE SET
			last_seen_uid = MAX(last_seen_uid, excluded.last_seen_uid),
			updated_at = excluded.updated_at`,
		mailbox, int64(uid), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("updating last seen uid for %s: %w", mailbox, err)
	}
	return nil
}

// IsProcessed reports whether uid was marked processed in mailbox.
func (s *Store) IsProcessed(ctx context.Context, mailbox string, uid uint32) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM processed_uids WHERE mailbox = ? AND uid = ?", mailbox, int64(uid),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking processed uid: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed records uids for mailbox in order. UIDs already present keep
// their original position; when the list grows past maxKeep the oldest
// entries are dropped. maxKeep <= 0 means DefaultMaxProcessed.
func (s *Store) MarkProcessed(ctx context.Context, mailbox string, uids []uint32, maxKeep int) error {
	if maxKeep <= 0 {
		maxKeep = DefaultMaxProcessed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) FROM processed_uids WHERE mailbox = ?", mailbox,
	).Scan(&next); err != nil {
		return fmt.Errorf("reading processed sequence: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR IGNORE INTO processed_uids (mailbox, uid, seq) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, uid := range uids {
		res, err := stmt.ExecContext(ctx, mailbox, int64(uid), next+1)
		if err != nil {
			return fmt.Errorf("marking uid %d: %w", uid, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			next++
		}
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM processed_uids WHERE mailbox = ? AND seq <= (
			SELECT COALESCE(MAX(seq), 0) - ? FROM processed_uids WHERE mailbox = ?
		)`, mailbox, maxKeep, mailbox); err != nil {
		return fmt.Errorf("trimming processed uids: %w", err)
	}
	return tx.Commit()
}

// ProcessedUIDs lists the processed UIDs of mailbox, oldest first.
func (s *Store) ProcessedUIDs(ctx context.Context, mailbox string) ([]uint32, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT uid FROM processed_uids WHERE mailbox = ? ORDER BY seq", mailbox)
	if err != nil {
		return nil, fmt.Errorf("listing processed uids: %w", err)
	}
	defer rows.Close()

	var out []uint32
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		out = append(out, uint32(uid))
	}
	return out, rows.Err()
}

// Mailboxes returns the state of every tracked mailbox, sorted by name.
func (s *Store) Mailboxes(ctx context.Context) ([]MailboxState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.mailbox, COALESCE(s.last_seen_uid, 0), COALESCE(s.updated_at, ''),
		       (SELECT COUNT(*) FROM processed_uids p WHERE p.mailbox = m.mailbox)
		FROM (SELECT mailbox FROM mailbox_state UNION SELECT DISTINCT mailbox FROM processed_uids) m
		LEFT JOIN mailbox_state s ON s.mailbox = m.mailbox
		ORDER BY m.mailbox`)
	if err != nil {
		return nil, fmt.Errorf("listing mailboxes: %w", err)
	}
	defer rows.Close()

	var out []MailboxState
	for rows.Next() {
		var (
			ms      MailboxState
			uid     int64
			updated string
		)
		if err := rows.Scan(&ms.Mailbox, &uid, &updated, &ms.ProcessedCount); err != nil {
			return nil, err
		}
		ms.LastSeenUID = uint32(uid)
		ms.UpdatedAt = parseTime(updated)
		out = append(out, ms)
	}
	return out, rows.Err()
}

// Reset forgets all state for mailbox, or for every mailbox when it is "".
// The run log is kept.
func (s *Store) Reset(ctx context.Context, mailbox string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"mailbox_state", "processed_uids"} {
		q := "DELETE FROM " + table
		args := []any{}
		if mailbox != "" {
			q += " WHERE mailbox = ?"
			args = append(args, mailbox)
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("resetting %s: %w", table, err)
		}
	}
	return tx.Commit()
}
