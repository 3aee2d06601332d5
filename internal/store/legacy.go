package store

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-json"
)

// legacyState is the JSON state file written by earlier releases:
//
//	{"mailboxes": {"INBOX": {"last_seen_uid": 812, "processed_uids": [801, 812]}}}
type legacyState struct {
	Mailboxes map[string]struct {
		LastSeenUID   uint32   `json:"last_seen_uid"`
		ProcessedUIDs []uint32 `json:"processed_uids"`
	} `json:"mailboxes"`
}

// ImportLegacyJSON merges a JSON state file into the store and returns the
// number of mailboxes imported. Cursors only move forward.
func (s *Store) ImportLegacyJSON(ctx context.Context, path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	var st legacyState
	if err := json.Unmarshal(b, &st); err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}

	names := make([]string, 0, len(st.Mailboxes))
	for name := range st.Mailboxes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		box := st.Mailboxes[name]
		if err := s.SetLastSeenUID(ctx, name, box.LastSeenUID); err != nil {
			return 0, err
		}
		if len(box.ProcessedUIDs) > 0 {
			if err := s.MarkProcessed(ctx, name, box.ProcessedUIDs, DefaultMaxProcessed); err != nil {
				return 0, err
			}
		}
	}
	return len(names), nil
}
