package render

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hurttlocker/inboxdigest/internal/thread"
)

func TestDocument(t *testing.T) {
	now := time.Date(2025, 3, 9, 7, 5, 0, 0, time.UTC)
	got := Document("Mail To-Do", "- [ ] reply", now)
	assert.Equal(t, "# Mail To-Do\n\n_Generated: 2025-03-09 07:05_\n\n- [ ] reply\n", got)
}

func TestHTML(t *testing.T) {
	out, err := HTML("# Title\n\n| a | b |\n|---|---|\n| 1 | 2 |\n\n- ~~done~~\n")
	require.NoError(t, err)
	assert.Contains(t, out, "<h1>Title</h1>")
	assert.Contains(t, out, "<table>")
	assert.Contains(t, out, "<del>done</del>")
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		path, explicit, want string
		wantErr              bool
	}{
		{"out/digest.md", "", FormatMarkdown, false},
		{"out/digest.HTML", "", FormatHTML, false},
		{"digest.htm", "", FormatHTML, false},
		{"", "", FormatMarkdown, false},
		{"digest.html", "markdown", FormatMarkdown, false},
		{"digest.md", "html", FormatHTML, false},
		{"digest.md", "md", FormatMarkdown, false},
		{"digest.md", "pdf", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path+"/"+tt.explicit, func(t *testing.T) {
			got, err := FormatFor(tt.path, tt.explicit)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "digest.md")
	require.NoError(t, Write(path, "hello"))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}

func TestThreadsText(t *testing.T) {
	now := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "No threads.\n", ThreadsText(thread.Result{}, now))

	r := thread.Result{Threads: []thread.Thread{
		{
			ID:                 "budget|acme.com|1#0",
			SubjectFingerprint: "budget",
			Participants:       []string{"a@acme.com", "b@acme.com"},
			Messages: []thread.Message{
				{UID: 1, Date: now.Add(-3 * time.Hour)},
				{UID: 2, Date: now.Add(-2 * time.Hour)},
			},
		},
		{ID: "|x.org|1#0", Messages: []thread.Message{{UID: 3, Date: now.Add(-48 * time.Hour)}}},
	}}
	out := ThreadsText(r, now)
	assert.Contains(t, out, "2 threads, 3 messages")
	assert.Contains(t, out, "1. budget  [2 msg, last 2 hours ago]")
	assert.Contains(t, out, "participants: a@acme.com, b@acme.com")
	assert.Contains(t, out, "2. (no subject)  [1 msg, last 2 days ago]")
}

func TestThreadsTextHidesKeySeparator(t *testing.T) {
	now := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	m := thread.Message{UID: 1, Date: now.Add(-time.Hour), From: "a@acme.com", Subject: "Budget"}
	res, err := thread.Cluster([]thread.Message{m}, thread.DefaultOptions())
	require.NoError(t, err)
	require.Contains(t, res.Threads[0].ID, thread.KeySeparator)

	out := ThreadsText(res, now)
	assert.NotContains(t, out, thread.KeySeparator)
	assert.Contains(t, out, "id: budget | acme.com | ")
	assert.Equal(t, "a | b | 3#0", DisplayID("a\x1fb\x1f3#0"))
}
