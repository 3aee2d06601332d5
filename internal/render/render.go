// Package render turns digest bodies into documents and writes them out.
package render

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/hurttlocker/inboxdigest/internal/thread"
)

const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

var (
	markdownOnce sync.Once
	markdown     goldmark.Markdown
)

func converter() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdown
}

// Document wraps body in a titled Markdown document stamped with now in
// local time.
func Document(title, body string, now time.Time) string {
	return fmt.Sprintf("# %s\n\n_Generated: %s_\n\n%s\n", title, now.Format("2006-01-02 15:04"), body)
}

// HTML converts a Markdown document to an HTML fragment.
func HTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := converter().Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("rendering html: %w", err)
	}
	return buf.String(), nil
}

// FormatFor picks the output format. An explicit format wins; otherwise
// .html and .htm paths get HTML and everything else Markdown.
func FormatFor(path, explicit string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(explicit)) {
	case "":
	case "md", FormatMarkdown:
		return FormatMarkdown, nil
	case FormatHTML:
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("unknown format %q (supported: markdown, html)", explicit)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return FormatHTML, nil
	}
	return FormatMarkdown, nil
}

// Write stores content at path, creating parent directories.
func Write(path, content string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// DisplayID replaces the bucket key's unit separators so a thread ID prints
// without control characters.
func DisplayID(id string) string {
	return strings.ReplaceAll(id, thread.KeySeparator, " | ")
}

// ThreadsText is the plain listing printed by dry runs and the cluster
// command.
func ThreadsText(r thread.Result, now time.Time) string {
	if len(r.Threads) == 0 {
		return "No threads.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d threads, %d messages\n", len(r.Threads), r.MessageCount())
	for i, t := range r.Threads {
		fp := t.SubjectFingerprint
		if fp == "" {
			fp = "(no subject)"
		}
		fmt.Fprintf(&b, "\n%d. %s  [%d msg, last %s]\n", i+1, fp, len(t.Messages), humanize.RelTime(t.LastDate(), now, "ago", "from now"))
		if len(t.Participants) > 0 {
			fmt.Fprintf(&b, "   participants: %s\n", strings.Join(t.Participants, ", "))
		}
		fmt.Fprintf(&b, "   id: %s\n", DisplayID(t.ID))
	}
	return b.String()
}
