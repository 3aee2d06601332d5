package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hurttlocker/inboxdigest/internal/config"
	"github.com/hurttlocker/inboxdigest/internal/store"
)

func runState(ctx context.Context, g *globalOptions, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("state", g, stdout)
	runsLimit := fs.Int("runs", 5, "recent runs to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		rest = []string{"show"}
	}

	cfg, err := resolveConfig(g, config.ResolveOptions{}, stderr)
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, cfg.StatePath.Value)
	if err != nil {
		return fmt.Errorf("opening state: %w", err)
	}
	defer st.Close()

	switch rest[0] {
	case "show":
		return showState(ctx, st, *runsLimit, stdout)
	case "reset":
		mailbox := ""
		if len(rest) > 1 {
			mailbox = rest[1]
		}
		if err := st.Reset(ctx, mailbox); err != nil {
			return err
		}
		if mailbox == "" {
			fmt.Fprintln(stdout, "Reset state for all mailboxes")
		} else {
			fmt.Fprintf(stdout, "Reset state for %s\n", mailbox)
		}
		return nil
	case "import-json":
		if len(rest) < 2 {
			return fmt.Errorf("usage: inboxdigest state import-json <state.json>")
		}
		n, err := st.ImportLegacyJSON(ctx, rest[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Imported %d mailboxes from %s\n", n, rest[1])
		return nil
	default:
		return fmt.Errorf("unknown state command %q (show, reset, import-json)", rest[0])
	}
}

func showState(ctx context.Context, st *store.Store, runsLimit int, w io.Writer) error {
	boxes, err := st.Mailboxes(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "State: %s\n\n", st.Path())
	if len(boxes) == 0 {
		fmt.Fprintln(w, "No mailboxes tracked yet.")
	}
	now := time.Now()
	for _, b := range boxes {
		updated := "never"
		if !b.UpdatedAt.IsZero() {
			updated = humanize.RelTime(b.UpdatedAt, now, "ago", "from now")
		}
		fmt.Fprintf(w, "%-20s last uid %-8d processed %-6s updated %s\n",
			b.Mailbox, b.LastSeenUID, humanize.Comma(int64(b.ProcessedCount)), updated)
	}

	if runsLimit <= 0 {
		return nil
	}
	runs, err := st.Runs(ctx, runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return nil
	}
	fmt.Fprintln(w, "\nRecent runs:")
	for _, r := range runs {
		status := "ok"
		if r.Error != "" {
			status = "error: " + r.Error
		}
		fmt.Fprintf(w, "  %s  %-12s %3d msgs %3d threads  %s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04"), r.Mailbox, r.Messages, r.Threads, status)
	}
	return nil
}
