package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/hurttlocker/inboxdigest/internal/config"
	"github.com/hurttlocker/inboxdigest/internal/render"
	"github.com/hurttlocker/inboxdigest/internal/source"
	"github.com/hurttlocker/inboxdigest/internal/thread"
)

// runCluster clusters a JSONL export without touching state or an LLM.
func runCluster(ctx context.Context, g *globalOptions, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("cluster", g, stdout)
	input := fs.StringP("input", "i", "", "JSONL file, one message per line (- for stdin)")
	windowHours := fs.Int("window-hours", 0, "time bucket width in hours (default from config, 72)")
	simThreshold := fs.Float64("sim-threshold", 0, "similarity needed to merge, in (0, 1] (default from config, 0.55)")
	workers := fs.Int("workers", 0, "buckets clustered in parallel (default from config, 1)")
	asJSON := fs.Bool("json", false, "print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" && fs.NArg() == 1 {
		*input = fs.Arg(0)
	}
	if *input == "" {
		return fmt.Errorf("usage: inboxdigest cluster --input <file.jsonl> [--window-hours N] [--sim-threshold F] [--json]")
	}

	cfg, err := resolveConfig(g, config.ResolveOptions{}, stderr)
	if err != nil {
		return err
	}
	opts := cfg.ClusterOptions()
	if fs.Changed("window-hours") {
		opts.WindowHours = *windowHours
	}
	if fs.Changed("sim-threshold") {
		opts.SimThreshold = *simThreshold
	}
	if fs.Changed("workers") {
		opts.Workers = *workers
	}

	msgs, err := readMessages(ctx, *input)
	if err != nil {
		return err
	}
	res, err := thread.Cluster(msgs, opts)
	if err != nil {
		return err
	}

	if *asJSON {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, string(data))
		return nil
	}
	fmt.Fprint(stdout, render.ThreadsText(res, time.Now()))
	return nil
}

func readMessages(ctx context.Context, path string) ([]thread.Message, error) {
	if path == "-" {
		return source.DecodeJSONL(os.Stdin)
	}
	return (&source.JSONLProvider{Path: path}).Fetch(ctx, source.FetchRequest{})
}
