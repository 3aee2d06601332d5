package main

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hurttlocker/inboxdigest/internal/config"
	"github.com/hurttlocker/inboxdigest/internal/digest"
	"github.com/hurttlocker/inboxdigest/internal/llm"
	"github.com/hurttlocker/inboxdigest/internal/render"
	"github.com/hurttlocker/inboxdigest/internal/source"
	"github.com/hurttlocker/inboxdigest/internal/store"
	"github.com/hurttlocker/inboxdigest/internal/telemetry"
)

const (
	defaultSince = 7 * 24 * time.Hour

	retryAttempts = 3
	retryBase     = time.Second
	retryCeiling  = 8 * time.Second
)

var relativeSinceRe = regexp.MustCompile(`^(\d+)([dh])$`)

// parseSince accepts "7d", "48h", an RFC3339 timestamp or a YYYY-MM-DD date
// (UTC). Anything else means seven days before now.
func parseSince(arg string, now time.Time) time.Time {
	arg = strings.TrimSpace(arg)
	if m := relativeSinceRe.FindStringSubmatch(strings.ToLower(arg)); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			unit := 24 * time.Hour
			if m[2] == "h" {
				unit = time.Hour
			}
			return now.Add(-time.Duration(n) * unit)
		}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, arg); err == nil {
			return t
		}
	}
	return now.Add(-defaultSince)
}

func runDigest(ctx context.Context, g *globalOptions, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("digest", g, stderr)
	since := fs.String("since", "7d", "oldest mail to fetch: 7d, 48h, RFC3339 or YYYY-MM-DD")
	mailbox := fs.String("mailbox", "", "IMAP folder")
	output := fs.StringP("output", "o", "", "write the digest to this file")
	format := fs.String("format", "", "markdown or html (default from --output extension)")
	instruction := fs.String("instruction", digest.DefaultInstruction, "instruction for the LLM")
	rescan := fs.Bool("rescan", false, "ignore incremental state")
	includeSeen := fs.Bool("include-seen", false, "include mail already marked read")
	sourceName := fs.String("source", "imap", "message source: imap or jsonl")
	input := fs.String("input", "", "JSONL input for --source jsonl")
	llmFlag := fs.String("llm", "", "LLM provider/model")
	dryRun := fs.BoolP("dry-run", "n", false, "print threads only; no LLM call, no state writes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	outFormat, err := render.FormatFor(*output, *format)
	if err != nil {
		return err
	}

	cfg, err := resolveConfig(g, config.ResolveOptions{CLILLM: *llmFlag, CLIMailbox: *mailbox}, stderr)
	if err != nil {
		return err
	}

	src, err := buildSource(cfg, *sourceName, *input)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg.StatePath.Value)
	if err != nil {
		return fmt.Errorf("opening state: %w", err)
	}
	defer st.Close()

	tel := telemetry.New()
	defer tel.Shutdown(context.Background())
	counters, err := telemetry.NewCounters(tel.MeterProvider())
	if err != nil {
		return err
	}

	p := &digest.Pipeline{Source: src, State: st, Cluster: cfg.ClusterOptions(), Counters: counters}
	if !*dryRun {
		sum, err := buildSummarizer(cfg)
		if err != nil {
			return err
		}
		p.Summarizer = sum
	}

	rep, err := p.Run(ctx, digest.Request{
		Mailbox:     cfg.Mailbox.Value,
		Since:       parseSince(*since, time.Now()),
		Instruction: *instruction,
		Rescan:      *rescan,
		IncludeSeen: *includeSeen,
		DryRun:      *dryRun,
	})
	if err != nil {
		return err
	}
	logCounters(ctx, tel)

	fmt.Fprint(stdout, rep.Document)
	if *output == "" {
		return nil
	}
	content := rep.Document
	if outFormat == render.FormatHTML {
		if content, err = render.HTML(rep.Document); err != nil {
			return err
		}
	}
	if err := render.Write(*output, content); err != nil {
		return err
	}
	log.Info().Str("path", *output).Str("format", outFormat).Msg("digest written")
	return nil
}

// logCounters writes the run's counter totals to the log.
func logCounters(ctx context.Context, tel *telemetry.Telemetry) {
	snap, err := tel.Snapshot(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("reading metrics")
		return
	}
	ev := log.Info()
	for name, v := range snap {
		ev = ev.Int64(name, v)
	}
	ev.Msg("run metrics")
}

// buildSource picks a registered message source and configures it.
func buildSource(cfg config.ResolvedConfig, name, input string) (source.Provider, error) {
	reg := source.NewRegistry()
	reg.Register(&source.IMAPProvider{
		Host:     cfg.IMAPHost.Value,
		Port:     cfg.Port(),
		User:     cfg.IMAPUser.Value,
		Password: cfg.IMAPPassword.Value,
		TLS:      cfg.TLS(),
		Timeout:  cfg.Timeout(),
	})
	reg.Register(&source.JSONLProvider{Path: input})

	name = strings.ToLower(strings.TrimSpace(name))
	p := reg.Get(name)
	if p == nil {
		return nil, fmt.Errorf("unknown source %q (available: %s)", name, strings.Join(reg.List(), ", "))
	}
	switch name {
	case "imap":
		if err := cfg.RequireIMAP(); err != nil {
			return nil, err
		}
	case "jsonl":
		if input == "" {
			return nil, fmt.Errorf("--source jsonl needs --input <file.jsonl>")
		}
	}
	return p, nil
}

// buildSummarizer creates the LLM provider with retries and pacing.
func buildSummarizer(cfg config.ResolvedConfig) (*digest.Summarizer, error) {
	llmCfg, err := llm.ParseLLMFlag(cfg.LLM.Value)
	if err != nil {
		return nil, err
	}
	llmCfg.APIKey = cfg.APIKeyForProvider(llmCfg.Provider).Value
	llmCfg.BaseURL = cfg.LLMBaseURL.Value
	llmCfg.Timeout = cfg.Timeout()

	provider, err := llm.NewProvider(llmCfg)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("llm", provider.Name()).Msg("summarizer ready")

	return &digest.Summarizer{
		Provider:        llm.WithRetry(provider, retryAttempts, retryBase, retryCeiling),
		Temperature:     cfg.Temperature(),
		MaxPromptTokens: cfg.PromptTokenBudget(),
		Limiter:         digest.NewLimiter(cfg.RateLimit()),
	}, nil
}
