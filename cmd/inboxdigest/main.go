package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/hurttlocker/inboxdigest/internal/config"
)

var version = "0.3.0-dev"

// globalOptions are accepted before the command and by every subcommand.
type globalOptions struct {
	ConfigPath string
	StatePath  string
	Verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run dispatches one invocation and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	g := &globalOptions{}
	fs := pflag.NewFlagSet("inboxdigest", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SetInterspersed(false)
	addGlobalFlags(fs, g)
	help := fs.BoolP("help", "h", false, "")
	showVersion := fs.Bool("version", false, "")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n\n", err)
		printUsage(stderr)
		return 1
	}
	setupLogging(stderr, config.DefaultLogLevel, g.Verbose)

	rest := fs.Args()
	switch {
	case *showVersion:
		fmt.Fprintf(stdout, "inboxdigest %s\n", version)
		return 0
	case *help:
		printUsage(stdout)
		return 0
	case len(rest) == 0:
		rest = []string{"digest"}
	}

	cmd, cmdArgs := rest[0], rest[1:]
	var err error
	switch cmd {
	case "digest":
		err = runDigest(ctx, g, cmdArgs, stdout, stderr)
	case "cluster":
		err = runCluster(ctx, g, cmdArgs, stdout, stderr)
	case "state":
		err = runState(ctx, g, cmdArgs, stdout, stderr)
	case "mcp":
		err = runMCP(ctx, g, cmdArgs, stderr)
	case "serve":
		err = runServe(ctx, g, cmdArgs, stderr)
	case "config":
		err = runConfig(g, cmdArgs, stdout)
	case "version":
		fmt.Fprintf(stdout, "inboxdigest %s\n", version)
	case "help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", cmd)
		printUsage(stderr)
		return 1
	}

	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func addGlobalFlags(fs *pflag.FlagSet, g *globalOptions) {
	fs.StringVar(&g.ConfigPath, "config", g.ConfigPath, "config file (default ~/.inboxdigest/config.yaml)")
	fs.StringVar(&g.StatePath, "state", g.StatePath, "state database path")
	fs.BoolVarP(&g.Verbose, "verbose", "v", g.Verbose, "debug logging")
}

// newFlagSet returns a subcommand flag set that also accepts the global
// flags. Usage goes to out on --help.
func newFlagSet(name string, g *globalOptions, out io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.SortFlags = false
	addGlobalFlags(fs, g)
	return fs
}

// resolveConfig loads the layered configuration, applies the global flags
// and reconfigures logging from the resolved level.
func resolveConfig(g *globalOptions, opts config.ResolveOptions, logOut io.Writer) (config.ResolvedConfig, error) {
	opts.ConfigPath = g.ConfigPath
	opts.CLIStatePath = g.StatePath
	if g.Verbose {
		opts.CLILogLevel = "debug"
	}
	cfg, err := config.ResolveConfig(opts)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	setupLogging(logOut, cfg.LogLevel.Value, g.Verbose)
	return cfg, nil
}

// setupLogging points the global zerolog logger at w with a console writer.
func setupLogging(w io.Writer, level string, verbose bool) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if verbose {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `inboxdigest %s: cluster unread mail into threads and summarize them into a to-do digest

Usage:
  inboxdigest [global flags] <command> [arguments]

Commands:
  digest              Fetch new mail, cluster, summarize with an LLM (default)
  cluster             Cluster a JSONL export and print the threads
  state show          Show per-mailbox cursors and recent runs
  state reset [box]   Forget state for one mailbox, or all
  state import-json   Import a JSON state file from an older release
  mcp                 Run the MCP tool server on stdio
  serve               Run the HTTP API
  config              Print the resolved configuration with provenance
  version             Print version

Digest Flags:
  --since 7d|48h|RFC3339|YYYY-MM-DD   Oldest mail to fetch (default 7d)
  --mailbox NAME                      IMAP folder (default from config, INBOX)
  --output PATH                       Also write the digest to PATH
  --format markdown|html              Output format (default from extension)
  --instruction TEXT                  Instruction for the LLM
  --rescan                            Ignore incremental state
  --include-seen                      Include mail already marked read
  --source imap|jsonl                 Message source (default imap)
  --input FILE                        JSONL file for --source jsonl
  --llm provider/model                e.g. deepseek/deepseek-chat, openai/gpt-4o-mini
  --dry-run                           Print threads; no LLM call, no state writes

Global Flags:
  --config PATH       Config file (YAML or .toml)
  --state PATH        State database (default ~/.inboxdigest/state.db)
  -v, --verbose       Debug logging
  -h, --help          Show this help message
`, version)
}
