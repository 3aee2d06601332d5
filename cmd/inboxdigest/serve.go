package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/hurttlocker/inboxdigest/internal/api"
	"github.com/hurttlocker/inboxdigest/internal/config"
	"github.com/hurttlocker/inboxdigest/internal/mcp"
	"github.com/hurttlocker/inboxdigest/internal/store"
	"github.com/hurttlocker/inboxdigest/internal/telemetry"
)

// runMCP serves the MCP tools on stdio. Logs go to stderr so stdout stays
// a clean JSON-RPC channel.
func runMCP(ctx context.Context, g *globalOptions, args []string, stderr io.Writer) error {
	fs := newFlagSet("mcp", g, stderr)
	withState := fs.Bool("with-state", true, "expose the state database as resources")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := resolveConfig(g, config.ResolveOptions{}, stderr)
	if err != nil {
		return err
	}

	sc := mcp.ServerConfig{Version: version, Workers: cfg.ClusterOptions().Workers}
	if *withState {
		st, err := store.Open(ctx, cfg.StatePath.Value)
		if err != nil {
			return fmt.Errorf("opening state: %w", err)
		}
		defer st.Close()
		sc.State = st
	}
	log.Info().Msg("MCP server on stdio")
	return mcp.Serve(sc)
}

func runServe(ctx context.Context, g *globalOptions, args []string, stderr io.Writer) error {
	fs := newFlagSet("serve", g, stderr)
	addr := fs.String("addr", api.DefaultAddr, "listen address")
	if err := fs.Parse(args); err != nil {
		return err
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

	tel := telemetry.New()
	defer tel.Shutdown(context.Background())

	srv := api.New(api.Config{State: st, Telemetry: tel, Workers: cfg.ClusterOptions().Workers, Version: version})
	return srv.ListenAndServe(ctx, *addr)
}

// runConfig prints the resolved configuration with provenance.
func runConfig(g *globalOptions, args []string, stdout io.Writer) error {
	fs := newFlagSet("config", g, stdout)
	llmFlag := fs.String("llm", "", "LLM provider/model")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath:   g.ConfigPath,
		CLIStatePath: g.StatePath,
		CLILLM:       *llmFlag,
	})
	if err != nil {
		return err
	}
	fmt.Fprint(stdout, cfg.Describe())
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stdout, "\ninvalid: %v\n", err)
	}
	return nil
}
