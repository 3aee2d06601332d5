// Package mcp provides a Model Context Protocol server for inboxdigest.
//
// It exposes the thread engine (clustering, subject normalization) as MCP
// tools and, when a state database is configured, the per-mailbox cursors
// and recent runs as MCP resources. Served over stdio.
package mcp

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/inboxdigest/internal/store"
	"github.com/hurttlocker/inboxdigest/internal/thread"
)

// maxToolMessages bounds one thread_cluster call.
const maxToolMessages = 10000

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	State   *store.Store // optional, enables the state resources
	Version string       // version string for MCP server info
	Workers int          // bucket workers for thread_cluster (0 = 1)
}

// NewServer creates a configured MCP server with all inboxdigest tools and
// resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"inboxdigest",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerClusterTool(s, cfg.Workers)
	registerNormalizeTool(s)

	if cfg.State != nil {
		registerMailboxesResource(s, cfg.State)
		registerRunsResource(s, cfg.State)
	}
	return s
}

// Serve runs the server on stdin/stdout until the client disconnects.
func Serve(cfg ServerConfig) error {
	return server.ServeStdio(NewServer(cfg))
}

// --- Tools ---

func registerClusterTool(s *server.MCPServer, workers int) {
	tool := mcp.NewTool("thread_cluster",
		mcp.WithDescription("Group mail messages into conversation threads by normalized subject, sender domain, time window and text similarity. Threading headers are ignored. Returns threads newest first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithArray("messages",
			mcp.Required(),
			mcp.Description(`Messages to cluster: objects with uid, date (RFC3339), from, subject, text. A JSON-encoded string of the same array is also accepted.`),
			mcp.Items(map[string]any{"type": "object"}),
		),
		mcp.WithNumber("window_hours",
			mcp.Description("Time bucket width in hours (default: 72)"),
		),
		mcp.WithNumber("sim_threshold",
			mcp.Description("Cosine similarity needed to merge two messages, in (0, 1] (default: 0.55)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, ok := req.GetArguments()["messages"]
		if !ok || raw == nil {
			return mcp.NewToolResultError("messages is required"), nil
		}
		msgs, err := decodeMessages(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid messages: %v", err)), nil
		}
		if len(msgs) > maxToolMessages {
			return mcp.NewToolResultError(fmt.Sprintf("too many messages: %d (max %d)", len(msgs), maxToolMessages)), nil
		}

		opts := thread.DefaultOptions()
		opts.Workers = max(workers, 1)
		wh := req.GetFloat("window_hours", float64(opts.WindowHours))
		if wh != math.Trunc(wh) || math.Abs(wh) > math.MaxInt32 {
			return mcp.NewToolResultError(fmt.Sprintf("window_hours must be a whole number of hours, got %v", wh)), nil
		}
		opts.WindowHours = int(wh)
		opts.SimThreshold = req.GetFloat("sim_threshold", opts.SimThreshold)

		res, err := thread.Cluster(msgs, opts)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	})
}

// decodeMessages accepts either the decoded JSON array or a string holding it.
func decodeMessages(raw any) ([]thread.Message, error) {
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		data = b
	}
	var msgs []thread.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func registerNormalizeTool(s *server.MCPServer) {
	tool := mcp.NewTool("thread_normalize_subject",
		mcp.WithDescription("Show the subject fingerprint used for threading (reply/forward prefixes, tags and punctuation stripped) and, if a sender is given, its domain."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("subject",
			mcp.Required(),
			mcp.Description("Raw subject line"),
		),
		mcp.WithString("from",
			mcp.Description("Optional sender, e.g. 'Alice <alice@example.com>'"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		subject, err := req.RequireString("subject")
		if err != nil {
			return mcp.NewToolResultError("subject is required"), nil
		}
		out := map[string]string{
			"subject":     subject,
			"fingerprint": thread.NormalizeSubject(subject),
		}
		if from := strings.TrimSpace(req.GetString("from", "")); from != "" {
			out["domain"] = thread.AddressDomain(from)
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	})
}

// --- Resources ---

func registerMailboxesResource(s *server.MCPServer, st *store.Store) {
	resource := mcp.NewResource(
		"inboxdigest://state/mailboxes",
		"Mailbox State",
		mcp.WithResourceDescription("Per-mailbox incremental cursor (last seen UID) and processed UID counts."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		boxes, err := st.Mailboxes(ctx)
		if err != nil {
			return nil, err
		}
		if boxes == nil {
			boxes = []store.MailboxState{}
		}
		data, err := json.MarshalIndent(map[string]any{"mailboxes": boxes, "count": len(boxes)}, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding resource: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}

func registerRunsResource(s *server.MCPServer, st *store.Store) {
	resource := mcp.NewResource(
		"inboxdigest://state/runs",
		"Recent Runs",
		mcp.WithResourceDescription("The 20 most recent digest runs without their output."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		runs, err := st.Runs(ctx, 20)
		if err != nil {
			return nil, err
		}
		for i := range runs {
			runs[i].Output = ""
		}
		if runs == nil {
			runs = []store.Run{}
		}
		data, err := json.MarshalIndent(map[string]any{"runs": runs, "count": len(runs)}, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding resource: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}
