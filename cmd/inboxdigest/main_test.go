package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hurttlocker/inboxdigest/internal/store"
	"github.com/hurttlocker/inboxdigest/internal/thread"
)

// ==================== helpers ====================

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"INBOXDIGEST_CONFIG", "IMAP_HOST", "IMAP_PORT", "IMAP_USER", "IMAP_PASSWORD", "MAILBOX",
		"INBOXDIGEST_LLM", "DEEPSEEK_MODEL", "DEEPSEEK_BASE_URL", "DEEPSEEK_API_KEY",
		"TIME_WINDOW_HOURS", "SIM_THRESHOLD", "STATE_PATH", "REQUEST_TIMEOUT", "INBOXDIGEST_LOG_LEVEL",
		"OPENROUTER_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

type cliEnv struct {
	dir    string
	config string
	state  string
	input  string
}

func newCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	clearEnv(t)
	dir := t.TempDir()
	env := cliEnv{
		dir:    dir,
		config: filepath.Join(dir, "missing.yaml"),
		state:  filepath.Join(dir, "state.db"),
		input:  filepath.Join(dir, "mail.jsonl"),
	}
	lines := []string{
		`{"uid": 11, "date": "2025-06-02T08:00:00Z", "from": "alice@acme.com", "subject": "Contract renewal", "text": "the vendor contract renewal needs legal sign off by friday"}`,
		`{"uid": 12, "date": "2025-06-02T09:30:00Z", "from": "Bob <bob@acme.com>", "subject": "Re: Contract renewal", "text": "the vendor contract renewal needs legal sign off by friday, legal is on it"}`,
		`{"uid": 13, "date": "2025-06-02T10:00:00Z", "from": "noreply@status.example", "subject": "Incident resolved", "text": "all systems operational"}`,
	}
	if err := os.WriteFile(env.input, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return env
}

func (e cliEnv) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--config", e.config, "--state", e.state}, args...)
	code := run(context.Background(), full, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// ==================== parseSince ====================

func TestParseSince(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Time
	}{
		{"7d", now.Add(-7 * 24 * time.Hour)},
		{"1D", now.Add(-24 * time.Hour)},
		{"48h", now.Add(-48 * time.Hour)},
		{"0h", now},
		{"2025-01-02", time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)},
		{" 2025-01-02T15:04:05+02:00 ", time.Date(2025, 1, 2, 13, 4, 5, 0, time.UTC)},
		{"2025-01-02T15:04:05", time.Date(2025, 1, 2, 15, 4, 5, 0, time.UTC)},
		{"yesterday", now.Add(-7 * 24 * time.Hour)},
		{"", now.Add(-7 * 24 * time.Hour)},
		{"-3d", now.Add(-7 * 24 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := parseSince(tt.in, now)
			if !got.Equal(tt.want) {
				t.Errorf("parseSince(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// ==================== dispatch ====================

func TestRunVersionAndHelp(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"version"}, "inboxdigest " + version},
		{[]string{"--version"}, "inboxdigest " + version},
		{[]string{"help"}, "Commands:"},
		{[]string{"-h"}, "Commands:"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(context.Background(), tt.args, &stdout, &stderr); code != 0 {
				t.Fatalf("exit code %d, stderr %s", code, stderr.String())
			}
			if !strings.Contains(stdout.String(), tt.want) {
				t.Errorf("stdout %q does not contain %q", stdout.String(), tt.want)
			}
		})
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"frobnicate"}, &stdout, &stderr); code != 1 {
		t.Fatalf("exit code %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "Unknown command: frobnicate") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRunBadGlobalFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"--nope"}, &stdout, &stderr); code != 1 {
		t.Fatalf("exit code %d, want 1", code)
	}
	if !strings.HasPrefix(stderr.String(), "Error: ") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

// ==================== cluster ====================

func TestClusterCommandJSON(t *testing.T) {
	env := newCLIEnv(t)
	code, stdout, stderr := env.run(t, "cluster", "--input", env.input, "--json", "--workers", "2")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	var res thread.Result
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatalf("parsing output: %v\n%s", err, stdout)
	}
	if len(res.Threads) != 2 {
		t.Fatalf("expected 2 threads, got %d", len(res.Threads))
	}
	if res.Threads[0].SubjectFingerprint != "incident resolved" {
		t.Errorf("newest first: got %q", res.Threads[0].SubjectFingerprint)
	}
	if len(res.Threads[1].Messages) != 2 {
		t.Errorf("contract thread should hold both messages")
	}
}

func TestClusterCommandText(t *testing.T) {
	env := newCLIEnv(t)
	code, stdout, stderr := env.run(t, "cluster", env.input)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "2 threads, 3 messages") || !strings.Contains(stdout, "contract renewal") {
		t.Errorf("unexpected listing:\n%s", stdout)
	}
}

func TestClusterCommandErrors(t *testing.T) {
	env := newCLIEnv(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing input", []string{"cluster"}, "usage"},
		{"bad threshold", []string{"cluster", "--input", env.input, "--sim-threshold", "2"}, "threshold"},
		{"zero window", []string{"cluster", "--input", env.input, "--window-hours", "0"}, "window"},
		{"no such file", []string{"cluster", "--input", filepath.Join(env.dir, "nope.jsonl")}, "nope.jsonl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := env.run(t, tt.args...)
			if code != 1 {
				t.Fatalf("exit %d, want 1", code)
			}
			if !strings.Contains(stderr, "Error: ") || !strings.Contains(stderr, tt.want) {
				t.Errorf("stderr %q does not mention %q", stderr, tt.want)
			}
		})
	}
}

// ==================== digest ====================

func TestDigestDryRun(t *testing.T) {
	env := newCLIEnv(t)
	code, stdout, stderr := env.run(t, "digest", "--source", "jsonl", "--input", env.input, "--since", "2025-06-01", "--dry-run")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if !strings.HasPrefix(stdout, "# Mail Threads") || !strings.Contains(stdout, "2 threads, 3 messages") {
		t.Errorf("unexpected output:\n%s", stdout)
	}

	st, err := store.Open(context.Background(), env.state)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if uid, _ := st.LastSeenUID(context.Background(), "INBOX"); uid != 0 {
		t.Errorf("dry run must not move the cursor, got %d", uid)
	}
}

func TestDigestWithDeepSeek(t *testing.T) {
	env := newCLIEnv(t)

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "cmpl-1", "object": "chat.completion", "created": 1, "model": "deepseek-chat",
			"choices": []map[string]interface{}{{
				"index": 0, "finish_reason": "stop",
				"message": map[string]interface{}{"role": "assistant", "content": "- **P0** get legal sign off on the vendor contract"},
			}},
		})
	}))
	defer server.Close()
	t.Setenv("DEEPSEEK_API_KEY", "sk-test")
	t.Setenv("DEEPSEEK_BASE_URL", server.URL)

	out := filepath.Join(env.dir, "out", "digest.html")
	code, stdout, stderr := env.run(t, "digest", "--source", "jsonl", "--input", env.input, "--since", "2025-06-01", "--output", out)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if !strings.HasPrefix(stdout, "# Mail To-Do / Summary") || !strings.Contains(stdout, "vendor contract") {
		t.Errorf("unexpected digest:\n%s", stdout)
	}
	html, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !strings.Contains(string(html), "<strong>P0</strong>") {
		t.Errorf("expected html output, got %s", html)
	}
	if calls.Load() != 1 {
		t.Errorf("expected one completion, got %d", calls.Load())
	}
	if !strings.Contains(stderr, "run metrics") || !strings.Contains(stderr, "inboxdigest.threads.built") {
		t.Errorf("expected counters in the log, got %s", stderr)
	}

	// Second run: nothing new, no LLM call.
	code, stdout, _ = env.run(t, "digest", "--source", "jsonl", "--input", env.input, "--since", "2025-06-01")
	if code != 0 || !strings.Contains(stdout, "No new unread mail") {
		t.Errorf("second run: exit %d\n%s", code, stdout)
	}
	if calls.Load() != 1 {
		t.Errorf("second run must not call the LLM")
	}

	// state show reflects the run.
	code, stdout, _ = env.run(t, "state", "show")
	if code != 0 || !strings.Contains(stdout, "INBOX") || !strings.Contains(stdout, "last uid 13") {
		t.Errorf("state show: exit %d\n%s", code, stdout)
	}
}

func TestDigestRequiresIMAPSettings(t *testing.T) {
	env := newCLIEnv(t)
	code, _, stderr := env.run(t, "digest", "--dry-run")
	if code != 1 || !strings.Contains(stderr, "IMAP_HOST") {
		t.Errorf("exit %d, stderr %q", code, stderr)
	}
}

func TestDigestBadFlags(t *testing.T) {
	env := newCLIEnv(t)
	tests := [][]string{
		{"digest", "--format", "pdf"},
		{"digest", "--source", "pop3", "--dry-run"},
		{"digest", "--source", "jsonl", "--dry-run"},
		{"digest", "--llm", "nope"},
		{"digest", "stray"},
	}
	for _, args := range tests {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			if code, _, _ := env.run(t, args...); code != 1 {
				t.Errorf("exit %d, want 1", code)
			}
		})
	}
}

// ==================== state ====================

func TestStateImportAndReset(t *testing.T) {
	env := newCLIEnv(t)
	legacy := filepath.Join(env.dir, "state.json")
	if err := os.WriteFile(legacy, []byte(`{"mailboxes":{"INBOX":{"last_seen_uid":40,"processed_uids":[38,40]}}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	code, stdout, stderr := env.run(t, "state", "import-json", legacy)
	if code != 0 || !strings.Contains(stdout, "Imported 1 mailboxes") {
		t.Fatalf("import: exit %d\n%s%s", code, stdout, stderr)
	}
	_, stdout, _ = env.run(t, "state")
	if !strings.Contains(stdout, "last uid 40") {
		t.Errorf("state show after import:\n%s", stdout)
	}

	code, stdout, _ = env.run(t, "state", "reset", "INBOX")
	if code != 0 || !strings.Contains(stdout, "Reset state for INBOX") {
		t.Errorf("reset: exit %d\n%s", code, stdout)
	}
	_, stdout, _ = env.run(t, "state", "show")
	if !strings.Contains(stdout, "No mailboxes tracked yet.") {
		t.Errorf("state show after reset:\n%s", stdout)
	}

	if code, _, _ := env.run(t, "state", "explode"); code != 1 {
		t.Errorf("unknown state command should fail")
	}
	if code, _, _ := env.run(t, "state", "import-json"); code != 1 {
		t.Errorf("import-json without a path should fail")
	}
}

// ==================== config ====================

func TestConfigCommand(t *testing.T) {
	env := newCLIEnv(t)
	cfgPath := filepath.Join(env.dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("imap:\n  host: imap.example.com\n  password: hunter2hunter2\ncluster:\n  window_hours: 48\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--config", cfgPath, "config"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "imap.example.com") || !strings.Contains(out, "48") {
		t.Errorf("missing resolved values:\n%s", out)
	}
	if strings.Contains(out, "hunter2hunter2") {
		t.Errorf("password must be masked:\n%s", out)
	}
}
