// Package llm provides a provider-agnostic chat completion adapter used to
// summarize mail threads.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	DefaultProvider = "deepseek"
	DefaultModel    = "deepseek-chat"
	defaultTimeout  = 60 * time.Second
)

// Provider is the interface for LLM completions.
type Provider interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error)
	// Name returns a human-readable provider name (e.g., "deepseek/deepseek-chat").
	Name() string
}

// CompletionOpts configures a single completion request.
type CompletionOpts struct {
	MaxTokens   int     // Max tokens to generate (0 = provider default)
	Temperature float64 // 0.0-2.0
	Model       string  // Override model for this request (empty = use provider default)
	System      string  // System prompt (optional)
}

// Config holds provider configuration.
type Config struct {
	Provider string        // "deepseek", "openai", "google", "openrouter"
	Model    string        // e.g., "deepseek-chat", "openai/gpt-4o-mini"
	APIKey   string        // API key (empty = read from env)
	BaseURL  string        // Optional URL override
	Timeout  time.Duration // Per-request timeout (0 = 60s)
}

type providerSpec struct {
	keyEnvs      []string
	defaultModel string
	defaultURL   string
}

var providers = map[string]providerSpec{
	"deepseek":   {[]string{"DEEPSEEK_API_KEY"}, "deepseek-chat", "https://api.deepseek.com"},
	"openai":     {[]string{"OPENAI_API_KEY"}, "gpt-4o-mini", "https://api.openai.com/v1"},
	"google":     {[]string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}, "gemini-2.5-flash", "https://generativelanguage.googleapis.com/v1beta"},
	"openrouter": {[]string{"OPENROUTER_API_KEY"}, "openai/gpt-4o-mini", "https://openrouter.ai/api/v1"},
}

// NewProvider creates an LLM provider from the given config.
func NewProvider(cfg Config) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	spec, ok := providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown LLM provider: %q (supported: %s)", cfg.Provider, supported())
	}

	key := cfg.APIKey
	for _, env := range spec.keyEnvs {
		if key != "" {
			break
		}
		key = os.Getenv(env)
	}
	if key == "" {
		return nil, fmt.Errorf("%s provider requires %s env var", name, strings.Join(spec.keyEnvs, " or "))
	}
	model := cfg.Model
	if model == "" {
		model = spec.defaultModel
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = spec.defaultURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := http.Client{Timeout: timeout}

	switch name {
	case "google":
		return &googleProvider{apiKey: key, model: model, baseURL: baseURL, client: httpClient}, nil
	case "openrouter":
		return &openrouterProvider{apiKey: key, model: model, baseURL: baseURL, client: httpClient}, nil
	default:
		return newOpenAIProvider(name, key, model, baseURL, &httpClient), nil
	}
}

// ParseLLMFlag parses a --llm flag value into a Config.
// Format: "provider/model" e.g., "deepseek/deepseek-chat", "openrouter/openai/gpt-4o-mini"
func ParseLLMFlag(flag string) (Config, error) {
	if flag == "" {
		return Config{Provider: DefaultProvider, Model: DefaultModel}, nil
	}

	parts := strings.SplitN(flag, "/", 2)
	if len(parts) < 2 || parts[1] == "" {
		return Config{}, fmt.Errorf("invalid --llm format %q: expected provider/model (e.g., deepseek/deepseek-chat)", flag)
	}

	provider := strings.ToLower(parts[0])
	if _, ok := providers[provider]; !ok {
		return Config{}, fmt.Errorf("unknown provider %q in --llm flag (supported: %s)", provider, supported())
	}
	return Config{Provider: provider, Model: parts[1]}, nil
}

func supported() string {
	return "deepseek, openai, google, openrouter"
}
