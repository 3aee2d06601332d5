// Package config resolves inboxdigest settings from a config file, the
// environment and command-line flags, remembering where each value came from.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/hurttlocker/inboxdigest/internal/thread"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

const (
	DefaultIMAPPort          = 993
	DefaultMailbox           = "INBOX"
	DefaultLLM               = "deepseek/deepseek-chat"
	DefaultDeepSeekBaseURL   = "https://api.deepseek.com"
	DefaultRequestTimeout    = 60 * time.Second
	DefaultMaxPromptTokens   = 24000
	DefaultRequestsPerMinute = 20
	DefaultTemperature       = 0.2
	DefaultLogLevel          = "info"
)

var ErrMissingIMAP = errors.New("imap host and user are required")

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

type ResolveOptions struct {
	ConfigPath   string
	CLILLM       string
	CLIStatePath string
	CLIMailbox   string
	CLILogLevel  string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	IMAPHost     ResolvedValue `json:"imap_host"`
	IMAPPort     ResolvedValue `json:"imap_port"`
	IMAPUser     ResolvedValue `json:"imap_user"`
	IMAPPassword ResolvedValue `json:"imap_password"`
	IMAPTLS      ResolvedValue `json:"imap_tls"`
	Mailbox      ResolvedValue `json:"mailbox"`

	LLM               ResolvedValue `json:"llm"`
	LLMBaseURL        ResolvedValue `json:"llm_base_url"`
	LLMTemperature    ResolvedValue `json:"llm_temperature"`
	MaxPromptTokens   ResolvedValue `json:"max_prompt_tokens"`
	RequestsPerMinute ResolvedValue `json:"requests_per_minute"`

	WindowHours  ResolvedValue `json:"window_hours"`
	SimThreshold ResolvedValue `json:"sim_threshold"`
	Workers      ResolvedValue `json:"workers"`

	StatePath      ResolvedValue `json:"state_path"`
	RequestTimeout ResolvedValue `json:"request_timeout"`
	LogLevel       ResolvedValue `json:"log_level"`

	LLMKeys map[string]ResolvedValue `json:"llm_keys,omitempty"`
}

type fileConfig struct {
	IMAP struct {
		Host     string `yaml:"host" toml:"host"`
		Port     *int   `yaml:"port" toml:"port"`
		User     string `yaml:"user" toml:"user"`
		Password string `yaml:"password" toml:"password"`
		Mailbox  string `yaml:"mailbox" toml:"mailbox"`
		TLS      *bool  `yaml:"tls" toml:"tls"`
	} `yaml:"imap" toml:"imap"`
	LLM struct {
		Provider          string   `yaml:"provider" toml:"provider"`
		Model             string   `yaml:"model" toml:"model"`
		APIKey            string   `yaml:"api_key" toml:"api_key"`
		BaseURL           string   `yaml:"base_url" toml:"base_url"`
		Temperature       *float64 `yaml:"temperature" toml:"temperature"`
		MaxPromptTokens   *int     `yaml:"max_prompt_tokens" toml:"max_prompt_tokens"`
		RequestsPerMinute *int     `yaml:"requests_per_minute" toml:"requests_per_minute"`
	} `yaml:"llm" toml:"llm"`
	Cluster struct {
		WindowHours  *int     `yaml:"window_hours" toml:"window_hours"`
		SimThreshold *float64 `yaml:"sim_threshold" toml:"sim_threshold"`
		Workers      *int     `yaml:"workers" toml:"workers"`
	} `yaml:"cluster" toml:"cluster"`
	StatePath      string `yaml:"state_path" toml:"state_path"`
	RequestTimeout string `yaml:"request_timeout" toml:"request_timeout"`
	Log            struct {
		Level string `yaml:"level" toml:"level"`
	} `yaml:"log" toml:"log"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".inboxdigest", "config.yaml")
}

func DefaultStatePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".inboxdigest", "state.db")
}

func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("INBOXDIGEST_CONFIG"))
	}
	if path == "" {
		path = DefaultConfigPath()
	}
	path = expandUserPath(path)

	out := defaults()
	out.ConfigPath = path

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.IMAPHost, cfg.IMAP.Host, SourceConfig, path)
		applyInt(&out.IMAPPort, cfg.IMAP.Port, path)
		apply(&out.IMAPUser, cfg.IMAP.User, SourceConfig, path)
		apply(&out.IMAPPassword, cfg.IMAP.Password, SourceConfig, path)
		apply(&out.Mailbox, cfg.IMAP.Mailbox, SourceConfig, path)
		if cfg.IMAP.TLS != nil {
			out.IMAPTLS = ResolvedValue{Value: strconv.FormatBool(*cfg.IMAP.TLS), Source: SourceConfig, From: path}
		}

		apply(&out.LLM, joinProviderModel(cfg.LLM.Provider, cfg.LLM.Model), SourceConfig, path)
		apply(&out.LLMBaseURL, cfg.LLM.BaseURL, SourceConfig, path)
		applyFloat(&out.LLMTemperature, cfg.LLM.Temperature, path)
		applyInt(&out.MaxPromptTokens, cfg.LLM.MaxPromptTokens, path)
		applyInt(&out.RequestsPerMinute, cfg.LLM.RequestsPerMinute, path)

		applyInt(&out.WindowHours, cfg.Cluster.WindowHours, path)
		applyFloat(&out.SimThreshold, cfg.Cluster.SimThreshold, path)
		applyInt(&out.Workers, cfg.Cluster.Workers, path)

		apply(&out.StatePath, cfg.StatePath, SourceConfig, path)
		apply(&out.RequestTimeout, cfg.RequestTimeout, SourceConfig, path)
		apply(&out.LogLevel, cfg.Log.Level, SourceConfig, path)

		if key := strings.TrimSpace(cfg.LLM.APIKey); key != "" {
			p := providerOf(out.LLM.Value)
			if p == "" {
				p = "default"
			}
			out.LLMKeys[p] = ResolvedValue{Value: key, Source: SourceConfig, From: path}
		}
	}

	applyEnv(&out.IMAPHost, "IMAP_HOST")
	applyEnv(&out.IMAPPort, "IMAP_PORT")
	applyEnv(&out.IMAPUser, "IMAP_USER")
	applyEnv(&out.IMAPPassword, "IMAP_PASSWORD")
	applyEnv(&out.Mailbox, "MAILBOX")

	applyEnv(&out.LLM, "INBOXDIGEST_LLM")
	if m := strings.TrimSpace(os.Getenv("DEEPSEEK_MODEL")); m != "" && providerOf(out.LLM.Value) == "deepseek" {
		out.LLM = ResolvedValue{Value: "deepseek/" + m, Source: SourceEnv, From: "DEEPSEEK_MODEL"}
	}
	applyEnv(&out.LLMBaseURL, "DEEPSEEK_BASE_URL")

	applyEnv(&out.WindowHours, "TIME_WINDOW_HOURS")
	applyEnv(&out.SimThreshold, "SIM_THRESHOLD")
	applyEnv(&out.StatePath, "STATE_PATH")
	applyEnv(&out.RequestTimeout, "REQUEST_TIMEOUT")
	applyEnv(&out.LogLevel, "INBOXDIGEST_LOG_LEVEL")

	// Later entries win, so GOOGLE_API_KEY overrides GEMINI_API_KEY.
	for _, k := range []struct{ env, provider string }{
		{"OPENROUTER_API_KEY", "openrouter"},
		{"OPENAI_API_KEY", "openai"},
		{"GEMINI_API_KEY", "google"},
		{"GOOGLE_API_KEY", "google"},
		{"DEEPSEEK_API_KEY", "deepseek"},
	} {
		if v := strings.TrimSpace(os.Getenv(k.env)); v != "" {
			out.LLMKeys[k.provider] = ResolvedValue{Value: v, Source: SourceEnv, From: k.env}
		}
	}

	apply(&out.LLM, opts.CLILLM, SourceCLI, "--llm")
	apply(&out.StatePath, opts.CLIStatePath, SourceCLI, "--state")
	apply(&out.Mailbox, opts.CLIMailbox, SourceCLI, "--mailbox")
	apply(&out.LogLevel, opts.CLILogLevel, SourceCLI, "--verbose")

	// The DeepSeek endpoint only makes sense for the deepseek provider.
	if out.LLMBaseURL.Source == SourceDefault && providerOf(out.LLM.Value) != "deepseek" {
		out.LLMBaseURL = ResolvedValue{}
	}

	if out.StatePath.Value != "" {
		out.StatePath.Value = expandUserPath(out.StatePath.Value)
	}

	return out, nil
}

func defaults() ResolvedConfig {
	def := func(v string) ResolvedValue {
		return ResolvedValue{Value: v, Source: SourceDefault, From: "built-in default"}
	}
	return ResolvedConfig{
		IMAPPort:          def(strconv.Itoa(DefaultIMAPPort)),
		IMAPTLS:           def("true"),
		Mailbox:           def(DefaultMailbox),
		LLM:               def(DefaultLLM),
		LLMBaseURL:        def(DefaultDeepSeekBaseURL),
		LLMTemperature:    def(strconv.FormatFloat(DefaultTemperature, 'f', -1, 64)),
		MaxPromptTokens:   def(strconv.Itoa(DefaultMaxPromptTokens)),
		RequestsPerMinute: def(strconv.Itoa(DefaultRequestsPerMinute)),
		WindowHours:       def(strconv.Itoa(thread.DefaultWindowHours)),
		SimThreshold:      def(strconv.FormatFloat(thread.DefaultSimThreshold, 'f', -1, 64)),
		Workers:           def("1"),
		StatePath:         def(DefaultStatePath()),
		RequestTimeout:    def(DefaultRequestTimeout.String()),
		LogLevel:          def(DefaultLogLevel),
		LLMKeys:           map[string]ResolvedValue{},
	}
}

// Validate checks that every numeric setting parses and is in range.
func (r ResolvedConfig) Validate() error {
	var errs []error

	if port, err := strconv.Atoi(r.IMAPPort.Value); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("imap port %q (%s) must be in 1..65535", r.IMAPPort.Value, r.IMAPPort.Source))
	}
	if _, err := strconv.ParseBool(r.IMAPTLS.Value); err != nil {
		errs = append(errs, fmt.Errorf("imap tls %q (%s) is not a boolean", r.IMAPTLS.Value, r.IMAPTLS.Source))
	}
	if err := r.ClusterOptions().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("cluster settings (window %q from %s, threshold %q from %s): %w",
			r.WindowHours.Value, r.WindowHours.Source, r.SimThreshold.Value, r.SimThreshold.Source, err))
	}
	if w, err := strconv.Atoi(r.Workers.Value); err != nil || w < 1 {
		errs = append(errs, fmt.Errorf("workers %q (%s) must be >= 1", r.Workers.Value, r.Workers.Source))
	}
	if d, err := parseTimeout(r.RequestTimeout.Value); err != nil || d <= 0 {
		errs = append(errs, fmt.Errorf("request timeout %q (%s) must be a positive duration", r.RequestTimeout.Value, r.RequestTimeout.Source))
	}
	if n, err := strconv.Atoi(r.MaxPromptTokens.Value); err != nil || n <= 0 {
		errs = append(errs, fmt.Errorf("max prompt tokens %q (%s) must be > 0", r.MaxPromptTokens.Value, r.MaxPromptTokens.Source))
	}
	if n, err := strconv.Atoi(r.RequestsPerMinute.Value); err != nil || n <= 0 {
		errs = append(errs, fmt.Errorf("requests per minute %q (%s) must be > 0", r.RequestsPerMinute.Value, r.RequestsPerMinute.Source))
	}
	if t, err := strconv.ParseFloat(r.LLMTemperature.Value, 64); err != nil || t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("llm temperature %q (%s) must be in 0..2", r.LLMTemperature.Value, r.LLMTemperature.Source))
	}
	return errors.Join(errs...)
}

// RequireIMAP reports whether the settings needed to reach a mailbox exist.
func (r ResolvedConfig) RequireIMAP() error {
	var missing []string
	if strings.TrimSpace(r.IMAPHost.Value) == "" {
		missing = append(missing, "IMAP_HOST")
	}
	if strings.TrimSpace(r.IMAPUser.Value) == "" {
		missing = append(missing, "IMAP_USER")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: set %s or imap.* in %s", ErrMissingIMAP, strings.Join(missing, ", "), r.ConfigPath)
	}
	return nil
}

// ClusterOptions converts the cluster settings. Unparseable values become
// zero so that Validate on the result reports them.
func (r ResolvedConfig) ClusterOptions() thread.Options {
	opts := thread.DefaultOptions()
	opts.WindowHours, _ = strconv.Atoi(r.WindowHours.Value)
	opts.SimThreshold, _ = strconv.ParseFloat(r.SimThreshold.Value, 64)
	if w, err := strconv.Atoi(r.Workers.Value); err == nil {
		opts.Workers = w
	}
	return opts
}

func (r ResolvedConfig) Port() int {
	p, err := strconv.Atoi(r.IMAPPort.Value)
	if err != nil {
		return DefaultIMAPPort
	}
	return p
}

func (r ResolvedConfig) TLS() bool {
	v, err := strconv.ParseBool(r.IMAPTLS.Value)
	return err != nil || v
}

func (r ResolvedConfig) Timeout() time.Duration {
	d, err := parseTimeout(r.RequestTimeout.Value)
	if err != nil || d <= 0 {
		return DefaultRequestTimeout
	}
	return d
}

func (r ResolvedConfig) Temperature() float64 {
	t, err := strconv.ParseFloat(r.LLMTemperature.Value, 64)
	if err != nil {
		return DefaultTemperature
	}
	return t
}

func (r ResolvedConfig) PromptTokenBudget() int {
	n, err := strconv.Atoi(r.MaxPromptTokens.Value)
	if err != nil || n <= 0 {
		return DefaultMaxPromptTokens
	}
	return n
}

func (r ResolvedConfig) RateLimit() int {
	n, err := strconv.Atoi(r.RequestsPerMinute.Value)
	if err != nil || n <= 0 {
		return DefaultRequestsPerMinute
	}
	return n
}

func (r ResolvedConfig) APIKeyForProvider(providerOrModel string) ResolvedValue {
	provider := providerOf(providerOrModel)
	if provider == "" {
		return ResolvedValue{}
	}
	if v, ok := r.LLMKeys[provider]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	if v, ok := r.LLMKeys["default"]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	return ResolvedValue{}
}

// Describe renders every setting with its provenance. Secrets are masked.
func (r ResolvedConfig) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "config file: %s\n", r.ConfigPath)

	rows := []struct {
		name string
		v    ResolvedValue
	}{
		{"imap.host", r.IMAPHost},
		{"imap.port", r.IMAPPort},
		{"imap.user", r.IMAPUser},
		{"imap.password", maskValue(r.IMAPPassword)},
		{"imap.tls", r.IMAPTLS},
		{"imap.mailbox", r.Mailbox},
		{"llm", r.LLM},
		{"llm.base_url", r.LLMBaseURL},
		{"llm.temperature", r.LLMTemperature},
		{"llm.max_prompt_tokens", r.MaxPromptTokens},
		{"llm.requests_per_minute", r.RequestsPerMinute},
		{"cluster.window_hours", r.WindowHours},
		{"cluster.sim_threshold", r.SimThreshold},
		{"cluster.workers", r.Workers},
		{"state_path", r.StatePath},
		{"request_timeout", r.RequestTimeout},
		{"log.level", r.LogLevel},
	}

	providers := make([]string, 0, len(r.LLMKeys))
	for p := range r.LLMKeys {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	for _, p := range providers {
		rows = append(rows, struct {
			name string
			v    ResolvedValue
		}{"llm.api_key[" + p + "]", maskValue(r.LLMKeys[p])})
	}

	for _, row := range rows {
		fmt.Fprintf(&b, "%-26s %s\n", row.name, describeValue(row.v))
	}
	return b.String()
}

func describeValue(v ResolvedValue) string {
	if v.Value == "" {
		return "(unset)"
	}
	if v.From != "" {
		return fmt.Sprintf("%s  [%s: %s]", v.Value, v.Source, v.From)
	}
	return fmt.Sprintf("%s  [%s]", v.Value, v.Source)
}

func maskValue(v ResolvedValue) ResolvedValue {
	if v.Value == "" {
		return v
	}
	if len(v.Value) <= 8 {
		v.Value = "****"
		return v
	}
	v.Value = v.Value[:3] + "****" + v.Value[len(v.Value)-4:]
	return v
}

// parseTimeout accepts a Go duration ("90s") or a bare number of seconds.
func parseTimeout(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(n * float64(time.Second)), nil
	}
	return time.ParseDuration(raw)
}

func joinProviderModel(provider, model string) string {
	provider = strings.TrimSpace(provider)
	model = strings.TrimSpace(model)
	switch {
	case provider == "":
		return model
	case model == "" || strings.Contains(provider, "/"):
		return provider
	default:
		return provider + "/" + model
	}
}

func providerOf(providerOrModel string) string {
	v := strings.ToLower(strings.TrimSpace(providerOrModel))
	if v == "" {
		return ""
	}
	if idx := strings.Index(v, "/"); idx > 0 {
		return v[:idx]
	}
	return v
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyInt(dst *ResolvedValue, v *int, path string) {
	if v != nil {
		*dst = ResolvedValue{Value: strconv.Itoa(*v), Source: SourceConfig, From: path}
	}
}

func applyFloat(dst *ResolvedValue, v *float64, path string) {
	if v != nil {
		*dst = ResolvedValue{Value: strconv.FormatFloat(*v, 'f', -1, 64), Source: SourceConfig, From: path}
	}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(b), &cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		return &cfg, nil
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
