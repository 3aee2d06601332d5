package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// openaiProvider talks to any OpenAI-compatible chat completions endpoint.
// DeepSeek is served through it with its own base URL.
type openaiProvider struct {
	name   string
	model  string
	client openai.Client
}

func newOpenAIProvider(name, apiKey, model, baseURL string, httpClient *http.Client) *openaiProvider {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &openaiProvider{
		name:  name,
		model: model,
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(baseURL),
			option.WithHTTPClient(httpClient),
			// WithRetry owns retries.
			option.WithMaxRetries(0),
		),
	}
}

func (p *openaiProvider) Name() string {
	return p.name + "/" + p.model
}

func (p *openaiProvider) Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error) {
	model := p.model
	if opts.Model != "" {
		model = opts.Model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if opts.System != "" {
		messages = append(messages, openai.SystemMessage(opts.System))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    messages,
		Temperature: openai.Float(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			httpErr := &HTTPError{Provider: p.name, StatusCode: apiErr.StatusCode, Message: apiErr.Error()}
			if apiErr.Response != nil {
				httpErr.RetryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
			}
			return "", httpErr
		}
		return "", fmt.Errorf("sending request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from %s API", p.name)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
