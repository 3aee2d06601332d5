package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPError is a non-2xx answer from a provider.
type HTTPError struct {
	Provider   string
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// Retryable reports whether the request may succeed if sent again.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func newHTTPError(provider string, resp *http.Response, body []byte) *HTTPError {
	return &HTTPError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

type retryProvider struct {
	Provider
	attempts int
	base     time.Duration
	ceiling  time.Duration
}

// WithRetry wraps p so that rate-limit, server and transport errors are
// retried up to attempts times in total with exponential backoff (base,
// 2*base, 4*base, ... capped at ceiling). A Retry-After header on a 429 replaces
// the computed delay.
func WithRetry(p Provider, attempts int, base, ceiling time.Duration) Provider {
	if attempts < 1 {
		attempts = 1
	}
	if base <= 0 {
		base = time.Second
	}
	if ceiling < base {
		ceiling = base
	}
	return &retryProvider{Provider: p, attempts: attempts, base: base, ceiling: ceiling}
}

func (r *retryProvider) Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error) {
	var lastErr error
	tries := 0
	for attempt := 0; attempt < r.attempts; attempt++ {
		tries++
		out, err := r.Provider.Complete(ctx, prompt, opts)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(err) || attempt == r.attempts-1 {
			break
		}

		backoff := r.base << attempt
		if backoff > r.ceiling || backoff <= 0 {
			backoff = r.ceiling
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests && httpErr.RetryAfter > 0 {
			backoff = httpErr.RetryAfter
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}
	if tries == 1 {
		return "", lastErr
	}
	return "", fmt.Errorf("%s: completion failed after %d attempts: %w", r.Name(), tries, lastErr)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	return true
}
