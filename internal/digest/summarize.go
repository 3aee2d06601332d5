package digest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tiktoken-go/tokenizer"
	"golang.org/x/time/rate"

	"github.com/hurttlocker/inboxdigest/internal/llm"
	"github.com/hurttlocker/inboxdigest/internal/thread"
)

const (
	// EmptyDigest is returned when there is nothing to summarize.
	EmptyDigest = "_No threads to summarize._"

	DefaultMaxPromptTokens = 24000
	DefaultTemperature     = 0.2

	// blockSeparatorTokens accounts for the blank line between thread blocks.
	blockSeparatorTokens = 2
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

// countTokens counts cl100k_base tokens. If the encoding cannot be loaded
// it falls back to the chars/4 estimate.
func countTokens(text string) int {
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err == nil {
			codec = c
		}
	})
	if codec != nil {
		if ids, _, err := codec.Encode(text); err == nil {
			return len(ids)
		}
	}
	return len(text) / 4
}

// NewLimiter paces completions to perMinute requests. perMinute <= 0
// disables pacing and returns nil.
func NewLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// Summarizer produces the Markdown to-do digest for a set of threads.
type Summarizer struct {
	Provider        llm.Provider
	Temperature     float64
	MaxPromptTokens int           // 0 = DefaultMaxPromptTokens
	MaxTokens       int           // completion cap, 0 = provider default
	Limiter         *rate.Limiter // nil = unpaced
}

func (s *Summarizer) budget() int {
	if s.MaxPromptTokens <= 0 {
		return DefaultMaxPromptTokens
	}
	return s.MaxPromptTokens
}

// Batches splits threads, in order, into groups whose prompt fits the
// token budget. A thread that alone exceeds the budget gets its own batch.
func (s *Summarizer) Batches(threads []thread.Thread, instruction string) [][]thread.Thread {
	if len(threads) == 0 {
		return nil
	}
	overhead := countTokens(systemPrompt) + countTokens(userPrompt(instruction, ""))
	limit := s.budget()

	var (
		out  [][]thread.Thread
		cur  []thread.Thread
		used = overhead
	)
	for _, t := range threads {
		n := countTokens(FormatThread(t, DefaultTimelineItems)) + blockSeparatorTokens
		if len(cur) > 0 && used+n > limit {
			out = append(out, cur)
			cur, used = nil, overhead
		}
		cur = append(cur, t)
		used += n
	}
	return append(out, cur)
}

// Summarize asks the provider for a digest of threads. Large inputs are
// sent as several completions whose outputs are joined with a blank line.
func (s *Summarizer) Summarize(ctx context.Context, threads []thread.Thread, instruction string) (string, error) {
	if len(threads) == 0 {
		return EmptyDigest, nil
	}
	if s.Provider == nil {
		return "", fmt.Errorf("summarizer has no LLM provider")
	}

	batches := s.Batches(threads, instruction)
	parts := make([]string, 0, len(batches))
	for i, batch := range batches {
		if s.Limiter != nil {
			if err := s.Limiter.Wait(ctx); err != nil {
				return "", err
			}
		}
		system, user := BuildPrompt(batch, instruction)
		out, err := s.Provider.Complete(ctx, user, llm.CompletionOpts{
			System:      system,
			Temperature: s.Temperature,
			MaxTokens:   s.MaxTokens,
		})
		if err != nil {
			if len(batches) > 1 {
				return "", fmt.Errorf("summarizing batch %d/%d: %w", i+1, len(batches), err)
			}
			return "", fmt.Errorf("summarizing: %w", err)
		}
		if out = strings.TrimSpace(out); out != "" {
			parts = append(parts, out)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}
