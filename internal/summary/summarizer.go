// Package summary produces the short synthetic summary attached to each
// article, with a deterministic fallback when generation is unavailable.
package summary

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sethvargo/go-retry"
)

//go:embed system_prompt.txt
var systemPrompt string

const (
	maxSummaryTokens = 300
	temperature      = 0.2

	// FallbackMaxLen caps the deterministic title-derived fallback.
	FallbackMaxLen = 180
)

// ErrDisabled is returned when no API key was configured; callers degrade
// to the fallback summary.
var ErrDisabled = errors.New("summarizer is not configured")

// Summarizer calls the text-generation service.
type Summarizer struct {
	client  anthropic.Client
	model   anthropic.Model
	enabled bool

	// TokensUsed accumulates output tokens across the run, for the debug
	// payload. Read after the run; not safe for concurrent runs.
	TokensUsed int64
}

// New builds a Summarizer. An empty API key produces a disabled instance
// whose Summarize always errors, leaving every item on the fallback path.
func New(apiKey string) *Summarizer {
	return &Summarizer{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   anthropic.Model("claude-haiku-4-5"),
		enabled: apiKey != "",
	}
}

// Summarize asks the model for a 2-3 sentence summary of the item.
// Transient upstream failures (429, 5xx) get one fibonacci-backoff retry
// window; anything terminal is returned for the caller to degrade on.
func (s *Summarizer) Summarize(ctx context.Context, title, excerpt, source string) (string, error) {
	if !s.enabled {
		return "", ErrDisabled
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Source: %s\nHeadline: %s\n", source, title)
	if excerpt != "" {
		fmt.Fprintf(&sb, "Excerpt: %s\n", excerpt)
	}
	userMessage := sb.String()

	var out string
	backoff := retry.WithMaxRetries(2, retry.NewFibonacci(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:       s.model,
			MaxTokens:   maxSummaryTokens,
			Temperature: anthropic.Float(temperature),
			System: []anthropic.TextBlockParam{{
				Text: systemPrompt,
			}},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage)),
			},
		})
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}

		var text strings.Builder
		for _, block := range resp.Content {
			text.WriteString(block.Text)
		}
		got := strings.TrimSpace(text.String())
		if got == "" {
			return errors.New("generation returned empty content")
		}

		s.TokensUsed += resp.Usage.OutputTokens
		out = got

		return nil
	})
	if err != nil {
		return "", fmt.Errorf("error generating summary: %w", err)
	}

	return out, nil
}

// Fallback derives a deterministic summary from the title alone. It is
// never empty for a non-empty title and never exceeds FallbackMaxLen.
func (s *Summarizer) Fallback(title string) string {
	return Fallback(title)
}

// Fallback truncates the title to the character budget on a word boundary.
func Fallback(title string) string {
	title = strings.TrimSpace(title)
	if len(title) <= FallbackMaxLen {
		return title
	}

	end := FallbackMaxLen
	// A byte cut must not split a multibyte rune.
	for end > 0 && !utf8.RuneStart(title[end]) {
		end--
	}
	cut := title[:end]
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}

	return cut + "…"
}
