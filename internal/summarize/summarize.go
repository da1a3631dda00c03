// Package summarize turns scraped items into an AI-written digest through an
// OpenAI-compatible chat-completions endpoint.
package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"digestbot/internal/sources"
)

// Summarizer is the AI collaborator consumed by the digest builder. Errors
// follow the resilience taxonomy: transient ones plain (optionally with a
// RetryAfter hint), permanent ones wrapped with resilience.NoRetry.
type Summarizer interface {
	Summarize(ctx context.Context, items []sources.Item) (string, error)
}

const maxPromptItems = 30

// formatItemsForPrompt renders items as the numbered block the system prompt
// expects, including source labels and scores.
func formatItemsForPrompt(items []sources.Item) string {
	if len(items) > maxPromptItems {
		items = items[:maxPromptItems]
	}
	var b strings.Builder
	for i, it := range items {
		fmt.Fprintf(&b, "%d. [%s] %s", i+1, it.Source, it.Title)
		if it.Score > 0 {
			fmt.Fprintf(&b, " (%d points)", it.Score)
		}
		if it.URL != "" {
			fmt.Fprintf(&b, "\n   URL: %s", it.URL)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func systemPrompt(now time.Time) string {
	return fmt.Sprintf(`You are the writer of a professional tech news digest. Today is %s.

Produce a concise digest in Markdown with these rules:
- Group related stories under short bold section headers.
- One line per story: **Title** — one-sentence summary. (Source) | [Read](url)
- Lead with the most significant stories.
- Keep the whole digest under 3500 characters.
- No preamble and no closing remarks.`, now.Format("2006-01-02"))
}
