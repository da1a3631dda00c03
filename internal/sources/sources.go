// Package sources defines the content-source collaborator contract and the
// concrete fetchers the digest pipeline draws from.
//
// Fetchers classify their failures for the retry layer: transient errors
// (timeouts, 5xx, rate limits) are returned plain or with a
// resilience.RetryAfter hint; permanent ones are wrapped with
// resilience.NoRetry so they are never retried.
package sources

import (
	"context"
	"strings"
	"time"
)

// Item is one piece of scraped content.
type Item struct {
	Title       string
	URL         string
	Source      string
	Score       int
	PublishedAt time.Time
}

// Fetcher retrieves items from one upstream source. Implementations own all
// source-specific parsing; callers only see Items and classified errors.
type Fetcher interface {
	ID() string
	Fetch(ctx context.Context) ([]Item, error)
}

// Dedupe removes items that repeat an earlier item's normalized URL or title,
// preserving first-seen order.
func Dedupe(items []Item) []Item {
	seen := make(map[string]struct{}, len(items))
	out := items[:0:0]
	for _, it := range items {
		key := normalizeURL(it.URL)
		if key == "" {
			key = "t:" + normalizeTitle(it.Title)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		if tk := "t:" + normalizeTitle(it.Title); tk != "t:" {
			if _, dup := seen[tk]; dup {
				continue
			}
			seen[tk] = struct{}{}
		}
		seen[key] = struct{}{}
		out = append(out, it)
	}
	return out
}

func normalizeURL(u string) string {
	u = strings.TrimSpace(strings.ToLower(u))
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimPrefix(u, "www.")
	return strings.TrimRight(u, "/")
}

func normalizeTitle(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	return strings.Join(strings.Fields(t), " ")
}
