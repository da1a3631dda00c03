package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"digestbot/internal/resilience"
)

const hnDefaultBaseURL = "https://hacker-news.firebaseio.com/v0"

// techKeywords gates Hacker News stories to tech/AI content by title.
var techKeywords = []string{
	"ai", "artificial intelligence", "machine learning", "ml", "llm",
	"gpt", "openai", "anthropic", "claude", "gemini", "mistral",
	"deepseek", "neural", "transformer", "python", "javascript",
	"startup", "google", "microsoft", "apple", "meta", "amazon",
	"cloud", "api", "open source", "github", "programming",
	"developer", "software", "tech", "technology", "coding",
}

// HackerNews fetches top stories from the official Hacker News API.
type HackerNews struct {
	BaseURL string // default hnDefaultBaseURL
	Limit   int    // max stories returned; default 15

	httpOnce sync.Once
	http     *http.Client
}

func (h *HackerNews) ID() string { return "hackernews" }

func (h *HackerNews) client() *http.Client {
	h.httpOnce.Do(func() {
		if h.http == nil {
			h.http = &http.Client{Timeout: 10 * time.Second}
		}
	})
	return h.http
}

func (h *HackerNews) baseURL() string {
	if h.BaseURL != "" {
		return strings.TrimRight(h.BaseURL, "/")
	}
	return hnDefaultBaseURL
}

type hnStory struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Score int    `json:"score"`
	Time  int64  `json:"time"`
	Type  string `json:"type"`
}

// Fetch returns up to Limit tech-related top stories.
func (h *HackerNews) Fetch(ctx context.Context) ([]Item, error) {
	limit := h.Limit
	if limit <= 0 {
		limit = 15
	}

	var ids []int
	if err := h.getJSON(ctx, h.baseURL()+"/topstories.json", &ids); err != nil {
		return nil, fmt.Errorf("hackernews top stories: %w", err)
	}
	// Over-fetch so the keyword filter still yields enough items.
	if max := limit * 4; len(ids) > max {
		ids = ids[:max]
	}

	stories := make([]*hnStory, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			var st hnStory
			url := fmt.Sprintf("%s/item/%d.json", h.baseURL(), id)
			if err := h.getJSON(gctx, url, &st); err != nil {
				// A single missing story shouldn't sink the batch.
				return nil
			}
			stories[i] = &st
			return nil
		})
	}
	// Goroutines swallow per-story failures, so Wait never errors.
	_ = g.Wait()

	items := make([]Item, 0, limit)
	for _, st := range stories {
		if st == nil || st.Type != "story" || !isTechRelated(st.Title) {
			continue
		}
		url := st.URL
		if url == "" {
			url = fmt.Sprintf("https://news.ycombinator.com/item?id=%d", st.ID)
		}
		items = append(items, Item{
			Title:       st.Title,
			URL:         url,
			Source:      "Hacker News",
			Score:       st.Score,
			PublishedAt: time.Unix(st.Time, 0).UTC(),
		})
		if len(items) >= limit {
			break
		}
	}
	return items, nil
}

func (h *HackerNews) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return resilience.NoRetry(err)
	}
	resp, err := h.client().Do(req)
	if err != nil {
		return err // network-level: transient
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return resilience.RetryAfter(fmt.Errorf("hackernews: %s", resp.Status), retryAfterHeader(resp))
	case resp.StatusCode >= 500:
		return fmt.Errorf("hackernews: %s", resp.Status)
	case resp.StatusCode >= 400:
		return resilience.NoRetry(fmt.Errorf("hackernews: %s", resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return resilience.NoRetry(fmt.Errorf("hackernews: decode %s: %w", url, err))
	}
	return nil
}

func retryAfterHeader(resp *http.Response) time.Duration {
	s := resp.Header.Get("Retry-After")
	if s == "" {
		return 0
	}
	var secs int
	if _, err := fmt.Sscanf(s, "%d", &secs); err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// isTechRelated matches phrases as substrings but single keywords only on
// word boundaries, so "ai" never fires inside "sourdough" titles like "aid".
func isTechRelated(title string) bool {
	if title == "" {
		return false
	}
	lower := strings.ToLower(title)
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	words := make(map[string]struct{}, len(fields))
	for _, w := range fields {
		words[w] = struct{}{}
	}
	for _, kw := range techKeywords {
		if strings.ContainsRune(kw, ' ') {
			if strings.Contains(lower, kw) {
				return true
			}
			continue
		}
		if _, ok := words[kw]; ok {
			return true
		}
	}
	return false
}
