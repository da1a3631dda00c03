package digest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"digestbot/internal/resilience"
	"digestbot/internal/sources"
	logx "digestbot/pkg/logx"
)

type fakeSummarizer struct {
	text  string
	err   error
	calls int
}

func (f *fakeSummarizer) Summarize(ctx context.Context, items []sources.Item) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func fastOptions() Options {
	return Options{
		Policy:      resilience.BackoffPolicy{Base: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		MaxAttempts: 3,
	}
}

func someItems() []sources.Item {
	return []sources.Item{
		{Title: "Big LLM launch", URL: "https://example.com/1", Source: "Hacker News", Score: 500},
		{Title: "New ai framework released", URL: "https://example.com/2", Source: "TechCrunch", Score: 90},
		{Title: "Startup raises series B funding", URL: "https://example.com/3", Source: "The Verge", Score: 10},
		{Title: "Completely unrelated gardening news", URL: "https://example.com/4", Source: "Blog"},
	}
}

func TestBuildAITier(t *testing.T) {
	t.Parallel()
	s := &fakeSummarizer{text: "**AI digest**"}
	b := NewBuilder(s, fastOptions(), logx.Nop())

	res := b.Build(context.Background(), someItems())
	if res.Tier != TierAI {
		t.Fatalf("tier = %s, want ai", res.Tier)
	}
	if res.Content != "**AI digest**" || res.ItemCount != 4 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if s.calls != 1 {
		t.Fatalf("summarizer called %d times", s.calls)
	}
}

func TestBuildFallsToTemplatedAfterExhaustion(t *testing.T) {
	t.Parallel()
	s := &fakeSummarizer{err: errors.New("upstream timeout")}
	b := NewBuilder(s, fastOptions(), logx.Nop())

	res := b.Build(context.Background(), someItems())
	if s.calls != 3 {
		t.Fatalf("summarizer called %d times, want maxAttempts=3", s.calls)
	}
	if res.Tier != TierTemplated {
		t.Fatalf("tier = %s, want templated", res.Tier)
	}
	if res.Content == "" {
		t.Fatal("templated content empty")
	}
	// Categorization is visible in the output.
	for _, want := range []string{"🔥 Top Stories", "🤖 AI & ML", "💼 Business & Startups", "📰 Other News"} {
		if !strings.Contains(res.Content, want) {
			t.Fatalf("missing category %q in:\n%s", want, res.Content)
		}
	}
}

func TestBuildFatalAIFailureSkipsRetries(t *testing.T) {
	t.Parallel()
	s := &fakeSummarizer{err: resilience.NoRetry(errors.New("bad api key"))}
	b := NewBuilder(s, fastOptions(), logx.Nop())

	res := b.Build(context.Background(), someItems())
	if s.calls != 1 {
		t.Fatalf("fatal error retried: %d calls", s.calls)
	}
	if res.Tier != TierTemplated {
		t.Fatalf("tier = %s, want templated", res.Tier)
	}
}

func TestBuildZeroItemsRawNotice(t *testing.T) {
	t.Parallel()
	s := &fakeSummarizer{text: "never used"}
	b := NewBuilder(s, fastOptions(), logx.Nop())

	res := b.Build(context.Background(), nil)
	if s.calls != 0 {
		t.Fatal("summarizer should not run with zero items")
	}
	if res.Tier != TierRaw {
		t.Fatalf("tier = %s, want raw", res.Tier)
	}
	if res.Content != emptyNotice {
		t.Fatalf("content = %q", res.Content)
	}
}

func TestBuildNeverEmpty(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		b     *Builder
		items []sources.Item
	}{
		{name: "no summarizer, items", b: NewBuilder(nil, fastOptions(), logx.Nop()), items: someItems()},
		{name: "no summarizer, no items", b: NewBuilder(nil, fastOptions(), logx.Nop())},
		{name: "empty summary, items", b: NewBuilder(&fakeSummarizer{text: ""}, fastOptions(), logx.Nop()), items: someItems()},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.b.Build(context.Background(), tt.items)
			if strings.TrimSpace(res.Content) == "" {
				t.Fatalf("empty content at tier %s", res.Tier)
			}
		})
	}
}

func TestCategorizeDeterministicOrder(t *testing.T) {
	t.Parallel()
	order, grouped := categorize(someItems())
	want := []string{"🔥 Top Stories", "🤖 AI & ML", "💼 Business & Startups", "📰 Other News"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
	if len(grouped["🔥 Top Stories"]) != 1 {
		t.Fatalf("top stories = %+v", grouped["🔥 Top Stories"])
	}
}
