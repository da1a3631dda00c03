package digest

import (
	"fmt"
	"strings"
	"time"

	"digestbot/internal/sources"
)

const (
	templatedMaxItems   = 15
	templatedPerSection = 5
	rawMaxItems         = 20

	emptyNotice = "📭 No news found today. Check back later!"
)

// renderTemplated produces the categorized non-AI digest. It requires at
// least one item; callers guarantee that.
func renderTemplated(items []sources.Item, now time.Time) string {
	if len(items) > templatedMaxItems {
		items = items[:templatedMaxItems]
	}
	order, grouped := categorize(items)

	var b strings.Builder
	fmt.Fprintf(&b, "📰 **Tech News Digest**\n_%s_\n\n", now.Format("2006-01-02"))

	for _, name := range order {
		fmt.Fprintf(&b, "**%s**\n", name)
		group := grouped[name]
		if len(group) > templatedPerSection {
			group = group[:templatedPerSection]
		}
		for i, it := range group {
			b.WriteString(renderEntry(i+1, it))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("_💡 Automatically curated digest_")
	return b.String()
}

func renderEntry(n int, it sources.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d. %s ", n, sourceEmoji(it.Source))
	if it.URL != "" {
		fmt.Fprintf(&b, "[%s](%s)", it.Title, it.URL)
	} else {
		b.WriteString(it.Title)
	}
	if it.Score > 0 {
		fmt.Fprintf(&b, " `(%d↑)`", it.Score)
	}
	return b.String()
}

// renderRaw is the floor tier: a plain numbered list, or an explicit notice
// when nothing at all survived scraping.
func renderRaw(items []sources.Item) string {
	if len(items) == 0 {
		return emptyNotice
	}
	if len(items) > rawMaxItems {
		items = items[:rawMaxItems]
	}

	var b strings.Builder
	b.WriteString("📰 **Tech News**\n\n")
	for i, it := range items {
		if it.URL != "" {
			fmt.Fprintf(&b, "%d. [%s](%s)\n", i+1, it.Title, it.URL)
		} else {
			fmt.Fprintf(&b, "%d. %s\n", i+1, it.Title)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
