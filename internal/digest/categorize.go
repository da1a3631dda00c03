package digest

import (
	"strings"
	"unicode"

	"digestbot/internal/sources"
)

// topStoryScore is the score above which an item outranks keyword routing.
const topStoryScore = 200

type category struct {
	name     string
	keywords []string
}

// categories are checked in order; the first match wins. The final entry is
// the catch-all.
var categories = []category{
	{name: "🔥 Top Stories"},
	{name: "🤖 AI & ML", keywords: []string{
		"ai", "ml", "machine learning", "artificial intelligence", "gpt", "llm",
		"neural", "deep learning", "openai", "anthropic", "deepmind", "mistral",
		"claude", "gemini",
	}},
	{name: "🛠️ Tools & Products", keywords: []string{
		"release", "launch", "tool", "framework", "library", "app", "update",
		"version", "open source",
	}},
	{name: "💼 Business & Startups", keywords: []string{
		"funding", "startup", "vc", "acquisition", "valuation", "raise",
		"investment", "series",
	}},
	{name: "📰 Other News"},
}

// categorize groups items into the fixed category set, keeping category order
// deterministic and skipping empty groups.
func categorize(items []sources.Item) ([]string, map[string][]sources.Item) {
	grouped := make(map[string][]sources.Item)
	for _, it := range items {
		grouped[categoryFor(it)] = append(grouped[categoryFor(it)], it)
	}

	order := make([]string, 0, len(categories))
	for _, c := range categories {
		if len(grouped[c.name]) > 0 {
			order = append(order, c.name)
		}
	}
	return order, grouped
}

func categoryFor(it sources.Item) string {
	if it.Score > topStoryScore {
		return categories[0].name
	}
	title := strings.ToLower(it.Title)
	words := titleWords(title)
	for _, c := range categories[1 : len(categories)-1] {
		for _, kw := range c.keywords {
			if matchKeyword(title, words, kw) {
				return c.name
			}
		}
	}
	return categories[len(categories)-1].name
}

// matchKeyword matches phrases as substrings but single keywords only on word
// boundaries, so "ai" never fires inside "raises".
func matchKeyword(title string, words map[string]struct{}, kw string) bool {
	if strings.ContainsRune(kw, ' ') {
		return strings.Contains(title, kw)
	}
	_, ok := words[kw]
	return ok
}

func titleWords(title string) map[string]struct{} {
	fields := strings.FieldsFunc(title, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	words := make(map[string]struct{}, len(fields))
	for _, w := range fields {
		words[w] = struct{}{}
	}
	return words
}

// sourceEmoji maps a source name to its digest marker.
func sourceEmoji(source string) string {
	s := strings.ToLower(source)
	switch {
	case strings.Contains(s, "hacker") || strings.Contains(s, "hn"):
		return "📰"
	case strings.Contains(s, "techcrunch"):
		return "💻"
	case strings.Contains(s, "verge"):
		return "📱"
	case strings.Contains(s, "github"):
		return "🔥"
	case strings.Contains(s, "google") || strings.Contains(s, "deepmind"):
		return "🧠"
	case strings.Contains(s, "anthropic"), strings.Contains(s, "openai"):
		return "🤖"
	case strings.Contains(s, "mistral"):
		return "🌪️"
	default:
		return "📄"
	}
}
