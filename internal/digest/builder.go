// Package digest assembles recipient digests through a tiered fallback:
// AI summary first, a templated categorized rendering when the AI collaborator
// fails, and a raw title list as the floor. Build never returns empty content.
package digest

import (
	"context"
	"time"

	"digestbot/internal/resilience"
	"digestbot/internal/sources"
	"digestbot/internal/summarize"
	logx "digestbot/pkg/logx"
)

// Result is one produced digest plus the tier that actually fired.
type Result struct {
	Tier        Tier
	Content     string
	ItemCount   int
	GeneratedAt time.Time
}

// Options bounds the AI tier's retry behavior.
type Options struct {
	Policy      resilience.BackoffPolicy
	MaxAttempts int // default 3
}

// Builder runs the tier descent. An AI-tier failure is degradation, not a
// pipeline failure: it is logged and absorbed by the next tier.
type Builder struct {
	summarizer  summarize.Summarizer
	policy      resilience.BackoffPolicy
	maxAttempts int
	log         logx.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewBuilder creates a Builder. summarizer may be nil, in which case the AI
// tier is skipped entirely.
func NewBuilder(summarizer summarize.Summarizer, opt Options, log logx.Logger) *Builder {
	maxAttempts := opt.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Builder{
		summarizer:  summarizer,
		policy:      opt.Policy,
		maxAttempts: maxAttempts,
		log:         log,
		now:         time.Now,
	}
}

// Build produces a digest for items. It always returns non-empty content:
// the RAW tier renders an explicit notice even for zero items.
func (b *Builder) Build(ctx context.Context, items []sources.Item) Result {
	items = sources.Dedupe(items)
	now := b.now()

	if b.summarizer != nil && len(items) > 0 {
		content, err := resilience.DoValue(ctx, b.policy, b.maxAttempts, nil, func(ctx context.Context) (string, error) {
			return b.summarizer.Summarize(ctx, items)
		})
		if err == nil && content != "" {
			b.log.Debug("digest.built", logx.String("tier", TierAI.String()), logx.Int("items", len(items)))
			return Result{Tier: TierAI, Content: content, ItemCount: len(items), GeneratedAt: now}
		}
		// Degradation, not failure: descend a tier and keep going.
		b.log.Warn("digest.ai_tier_failed", logx.Err(err), logx.Int("items", len(items)))
	}

	if len(items) > 0 {
		content := renderTemplated(items, now)
		b.log.Debug("digest.built", logx.String("tier", TierTemplated.String()), logx.Int("items", len(items)))
		return Result{Tier: TierTemplated, Content: content, ItemCount: len(items), GeneratedAt: now}
	}

	b.log.Warn("digest.raw_tier", logx.Int("items", 0))
	return Result{Tier: TierRaw, Content: renderRaw(items), ItemCount: 0, GeneratedAt: now}
}
