// Package pipeline orchestrates one digest delivery cycle: take the
// per-recipient lock, collect items, build the digest, split it, and send the
// chunks in order. The lock makes concurrent invocations for the same
// recipient collapse to a single delivery; the loser observes contention and
// walks away without error.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"digestbot/internal/cache"
	"digestbot/internal/digest"
	"digestbot/internal/eventbus"
	"digestbot/internal/lock"
	"digestbot/internal/resilience"
	"digestbot/internal/sources"
	"digestbot/internal/transport"
	logx "digestbot/pkg/logx"
	"digestbot/pkg/msgsplit"
)

// Recipient is the delivery target of one cycle.
type Recipient struct {
	ChatID int64
	Name   string // label for logs and events
}

func (r Recipient) label() string {
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("chat:%d", r.ChatID)
}

// HistoryStore records delivered digests. Failures here are logged, never
// fatal: the digest already reached the recipient.
type HistoryStore interface {
	SaveDigest(ctx context.Context, chatID int64, tier, content string) error
}

// Config bounds one cycle. Zero values pick the defaults noted per field.
type Config struct {
	LockTTL       time.Duration            // default lock.DefaultTTL; keep above CycleTimeout
	CycleTimeout  time.Duration            // default 4m
	CacheTTL      time.Duration            // per-source item cache; default 15m
	MaxChunkBytes int                      // default msgsplit.TelegramMaxBytes
	SendRate      rate.Limit               // messages/sec across all cycles; default 25
	SendAttempts  int                      // per chunk; default 3
	FetchAttempts int                      // per source; default 3
	RetryPolicy   resilience.BackoffPolicy // zero value uses package defaults
}

func (c Config) withDefaults() Config {
	if c.LockTTL <= 0 {
		c.LockTTL = lock.DefaultTTL
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = 4 * time.Minute
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 15 * time.Minute
	}
	if c.MaxChunkBytes <= 0 {
		c.MaxChunkBytes = msgsplit.TelegramMaxBytes
	}
	if c.SendRate <= 0 {
		c.SendRate = 25
	}
	if c.SendAttempts <= 0 {
		c.SendAttempts = 3
	}
	if c.FetchAttempts <= 0 {
		c.FetchAttempts = 3
	}
	return c
}

// Deps are the cycle collaborators. History and Bus may be nil.
type Deps struct {
	Lock     *lock.Lock
	Fetchers []sources.Fetcher
	Cache    *cache.Cache[[]sources.Item]
	Builder  *digest.Builder
	Adapter  transport.Adapter
	History  HistoryStore
	Bus      eventbus.Bus
	Log      logx.Logger
}

// Pipeline runs digest cycles. Safe for concurrent use; the send rate limiter
// is shared so parallel cycles cannot jointly exceed the platform budget.
type Pipeline struct {
	lock     *lock.Lock
	fetchers []sources.Fetcher
	cache    *cache.Cache[[]sources.Item]
	builder  *digest.Builder
	adapter  transport.Adapter
	history  HistoryStore
	bus      eventbus.Bus
	log      logx.Logger
	limiter  *rate.Limiter
	cfg      Config

	// now is swappable for tests.
	now func() time.Time
}

func New(d Deps, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Cache == nil {
		d.Cache = cache.New[[]sources.Item]()
	}
	return &Pipeline{
		lock:     d.Lock,
		fetchers: d.Fetchers,
		cache:    d.Cache,
		builder:  d.Builder,
		adapter:  d.Adapter,
		history:  d.History,
		bus:      d.Bus,
		log:      d.Log,
		limiter:  rate.NewLimiter(cfg.SendRate, 1),
		cfg:      cfg,
		now:      time.Now,
	}
}

func lockResource(chatID int64) string {
	return fmt.Sprintf("digest:%d", chatID)
}

// RunCycle delivers one digest to r.
//
// Lock contention is not an error: the cycle is skipped silently (nil return,
// cycle.skipped event) because another invocation is already delivering. Any
// other failure surfaces as an error after a cycle.failed event.
func (p *Pipeline) RunCycle(ctx context.Context, r Recipient) error {
	started := p.now()
	resource := lockResource(r.ChatID)
	token := lock.NewToken()

	acquired, err := p.lock.Acquire(ctx, resource, token, p.cfg.LockTTL)
	if err != nil {
		p.publish(eventbus.CycleFailed, eventbus.CycleEvent{Recipient: r.label(), Error: err.Error()})
		return fmt.Errorf("cycle %s: %w", r.label(), err)
	}
	if !acquired {
		p.log.Info("cycle.skipped", logx.String("recipient", r.label()))
		p.publish(eventbus.CycleSkipped, eventbus.CycleEvent{Recipient: r.label()})
		return nil
	}
	defer func() {
		// The cycle context may already be dead; release on a fresh one.
		rctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.lock.Release(rctx, resource, token); err != nil {
			p.log.Warn("cycle.lock_release_failed", logx.String("recipient", r.label()), logx.Err(err))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.CycleTimeout)
	defer cancel()
	go p.keepLockAlive(ctx, cancel, resource, token)

	p.log.Info("cycle.started", logx.String("recipient", r.label()))
	p.publish(eventbus.CycleStarted, eventbus.CycleEvent{Recipient: r.label()})

	res, chunks, err := p.runLocked(ctx, r)
	duration := p.now().Sub(started)
	if err != nil {
		p.log.Error("cycle.failed", logx.String("recipient", r.label()), logx.Duration("took", duration), logx.Err(err))
		p.publish(eventbus.CycleFailed, eventbus.CycleEvent{
			Recipient: r.label(),
			Duration:  duration,
			Error:     err.Error(),
		})
		return fmt.Errorf("cycle %s: %w", r.label(), err)
	}

	p.log.Info("cycle.completed",
		logx.String("recipient", r.label()),
		logx.String("tier", res.Tier.String()),
		logx.Int("items", res.ItemCount),
		logx.Int("chunks", chunks),
		logx.Duration("took", duration),
	)
	p.publish(eventbus.CycleCompleted, eventbus.CycleEvent{
		Recipient: r.label(),
		Tier:      res.Tier.String(),
		Chunks:    chunks,
		Items:     res.ItemCount,
		Duration:  duration,
	})
	return nil
}

func (p *Pipeline) runLocked(ctx context.Context, r Recipient) (digest.Result, int, error) {
	items := p.collect(ctx)
	res := p.builder.Build(ctx, items)

	chunks := msgsplit.Split(res.Content, p.cfg.MaxChunkBytes)
	to := transport.ChatTarget{ChatID: r.ChatID}
	opt := &transport.SendOptions{ParseMode: "Markdown", DisablePreview: true}

	for i, chunk := range chunks {
		if err := p.limiter.Wait(ctx); err != nil {
			return res, i, err
		}
		err := resilience.Do(ctx, p.cfg.RetryPolicy, p.cfg.SendAttempts, nil, func(ctx context.Context) error {
			_, err := p.adapter.SendText(ctx, to, chunk, opt)
			return err
		})
		if err != nil {
			return res, i, fmt.Errorf("send chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}

	if p.history != nil {
		if err := p.history.SaveDigest(ctx, r.ChatID, res.Tier.String(), res.Content); err != nil {
			p.log.Warn("cycle.history_save_failed", logx.Int64("chat_id", r.ChatID), logx.Err(err))
		}
	}
	return res, len(chunks), nil
}

// collect gathers items from all fetchers. Each source is retried and cached
// independently; a dead source degrades the digest instead of failing the
// cycle.
func (p *Pipeline) collect(ctx context.Context) []sources.Item {
	var all []sources.Item
	for _, f := range p.fetchers {
		f := f
		items, err := p.cache.GetOrCompute(ctx, "source:"+f.ID(), p.cfg.CacheTTL, func(ctx context.Context) ([]sources.Item, error) {
			return resilience.DoValue(ctx, p.cfg.RetryPolicy, p.cfg.FetchAttempts, nil, f.Fetch)
		})
		if err != nil {
			p.log.Warn("cycle.source_failed", logx.String("source", f.ID()), logx.Err(err))
			continue
		}
		all = append(all, items...)
	}
	return all
}

// keepLockAlive renews the lock while the cycle runs. A lost lock means
// another invocation may already own the resource, so the cycle is canceled
// rather than risking a double send.
func (p *Pipeline) keepLockAlive(ctx context.Context, cancel context.CancelFunc, resource, token string) {
	interval := p.cfg.LockTTL / 3
	tk := time.NewTicker(interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			ok, err := p.lock.Renew(ctx, resource, token, p.cfg.LockTTL)
			if err != nil {
				p.log.Warn("cycle.lock_renew_failed", logx.String("resource", resource), logx.Err(err))
				continue
			}
			if !ok {
				p.log.Error("cycle.lock_lost", logx.String("resource", resource))
				cancel()
				return
			}
		}
	}
}

func (p *Pipeline) publish(typ string, ev eventbus.CycleEvent) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.Event{Type: typ, Time: p.now(), Data: ev})
}
