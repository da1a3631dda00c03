// Package app wires configuration, storage, transport, and the digest
// pipeline into one runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"digestbot/internal/cache"
	"digestbot/internal/config"
	"digestbot/internal/digest"
	"digestbot/internal/eventbus"
	"digestbot/internal/lock"
	"digestbot/internal/observability/debug"
	"digestbot/internal/pipeline"
	"digestbot/internal/resilience"
	"digestbot/internal/scheduler"
	"digestbot/internal/sources"
	"digestbot/internal/storage"
	"digestbot/internal/summarize"
	"digestbot/internal/transport/telegram"
	logx "digestbot/pkg/logx"
)

// lockPruneEvery bounds how long fully expired lock rows linger.
const lockPruneEvery = time.Hour

// App owns every long-lived component of the digest service.
type App struct {
	cfgPath string
	cfg     *config.Config

	logSvc *logx.Service
	log    logx.Logger

	db      *storage.DB
	bus     eventbus.Bus
	pipe    *pipeline.Pipeline
	sched   *scheduler.Scheduler
	watcher *config.Watcher
	debug   *debug.Server
}

// New loads the config at cfgPath and builds the full component graph.
func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Log.Level,
		Console: cfg.Log.ConsoleEnabled(),
		File:    logx.FileConfig{Enabled: cfg.Log.File.Enabled, Path: cfg.Log.File.Path},
	})

	a := &App{cfgPath: cfgPath, cfg: cfg, logSvc: logSvc, log: log}
	if err := a.build(); err != nil {
		if a.db != nil {
			_ = a.db.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.cfg

	busyTimeout, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	db, err := storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: busyTimeout}, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.db = db

	tgTimeout, _ := config.ParseDurationField("telegram.timeout", cfg.Telegram.Timeout)
	adapter, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, Timeout: tgTimeout}, a.log.With(logx.String("comp", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	var summarizer summarize.Summarizer
	if cfg.Summarizer.Enabled {
		sumTimeout, _ := config.ParseDurationField("summarizer.timeout", cfg.Summarizer.Timeout)
		client, err := summarize.NewClient(summarize.Config{
			BaseURL:     cfg.Summarizer.BaseURL,
			APIKey:      cfg.Summarizer.APIKey,
			Model:       cfg.Summarizer.Model,
			Timeout:     sumTimeout,
			MaxTokens:   cfg.Summarizer.MaxTokens,
			Temperature: cfg.Summarizer.Temperature,
		})
		if err != nil {
			return fmt.Errorf("summarizer: %w", err)
		}
		summarizer = client
	}

	var fetchers []sources.Fetcher
	if cfg.Sources.HackerNews.Enabled {
		fetchers = append(fetchers, &sources.HackerNews{Limit: cfg.Sources.HackerNews.Limit})
	}

	retryBase, _ := config.ParseDurationField("digest.retry_base", cfg.Digest.RetryBase)
	retryMax, _ := config.ParseDurationField("digest.retry_max_delay", cfg.Digest.RetryMaxDelay)
	policy := resilience.BackoffPolicy{Base: retryBase, MaxDelay: retryMax}

	builder := digest.NewBuilder(summarizer, digest.Options{
		Policy:      policy,
		MaxAttempts: cfg.Digest.MaxAttempts,
	}, a.log.With(logx.String("comp", "digest")))

	lockTTL, _ := config.ParseDurationOrDefault("digest.lock_ttl", cfg.Digest.LockTTL, lock.DefaultTTL)
	cycleTimeout, _ := config.ParseDurationField("digest.cycle_timeout", cfg.Digest.CycleTimeout)
	cacheTTL, _ := config.ParseDurationField("sources.cache_ttl", cfg.Sources.CacheTTL)

	a.bus = eventbus.New()
	a.pipe = pipeline.New(pipeline.Deps{
		Lock:     lock.New(db.Locks()),
		Fetchers: fetchers,
		Cache:    cache.New[[]sources.Item](),
		Builder:  builder,
		Adapter:  adapter,
		History:  db,
		Bus:      a.bus,
		Log:      a.log.With(logx.String("comp", "pipeline")),
	}, pipeline.Config{
		LockTTL:       lockTTL,
		CycleTimeout:  cycleTimeout,
		CacheTTL:      cacheTTL,
		MaxChunkBytes: cfg.Digest.MaxChunkBytes,
		SendRate:      rateLimit(cfg.Delivery.RatePerSec),
		SendAttempts:  cfg.Delivery.RetryMax,
		FetchAttempts: cfg.Digest.MaxAttempts,
		RetryPolicy:   policy,
	})

	sched, err := scheduler.New(scheduler.Config{
		Timezone:    cfg.Scheduler.Timezone,
		Concurrency: cfg.Scheduler.Concurrency,
	}, db, a.pipe, a.log.With(logx.String("comp", "scheduler")))
	if err != nil {
		return err
	}
	a.sched = sched

	a.watcher = config.NewWatcher(a.cfgPath, a.log.With(logx.String("comp", "config")), a.onConfigChange)
	a.watcher.Prime(cfg)

	a.debug = debug.New(debug.Config{
		Enabled: cfg.Debug.Enabled,
		Addr:    cfg.Debug.Addr,
	}, a.bus, a.log.With(logx.String("comp", "debug")))
	return nil
}

// onConfigChange applies the hot-reloadable subset of the config. Everything
// else (token, storage path, schedules) needs a restart, which systemd owns.
func (a *App) onConfigChange(cfg *config.Config) {
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Log.Level,
		Console: cfg.Log.ConsoleEnabled(),
		File:    logx.FileConfig{Enabled: cfg.Log.File.Enabled, Path: cfg.Log.File.Path},
	})
	a.log.Info("config.reloaded", logx.String("path", a.cfgPath))
}

// Events exposes the cycle event stream for observers.
func (a *App) Events() eventbus.Bus { return a.bus }

// RunOnce executes one immediate cycle for every enabled recipient,
// regardless of schedule, then returns. Used by the -once flag.
func (a *App) RunOnce(ctx context.Context) error {
	recipients, err := a.db.Recipients(ctx)
	if err != nil {
		return err
	}
	var firstErr error
	for _, r := range recipients {
		if !r.Enabled {
			continue
		}
		if err := a.pipe.RunCycle(ctx, pipeline.Recipient{ChatID: r.ChatID, Name: r.Username}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Subscribe enables daily delivery to chatID at the given HH:MM.
func (a *App) Subscribe(ctx context.Context, chatID int64, username, at string) error {
	return a.db.UpsertRecipient(ctx, storage.Recipient{
		ChatID:   chatID,
		Username: username,
		Schedule: at,
		Enabled:  true,
	})
}

// Run starts the scheduler, the config watcher, and the lock janitor, then
// blocks until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("app.started", logx.Bool("sd_notify", sent && err == nil))
	defer func() { _, _ = daemon.SdNotify(false, daemon.SdNotifyStopping) }()

	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.Scheduler.Enabled {
		g.Go(func() error { return a.sched.Run(gctx) })
	}
	g.Go(func() error { return a.watcher.Run(gctx) })
	g.Go(func() error { return a.debug.Run(gctx) })
	g.Go(func() error { return a.pruneLocks(gctx) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.log.Info("app.stopped")
	return err
}

func rateLimit(perSec int) rate.Limit {
	if perSec <= 0 {
		return 0 // pipeline default applies
	}
	return rate.Limit(perSec)
}

func (a *App) pruneLocks(ctx context.Context) error {
	tk := time.NewTicker(lockPruneEvery)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tk.C:
			n, err := a.db.Locks().PruneExpired(ctx, lockPruneEvery)
			if err != nil {
				a.log.Warn("app.lock_prune_failed", logx.Err(err))
			} else if n > 0 {
				a.log.Debug("app.locks_pruned", logx.Int64("rows", n))
			}
		}
	}
}

// Close releases storage and log sinks. Call once, after Run returns.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("app.storage_close_failed", logx.Err(err))
		}
	}
	_ = a.logSvc.Close()
}
