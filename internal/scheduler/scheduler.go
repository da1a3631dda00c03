// Package scheduler fires digest cycles at each recipient's configured time
// of day. A cron tick every minute asks storage who is due at the current
// HH:MM in the service timezone and dispatches a bounded batch of cycles.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"digestbot/internal/pipeline"
	"digestbot/internal/storage"
	logx "digestbot/pkg/logx"
)

// RecipientSource answers who is due for delivery.
type RecipientSource interface {
	RecipientsDueAt(ctx context.Context, hhmm string) ([]storage.Recipient, error)
}

// Runner executes one delivery cycle.
type Runner interface {
	RunCycle(ctx context.Context, r pipeline.Recipient) error
}

// Config tunes the dispatch loop.
type Config struct {
	Timezone    string // IANA name; default UTC
	Concurrency int    // parallel cycles per tick; default 4
}

// Scheduler drives recipient deliveries off a once-a-minute cron tick.
type Scheduler struct {
	cron   *cron.Cron
	source RecipientSource
	runner Runner
	loc    *time.Location
	conc   int
	log    logx.Logger

	ctx context.Context

	// now is swappable for tests.
	now func() time.Time
}

func New(cfg Config, source RecipientSource, runner Runner, log logx.Logger) (*Scheduler, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("scheduler timezone: %w", err)
		}
	}
	conc := cfg.Concurrency
	if conc <= 0 {
		conc = 4
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		source: source,
		runner: runner,
		loc:    loc,
		conc:   conc,
		log:    log,
		now:    time.Now,
	}, nil
}

// Run starts the minute tick and blocks until ctx is canceled. Cycles that
// are mid-flight when ctx ends run to completion before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	if _, err := s.cron.AddFunc("* * * * *", s.tick); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	s.cron.Start()
	s.log.Info("scheduler.started", logx.String("tz", s.loc.String()), logx.Int("concurrency", s.conc))

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info("scheduler.stopped")
	return ctx.Err()
}

func (s *Scheduler) tick() {
	hhmm := s.now().In(s.loc).Format("15:04")
	s.Dispatch(s.ctx, hhmm)
}

// Dispatch runs a cycle for every recipient due at hhmm, at most conc in
// parallel. Per-recipient failures are logged and do not stop the batch; the
// per-recipient lock keeps an overlapping next tick from double-sending.
func (s *Scheduler) Dispatch(ctx context.Context, hhmm string) {
	due, err := s.source.RecipientsDueAt(ctx, hhmm)
	if err != nil {
		s.log.Error("scheduler.query_failed", logx.String("at", hhmm), logx.Err(err))
		return
	}
	if len(due) == 0 {
		return
	}
	s.log.Info("scheduler.dispatch", logx.String("at", hhmm), logx.Int("recipients", len(due)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.conc)
	for _, rcpt := range due {
		r := pipeline.Recipient{ChatID: rcpt.ChatID, Name: rcpt.Username}
		g.Go(func() error {
			if err := s.runner.RunCycle(gctx, r); err != nil {
				s.log.Error("scheduler.cycle_failed", logx.Int64("chat_id", r.ChatID), logx.Err(err))
			}
			// Batch siblings keep running regardless.
			return nil
		})
	}
	_ = g.Wait()
}
