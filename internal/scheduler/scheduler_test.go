package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"digestbot/internal/pipeline"
	"digestbot/internal/storage"
	logx "digestbot/pkg/logx"
)

type fakeSource struct {
	byTime map[string][]storage.Recipient
	err    error
}

func (f *fakeSource) RecipientsDueAt(ctx context.Context, hhmm string) ([]storage.Recipient, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byTime[hhmm], nil
}

type fakeRunner struct {
	mu      sync.Mutex
	ran     []int64
	err     error
	inFly   atomic.Int32
	maxFly  atomic.Int32
	holdFor time.Duration
}

func (f *fakeRunner) RunCycle(ctx context.Context, r pipeline.Recipient) error {
	cur := f.inFly.Add(1)
	for {
		max := f.maxFly.Load()
		if cur <= max || f.maxFly.CompareAndSwap(max, cur) {
			break
		}
	}
	if f.holdFor > 0 {
		time.Sleep(f.holdFor)
	}
	f.inFly.Add(-1)

	f.mu.Lock()
	f.ran = append(f.ran, r.ChatID)
	f.mu.Unlock()
	return f.err
}

func TestDispatchRunsDueRecipients(t *testing.T) {
	src := &fakeSource{byTime: map[string][]storage.Recipient{
		"09:00": {
			{ChatID: 1, Username: "a", Schedule: "09:00", Enabled: true},
			{ChatID: 2, Username: "b", Schedule: "09:00", Enabled: true},
		},
	}}
	run := &fakeRunner{}
	s, err := New(Config{}, src, run, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	s.Dispatch(context.Background(), "09:00")
	if len(run.ran) != 2 {
		t.Fatalf("ran = %v", run.ran)
	}

	s.Dispatch(context.Background(), "10:30")
	if len(run.ran) != 2 {
		t.Errorf("dispatch for an empty slot ran cycles: %v", run.ran)
	}
}

func TestDispatchBoundsConcurrency(t *testing.T) {
	var due []storage.Recipient
	for i := int64(1); i <= 10; i++ {
		due = append(due, storage.Recipient{ChatID: i, Enabled: true})
	}
	src := &fakeSource{byTime: map[string][]storage.Recipient{"12:00": due}}
	run := &fakeRunner{holdFor: 20 * time.Millisecond}
	s, err := New(Config{Concurrency: 3}, src, run, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	s.Dispatch(context.Background(), "12:00")
	if len(run.ran) != 10 {
		t.Fatalf("ran %d cycles", len(run.ran))
	}
	if max := run.maxFly.Load(); max > 3 {
		t.Errorf("max in-flight = %d, want <= 3", max)
	}
}

func TestDispatchToleratesCycleFailures(t *testing.T) {
	src := &fakeSource{byTime: map[string][]storage.Recipient{
		"09:00": {{ChatID: 1}, {ChatID: 2}, {ChatID: 3}},
	}}
	run := &fakeRunner{err: errors.New("send failed")}
	s, err := New(Config{}, src, run, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	s.Dispatch(context.Background(), "09:00")
	if len(run.ran) != 3 {
		t.Errorf("a failing cycle stopped the batch: ran %d", len(run.ran))
	}
}

func TestDispatchQueryFailure(t *testing.T) {
	src := &fakeSource{err: errors.New("db locked")}
	run := &fakeRunner{}
	s, err := New(Config{}, src, run, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	s.Dispatch(context.Background(), "09:00")
	if len(run.ran) != 0 {
		t.Errorf("ran cycles despite query failure")
	}
}

func TestNewRejectsBadTimezone(t *testing.T) {
	if _, err := New(Config{Timezone: "Mars/Olympus"}, &fakeSource{}, &fakeRunner{}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
}

func TestTickFormatsLocalTime(t *testing.T) {
	src := &fakeSource{byTime: map[string][]storage.Recipient{
		"14:05": {{ChatID: 9, Enabled: true}},
	}}
	run := &fakeRunner{}
	s, err := New(Config{Timezone: "Europe/Berlin"}, src, run, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	s.ctx = context.Background()
	// 12:05 UTC is 14:05 in Berlin (CEST).
	s.now = func() time.Time {
		return time.Date(2025, 7, 1, 12, 5, 0, 0, time.UTC)
	}

	s.tick()
	if len(run.ran) != 1 || run.ran[0] != 9 {
		t.Fatalf("ran = %v", run.ran)
	}
}
