package storage

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"digestbot/internal/lock"
	logx "digestbot/pkg/logx"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "digestbot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func rec(resource, token string, now time.Time, ttl time.Duration) lock.Record {
	return lock.Record{Resource: resource, Token: token, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
}

func TestLockStoreCreateIfAbsent(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	st := db.Locks()
	ctx := context.Background()
	now := time.Now()

	ok, err := st.CreateIfAbsent(ctx, rec("r", "a", now, time.Minute))
	if err != nil || !ok {
		t.Fatalf("first create: ok=%v err=%v", ok, err)
	}
	ok, err = st.CreateIfAbsent(ctx, rec("r", "b", now, time.Minute))
	if err != nil {
		t.Fatalf("second create err: %v", err)
	}
	if ok {
		t.Fatal("double grant on live record")
	}
}

func TestLockStoreReclaimExpired(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	st := db.Locks()
	ctx := context.Background()

	clock := time.Unix(1000, 0)
	db.now = func() time.Time { return clock }

	if ok, _ := st.CreateIfAbsent(ctx, rec("r", "old", clock, time.Minute)); !ok {
		t.Fatal("create failed")
	}

	clock = clock.Add(time.Minute) // expiry instant
	ok, err := st.CreateIfAbsent(ctx, rec("r", "new", clock, time.Minute))
	if err != nil || !ok {
		t.Fatalf("reclaim: ok=%v err=%v", ok, err)
	}

	// The stale holder cannot renew or delete the reclaimed record.
	if ok, _ := st.CompareAndUpdate(ctx, "r", "old", rec("r", "old", clock, time.Minute)); ok {
		t.Fatal("stale renew succeeded")
	}
	if ok, _ := st.DeleteIfMatch(ctx, "r", "old"); ok {
		t.Fatal("stale delete succeeded")
	}
	if ok, _ := st.DeleteIfMatch(ctx, "r", "new"); !ok {
		t.Fatal("owner delete failed")
	}
}

func TestLockStoreConcurrentAcquire(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	l := lock.New(db.Locks())
	ctx := context.Background()

	const goroutines = 16
	var granted atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := l.Acquire(ctx, "recipient:9", lock.NewToken(), time.Minute)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			if ok {
				granted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	if n := granted.Load(); n != 1 {
		t.Fatalf("granted %d, want 1", n)
	}
}

func TestLockStorePruneExpired(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	st := db.Locks()
	ctx := context.Background()

	clock := time.Unix(1000, 0)
	db.now = func() time.Time { return clock }

	st.CreateIfAbsent(ctx, rec("a", "t", clock, time.Minute))
	st.CreateIfAbsent(ctx, rec("b", "t", clock, time.Hour))

	clock = clock.Add(30 * time.Minute)
	n, err := st.PruneExpired(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d rows, want 1", n)
	}
}

func TestRecipientRoundTrip(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()

	for _, r := range []Recipient{
		{ChatID: 1, Username: "alice", Schedule: "09:00", Enabled: true},
		{ChatID: 2, Username: "bob", Schedule: "09:00", Enabled: false},
		{ChatID: 3, Username: "carol", Schedule: "18:30", Enabled: true},
	} {
		if err := db.UpsertRecipient(ctx, r); err != nil {
			t.Fatalf("upsert %d: %v", r.ChatID, err)
		}
	}

	due, err := db.RecipientsDueAt(ctx, "09:00")
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 || due[0].ChatID != 1 {
		t.Fatalf("due = %+v, want only chat 1 (bob disabled)", due)
	}

	all, err := db.Recipients(ctx)
	if err != nil || len(all) != 3 {
		t.Fatalf("all = %+v err=%v", all, err)
	}

	// Upsert updates in place.
	if err := db.UpsertRecipient(ctx, Recipient{ChatID: 2, Username: "bob", Schedule: "10:00", Enabled: true}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	due, _ = db.RecipientsDueAt(ctx, "10:00")
	if len(due) != 1 || due[0].ChatID != 2 {
		t.Fatalf("updated due = %+v", due)
	}
}

func TestUpsertRecipientValidation(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.UpsertRecipient(ctx, Recipient{ChatID: 0}); err == nil {
		t.Fatal("expected error for missing chat_id")
	}
	if err := db.UpsertRecipient(ctx, Recipient{ChatID: 1, Schedule: "25:99"}); err == nil {
		t.Fatal("expected error for bad schedule")
	}
}

func TestDigestHistory(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	ctx := context.Background()

	if _, _, _, ok, err := db.LastDigest(ctx, 1); err != nil || ok {
		t.Fatalf("empty history: ok=%v err=%v", ok, err)
	}

	clock := time.Unix(5000, 0)
	db.now = func() time.Time { return clock }
	if err := db.SaveDigest(ctx, 1, "ai", "first"); err != nil {
		t.Fatalf("save: %v", err)
	}
	clock = clock.Add(time.Hour)
	if err := db.SaveDigest(ctx, 1, "templated", "second"); err != nil {
		t.Fatalf("save: %v", err)
	}

	tier, content, sentAt, ok, err := db.LastDigest(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("last: ok=%v err=%v", ok, err)
	}
	if tier != "templated" || content != "second" {
		t.Fatalf("last = %s/%q", tier, content)
	}
	if !sentAt.Equal(clock) {
		t.Fatalf("sentAt = %v, want %v", sentAt, clock)
	}
}
