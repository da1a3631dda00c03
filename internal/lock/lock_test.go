package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLock(now *time.Time) (*Lock, *MemStore) {
	st := NewMemStore()
	l := New(st)
	if now != nil {
		clock := func() time.Time { return *now }
		st.now = clock
		l.now = clock
	}
	return l, st
}

func TestAcquireGrantsOnceWhileLive(t *testing.T) {
	t.Parallel()
	l, _ := testLock(nil)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "recipient:1", "tok-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = l.Acquire(ctx, "recipient:1", "tok-b", time.Minute)
	if err != nil {
		t.Fatalf("second acquire errored: %v", err)
	}
	if ok {
		t.Fatal("double grant on live lock")
	}

	// A different resource is unaffected.
	ok, err = l.Acquire(ctx, "recipient:2", "tok-c", time.Minute)
	if err != nil || !ok {
		t.Fatalf("other resource: ok=%v err=%v", ok, err)
	}
}

func TestConcurrentAcquireNoDoubleGrant(t *testing.T) {
	t.Parallel()
	l, _ := testLock(nil)
	ctx := context.Background()

	const goroutines = 64
	var granted atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := l.Acquire(ctx, "recipient:7", NewToken(), time.Minute)
			if err != nil {
				t.Errorf("acquire error: %v", err)
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
		t.Fatalf("granted %d times, want exactly 1", n)
	}
}

func TestReleaseStaleTokenIsNoOp(t *testing.T) {
	t.Parallel()
	l, _ := testLock(nil)
	ctx := context.Background()

	if ok, _ := l.Acquire(ctx, "r", "owner", time.Minute); !ok {
		t.Fatal("acquire failed")
	}
	if err := l.Release(ctx, "r", "stale"); err != nil {
		t.Fatalf("stale release must not error: %v", err)
	}

	// Owner's lock survived the stale release.
	if ok, _ := l.Acquire(ctx, "r", "intruder", time.Minute); ok {
		t.Fatal("stale release deleted the live lock")
	}

	if err := l.Release(ctx, "r", "owner"); err != nil {
		t.Fatalf("owner release: %v", err)
	}
	if ok, _ := l.Acquire(ctx, "r", "next", time.Minute); !ok {
		t.Fatal("acquire after legitimate release failed")
	}
}

func TestAcquireReclaimsExpired(t *testing.T) {
	t.Parallel()
	now := time.Unix(1000, 0)
	l, _ := testLock(&now)
	ctx := context.Background()

	if ok, _ := l.Acquire(ctx, "r", "old", time.Minute); !ok {
		t.Fatal("acquire failed")
	}

	now = now.Add(time.Minute) // expiry instant: record is logically absent
	ok, err := l.Acquire(ctx, "r", "new", time.Minute)
	if err != nil || !ok {
		t.Fatalf("reclaim after expiry: ok=%v err=%v", ok, err)
	}

	// The expired former holder cannot renew or delete the new record.
	if ok, _ := l.Renew(ctx, "r", "old", time.Minute); ok {
		t.Fatal("expired holder renewed")
	}
	if err := l.Release(ctx, "r", "old"); err != nil {
		t.Fatalf("expired release: %v", err)
	}
	if ok, _ := l.Renew(ctx, "r", "new", time.Minute); !ok {
		t.Fatal("new holder lost its lock to a stale release")
	}
}

func TestRenewExtendsOnlyForHolder(t *testing.T) {
	t.Parallel()
	now := time.Unix(1000, 0)
	l, _ := testLock(&now)
	ctx := context.Background()

	if ok, _ := l.Acquire(ctx, "r", "owner", time.Minute); !ok {
		t.Fatal("acquire failed")
	}

	now = now.Add(50 * time.Second)
	if ok, _ := l.Renew(ctx, "r", "owner", time.Minute); !ok {
		t.Fatal("holder renew failed")
	}

	// Renewal pushed expiry past the original one.
	now = now.Add(30 * time.Second)
	if ok, _ := l.Acquire(ctx, "r", "thief", time.Minute); ok {
		t.Fatal("renewed lock was reclaimed early")
	}

	if ok, _ := l.Renew(ctx, "r", "thief", time.Minute); ok {
		t.Fatal("non-holder renew succeeded")
	}
}

func TestTwoInvocationsOneWinner(t *testing.T) {
	t.Parallel()
	l, _ := testLock(nil)
	ctx := context.Background()

	// Two invocations fire close together for the same recipient; the lock
	// decides which one does the work.
	first, err := l.Acquire(ctx, "recipient:42", NewToken(), 5*time.Minute)
	if err != nil || !first {
		t.Fatalf("first: ok=%v err=%v", first, err)
	}
	time.Sleep(100 * time.Millisecond)
	second, err := l.Acquire(ctx, "recipient:42", NewToken(), 5*time.Minute)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second {
		t.Fatal("second invocation also won the lock")
	}
}
