// Package lock is a TTL-based distributed mutual-exclusion primitive built on
// a store that offers atomic conditional writes.
//
// Expiry over heartbeat: a stalled holder is never chased down, its record
// simply becomes reclaimable once ExpiresAt passes. Choose TTLs comfortably
// larger than the longest expected critical section; the implementation
// tolerates clock skew between callers up to roughly TTL/10, so a 5m TTL
// assumes clocks within ~30s of each other.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL suits one digest cycle; see the package doc before lowering it.
const DefaultTTL = 5 * time.Minute

// Record is the stored representation of one held lock.
type Record struct {
	Resource   string
	Token      string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Live reports whether the record still grants exclusivity at now.
func (r Record) Live(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

// CondStore is the minimal conditional-write substrate the lock needs.
// Every operation must be atomic against concurrent callers; a record whose
// ExpiresAt has passed counts as absent even if physically present.
//
// Any backend with compare-and-set semantics satisfies this: a relational
// table with a guarded UPDATE, a key-value store with conditional puts, etc.
type CondStore interface {
	// CreateIfAbsent writes rec unless a live record exists for rec.Resource.
	// Returns false (no error) when a live record blocked the write.
	CreateIfAbsent(ctx context.Context, rec Record) (bool, error)

	// CompareAndUpdate replaces the record for resource with rec, but only if
	// the current record is live and carries expectToken.
	CompareAndUpdate(ctx context.Context, resource, expectToken string, rec Record) (bool, error)

	// DeleteIfMatch removes the record for resource only if it carries
	// expectToken. A mismatch or missing record returns false, not an error.
	DeleteIfMatch(ctx context.Context, resource, expectToken string) (bool, error)
}

// NewToken returns a fresh opaque holder token for one acquire attempt.
func NewToken() string { return uuid.NewString() }

// Lock serializes work on named resources across process boundaries.
type Lock struct {
	store CondStore

	// now is swappable for tests.
	now func() time.Time
}

func New(store CondStore) *Lock {
	return &Lock{store: store, now: time.Now}
}

// Acquire attempts to take the lock for resource with the given holder token.
//
// false with a nil error means someone else holds a live lock; that is an
// expected contention outcome, not a fault. A non-nil error means the backing
// store could not answer, and the caller must not assume exclusivity.
func (l *Lock) Acquire(ctx context.Context, resource, token string, ttl time.Duration) (bool, error) {
	if resource == "" || token == "" {
		return false, fmt.Errorf("lock: resource and token required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := l.now()
	ok, err := l.store.CreateIfAbsent(ctx, Record{
		Resource:   resource,
		Token:      token,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	})
	if err != nil {
		return false, fmt.Errorf("lock acquire %q: %w", resource, err)
	}
	return ok, nil
}

// Renew extends the holder's exclusivity by ttl from now.
//
// false means the lock was lost (expired and possibly reclaimed); the caller
// must stop treating its work as exclusive and abort.
func (l *Lock) Renew(ctx context.Context, resource, token string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := l.now()
	ok, err := l.store.CompareAndUpdate(ctx, resource, token, Record{
		Resource:   resource,
		Token:      token,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	})
	if err != nil {
		return false, fmt.Errorf("lock renew %q: %w", resource, err)
	}
	return ok, nil
}

// Release drops the lock if token still owns it. A stale token (the lock
// expired and a new holder took over) is a silent no-op so a slow former
// holder can never delete the new holder's record.
func (l *Lock) Release(ctx context.Context, resource, token string) error {
	_, err := l.store.DeleteIfMatch(ctx, resource, token)
	if err != nil {
		return fmt.Errorf("lock release %q: %w", resource, err)
	}
	return nil
}
