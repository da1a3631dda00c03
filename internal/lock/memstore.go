package lock

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-process CondStore for tests and single-instance runs.
// It mirrors the liveness semantics of the durable stores exactly.
type MemStore struct {
	mu   sync.Mutex
	recs map[string]Record

	// now is swappable for tests.
	now func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{recs: make(map[string]Record), now: time.Now}
}

func (s *MemStore) CreateIfAbsent(ctx context.Context, rec Record) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.recs[rec.Resource]; ok && cur.Live(s.now()) {
		return false, nil
	}
	s.recs[rec.Resource] = rec
	return true, nil
}

func (s *MemStore) CompareAndUpdate(ctx context.Context, resource, expectToken string, rec Record) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.recs[resource]
	if !ok || cur.Token != expectToken || !cur.Live(s.now()) {
		return false, nil
	}
	s.recs[resource] = rec
	return true, nil
}

func (s *MemStore) DeleteIfMatch(ctx context.Context, resource, expectToken string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.recs[resource]
	if !ok || cur.Token != expectToken {
		return false, nil
	}
	delete(s.recs, resource)
	return true, nil
}
