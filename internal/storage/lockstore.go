package storage

import (
	"context"
	"time"

	"digestbot/internal/lock"
)

// LockStore exposes the locks table as a lock.CondStore.
//
// Each operation is one guarded SQL statement; SQLite serializes writers, so
// the statement's condition and its effect are atomic with respect to every
// concurrent caller, in-process or not.
type LockStore struct {
	db *DB
}

func (s *DB) Locks() *LockStore { return &LockStore{db: s} }

func (s *LockStore) CreateIfAbsent(ctx context.Context, rec lock.Record) (bool, error) {
	now := s.db.now().UnixMilli()
	res, err := s.db.db.ExecContext(ctx,
		`INSERT INTO locks(resource, token, acquired_at, expires_at) VALUES(?,?,?,?)
		 ON CONFLICT(resource) DO UPDATE SET
		     token       = excluded.token,
		     acquired_at = excluded.acquired_at,
		     expires_at  = excluded.expires_at
		 WHERE locks.expires_at <= ?`,
		rec.Resource, rec.Token, rec.AcquiredAt.UnixMilli(), rec.ExpiresAt.UnixMilli(), now,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *LockStore) CompareAndUpdate(ctx context.Context, resource, expectToken string, rec lock.Record) (bool, error) {
	now := s.db.now().UnixMilli()
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE locks SET token = ?, acquired_at = ?, expires_at = ?
		 WHERE resource = ? AND token = ? AND expires_at > ?`,
		rec.Token, rec.AcquiredAt.UnixMilli(), rec.ExpiresAt.UnixMilli(),
		resource, expectToken, now,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *LockStore) DeleteIfMatch(ctx context.Context, resource, expectToken string) (bool, error) {
	res, err := s.db.db.ExecContext(ctx,
		`DELETE FROM locks WHERE resource = ? AND token = ?`,
		resource, expectToken,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PruneExpired drops records whose expiry passed more than keep ago. The lock
// treats expired rows as absent already; this only reclaims disk.
func (s *LockStore) PruneExpired(ctx context.Context, keep time.Duration) (int64, error) {
	cutoff := s.db.now().Add(-keep).UnixMilli()
	res, err := s.db.db.ExecContext(ctx, `DELETE FROM locks WHERE expires_at <= ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
