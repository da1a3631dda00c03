package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Recipient is one digest subscriber.
type Recipient struct {
	ChatID    int64
	Username  string
	Schedule  string // delivery time of day, "HH:MM" in the service timezone
	Enabled   bool
	CreatedAt time.Time
}

var hhmmRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// UpsertRecipient creates or updates a subscriber row.
func (s *DB) UpsertRecipient(ctx context.Context, r Recipient) error {
	if r.ChatID == 0 {
		return fmt.Errorf("storage: chat_id required")
	}
	if r.Schedule == "" {
		r.Schedule = "09:00"
	}
	if !hhmmRe.MatchString(r.Schedule) {
		return fmt.Errorf("storage: bad schedule %q, want HH:MM", r.Schedule)
	}
	enabled := 0
	if r.Enabled {
		enabled = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recipients(chat_id, username, schedule, enabled, created_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		     username = excluded.username,
		     schedule = excluded.schedule,
		     enabled  = excluded.enabled`,
		r.ChatID, r.Username, r.Schedule, enabled, s.now().UnixMilli(),
	)
	return err
}

// RecipientsDueAt returns enabled subscribers scheduled for hhmm.
func (s *DB) RecipientsDueAt(ctx context.Context, hhmm string) ([]Recipient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, username, schedule, enabled, created_at
		 FROM recipients WHERE enabled = 1 AND schedule = ? ORDER BY chat_id`,
		hhmm,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecipients(rows)
}

// Recipients returns every subscriber row.
func (s *DB) Recipients(ctx context.Context) ([]Recipient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, username, schedule, enabled, created_at FROM recipients ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecipients(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRecipients(rows rowScanner) ([]Recipient, error) {
	var out []Recipient
	for rows.Next() {
		var r Recipient
		var enabled int
		var createdMS int64
		if err := rows.Scan(&r.ChatID, &r.Username, &r.Schedule, &enabled, &createdMS); err != nil {
			return nil, err
		}
		r.Enabled = enabled != 0
		r.CreatedAt = time.UnixMilli(createdMS)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveDigest records a delivered digest for history.
func (s *DB) SaveDigest(ctx context.Context, chatID int64, tier, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO digests(chat_id, sent_at, tier, content) VALUES(?,?,?,?)`,
		chatID, s.now().UnixMilli(), tier, content,
	)
	return err
}

// LastDigest returns the most recent digest delivered to chatID, if any.
func (s *DB) LastDigest(ctx context.Context, chatID int64) (tier, content string, sentAt time.Time, ok bool, err error) {
	var ms int64
	row := s.db.QueryRowContext(ctx,
		`SELECT tier, content, sent_at FROM digests WHERE chat_id = ? ORDER BY sent_at DESC LIMIT 1`,
		chatID,
	)
	switch err = row.Scan(&tier, &content, &ms); {
	case err == nil:
		return tier, content, time.UnixMilli(ms), true, nil
	case errors.Is(err, sql.ErrNoRows):
		return "", "", time.Time{}, false, nil
	default:
		return "", "", time.Time{}, false, err
	}
}
