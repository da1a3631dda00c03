package resilience

import (
	"errors"
	"fmt"
	"time"
)

// ErrRetriesExhausted tags failures where every allowed attempt was spent.
// The last underlying error remains reachable through errors.Is/As.
var ErrRetriesExhausted = errors.New("retries exhausted")

// NoRetry marks an error as non-retryable.
//
// Operations can wrap validation errors or other permanent failures with
// NoRetry so the executor won't waste attempts on them.
//
// Example:
//
//	return resilience.NoRetry(fmt.Errorf("bad credentials: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// RetryAfter attaches a suggested delay before the next attempt.
//
// Useful when the downstream system returns an explicit Retry-After value
// (e.g. HTTP 429 or a Telegram flood wait). The executor respects the hint,
// bounded by the policy's MaxDelay, and still applies jitter.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

// RetryAfterError is implemented by errors that carry an explicit retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string             { return fmt.Sprintf("retry-after(%s): %v", e.after, e.err) }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }

type exhaustedError struct {
	attempts int
	err      error
}

func (e exhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.attempts, e.err)
}

func (e exhaustedError) Unwrap() error { return e.err }

func (e exhaustedError) Is(target error) bool { return target == ErrRetriesExhausted }
