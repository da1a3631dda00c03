// Package resilience provides bounded retry with exponential backoff and an
// error taxonomy that separates transient failures (retried) from fatal ones
// (surfaced immediately).
package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Classifier reports whether an error is transient and worth retrying.
// A nil Classifier treats every error as transient; NoRetry still wins.
type Classifier func(error) bool

// Do runs op with up to maxAttempts invocations, sleeping policy delays
// between transient failures.
//
// Abort rules, in order:
//   - op wrapped its error with NoRetry: return the inner error unchanged.
//   - retryable returns false: return the error unchanged (fatal).
//   - ctx is done while waiting out a backoff: return ctx.Err() without
//     sleeping further.
//   - maxAttempts spent: return the last error tagged with ErrRetriesExhausted.
func Do(ctx context.Context, policy BackoffPolicy, maxAttempts int, retryable Classifier, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, policy, maxAttempts, retryable, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, policy BackoffPolicy, maxAttempts int, retryable Classifier, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}

		var nr noRetryError
		if errors.As(err, &nr) {
			return zero, nr.err
		}
		if retryable != nil && !retryable(err) {
			return zero, err
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}

		delay := policy.delayWithHint(attempt, err, rng)
		if delay > 0 {
			tmr := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				if !tmr.Stop() {
					<-tmr.C
				}
				return zero, ctx.Err()
			case <-tmr.C:
			}
		} else if err := ctx.Err(); err != nil {
			return zero, err
		}
	}
	return zero, exhaustedError{attempts: maxAttempts, err: lastErr}
}
