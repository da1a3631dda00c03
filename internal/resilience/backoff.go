package resilience

import (
	"errors"
	"math/rand"
	"time"
)

// BackoffPolicy computes the delay before a retry attempt.
//
// The sequence is Base * Multiplier^(attempt-1), capped at MaxDelay, with
// symmetric jitter of ±Jitter applied last so concurrently failing callers
// don't retry in lockstep. The zero value gets sensible defaults.
type BackoffPolicy struct {
	Base       time.Duration // first delay; default 500ms
	MaxDelay   time.Duration // cap after growth and jitter; default 15s
	Multiplier float64       // growth factor per attempt; default 2
	Jitter     float64       // symmetric jitter fraction in [0,1); default 0.2
}

func (p BackoffPolicy) withDefaults() BackoffPolicy {
	if p.Base <= 0 {
		p.Base = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 15 * time.Second
	}
	if p.Multiplier <= 1 {
		p.Multiplier = 2
	}
	if p.Jitter <= 0 {
		p.Jitter = 0.2
	}
	return p
}

// Delay returns the wait before attempt+1, where attempt is the 1-based index
// of the attempt that just failed. rng may be nil, in which case no jitter is
// applied (useful for deterministic tests).
func (p BackoffPolicy) Delay(attempt int, rng *rand.Rand) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}

	d := p.Base
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	return p.jittered(d, rng)
}

// delayWithHint prefers an explicit RetryAfter hint on err over the computed
// exponential delay. Hints are still capped and jittered.
func (p BackoffPolicy) delayWithHint(attempt int, err error, rng *rand.Rand) time.Duration {
	var ra RetryAfterError
	if err != nil && errors.As(err, &ra) {
		p = p.withDefaults()
		d := ra.RetryAfter()
		if d < 0 {
			d = 0
		}
		if d > p.MaxDelay {
			d = p.MaxDelay
		}
		return p.jittered(d, rng)
	}
	return p.Delay(attempt, rng)
}

func (p BackoffPolicy) jittered(d time.Duration, rng *rand.Rand) time.Duration {
	if rng == nil || p.Jitter <= 0 || d <= 0 {
		return d
	}
	r := (rng.Float64()*2 - 1) * p.Jitter
	d = time.Duration(float64(d) * (1 + r))
	if d < 0 {
		d = 0
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
