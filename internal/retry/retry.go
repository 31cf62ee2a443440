// Package retry runs an operation with bounded attempts and a backoff curve.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Curve returns the delay to wait after the given failed attempt (1-based).
type Curve func(attempt int) time.Duration

// Policy parameterizes Do.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first. Values
	// below one are treated as one.
	MaxAttempts int
	Backoff     Curve
	// Retryable reports whether a failure may be attempted again. A nil
	// classifier retries every error.
	Retryable func(error) bool
	// OnRetry is called before sleeping between attempts.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Linear grows the delay by base on every attempt: base, 2*base, 3*base...
func Linear(base time.Duration) Curve {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * base
	}
}

// Exponential doubles the delay on every attempt, capped at max.
func Exponential(base, max time.Duration) Curve {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if max > 0 && d >= max {
				return max
			}
		}
		if max > 0 && d > max {
			return max
		}
		return d
	}
}

// curveBackOff adapts a Curve to backoff.BackOff.
type curveBackOff struct {
	curve   Curve
	attempt int
}

func (b *curveBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.curve == nil {
		return 0
	}
	return b.curve(b.attempt)
}

func (b *curveBackOff) Reset() { b.attempt = 0 }

// Do calls fn until it succeeds, returns a non-retryable error, or the policy
// runs out of attempts. The last error is returned unchanged. Cancelling ctx
// stops the wait between attempts and returns ctx.Err().
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var b backoff.BackOff = &curveBackOff{curve: p.Backoff}
	b = backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	attempt := 0
	op := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if p.OnRetry != nil {
		notify = func(err error, delay time.Duration) {
			p.OnRetry(attempt, err, delay)
		}
	}

	return backoff.RetryNotify(op, b, notify)
}
