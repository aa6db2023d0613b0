// Package backoff retries flaky chain reads with a bounded number of attempts.
//
// Only transient failures are retried. Callers mark application-level failures
// (reverts, protocol violations) with Permanent so they surface immediately.
// Context cancellation is never retried and interrupts any pending delay.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	cbackoff "github.com/cenkalti/backoff/v4"
)

// ErrExhausted is matched by errors.Is on the error returned after the last
// attempt has failed.
var ErrExhausted = errors.New("retries exhausted")

// Policy controls how many times an operation is attempted and how long to
// wait between attempts.
type Policy struct {
	MaxAttempts  int           // Total invocations, including the first one
	InitialDelay time.Duration // Delay before the second attempt
	MaxDelay     time.Duration // Upper bound for a single delay (0 means unbounded)
	Multiplier   float64       // Delay growth factor; 1 (or less) gives a fixed delay

	// OnRetry, if set, is called after a failed attempt that will be retried.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy mirrors the ten-attempt backoff used around every chain read.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  10,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
}

// Fixed returns a policy with a constant delay between attempts.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, InitialDelay: delay, Multiplier: 1}
}

// schedule returns the delays between attempts, stopping after
// MaxAttempts invocations or once ctx is done.
func (p Policy) schedule(ctx context.Context) cbackoff.BackOffContext {
	var b cbackoff.BackOff
	switch {
	case p.attempts() == 1:
		return cbackoff.WithContext(&cbackoff.StopBackOff{}, ctx)
	case p.Multiplier <= 1:
		b = cbackoff.NewConstantBackOff(p.InitialDelay)
	default:
		e := cbackoff.NewExponentialBackOff()
		e.InitialInterval = p.InitialDelay
		e.Multiplier = p.Multiplier
		e.RandomizationFactor = 0
		e.MaxInterval = p.MaxDelay
		if e.MaxInterval <= 0 {
			e.MaxInterval = math.MaxInt64
		}
		e.MaxElapsedTime = 0
		e.Reset()
		b = e
	}
	return cbackoff.WithContext(cbackoff.WithMaxRetries(b, uint64(p.attempts()-1)), ctx)
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Err}
}

// Permanent marks err as not retryable. A nil err stays nil. Retry returns
// the wrapped error itself.
func Permanent(err error) error {
	return cbackoff.Permanent(err)
}

// Run invokes op until it succeeds, returns a permanent error, the context is
// done, or p.MaxAttempts invocations have failed.
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Retry(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Retry is Run for operations that produce a value.
func Retry[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	var (
		attempt   int
		permanent bool
	)
	v, err := cbackoff.RetryNotifyWithData[T](func() (T, error) {
		attempt++
		v, err := op(ctx)
		var perm *cbackoff.PermanentError
		permanent = errors.As(err, &perm)
		return v, err
	}, p.schedule(ctx), func(err error, delay time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
	})
	switch {
	case err == nil:
		return v, nil
	case ctx.Err() != nil:
		return zero, ctx.Err()
	case permanent:
		return zero, err
	default:
		return zero, &ExhaustedError{Attempts: attempt, Err: err}
	}
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
