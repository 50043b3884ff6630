// Package retry runs an operation under a bounded attempt budget with backoff
// and an optional per-attempt timeout.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy bounds an operation.
type Policy struct {
	Attempts int           // total attempts, at least 1
	Backoff  time.Duration // constant wait between attempts
	Timeout  time.Duration // per-attempt deadline; zero means none

	// NoBackoffOnTimeout retries an attempt that hit Timeout without waiting.
	NoBackoffOnTimeout bool
}

// OnRetry observes a failed attempt that will be retried. attempt is 1-based.
type OnRetry func(attempt int, err error)

// Exhausted is returned when every attempt failed.
type Exhausted struct {
	Attempts int
	Err      error
}

func (e *Exhausted) Error() string {
	return fmt.Sprintf("gave up after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *Exhausted) Unwrap() error { return e.Err }

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err so that Do returns it immediately without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do runs fn until it succeeds, returns a permanent error, the attempts run out
// or ctx is done. Cancellation of ctx is returned as is.
func Do(ctx context.Context, p Policy, onRetry OnRetry, fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		err = runAttempt(ctx, p.Timeout, fn)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			var pe *permanentError
			errors.As(err, &pe)
			return pe.err
		}
		// The caller's own cancellation ends the loop; a per-attempt timeout does not.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == attempts {
			break
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		if p.NoBackoffOnTimeout && errors.Is(err, context.DeadlineExceeded) {
			continue
		}
		if p.Backoff > 0 {
			t := time.NewTimer(p.Backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	return &Exhausted{Attempts: attempts, Err: err}
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, onRetry OnRetry, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, onRetry, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// runAttempt enforces the per-attempt timeout even when fn ignores its context.
func runAttempt(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(actx) }()

	select {
	case err := <-done:
		return err
	case <-actx.Done():
		return actx.Err()
	}
}
