// Package retry provides a bounded fixed-interval retry policy shared by the
// firewall backend and the lock manager.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy configures retry behavior: a fixed number of attempts separated by a
// fixed pause. There is no backoff; the external firewall engine either
// recovers within a few seconds or not at all.
type Policy struct {
	Attempts int
	Interval time.Duration
}

// Do executes fn up to p.Attempts times, pausing p.Interval between attempts.
// It returns nil on the first success, the error unchanged if it is permanent,
// and the last error once attempts are exhausted. A policy with fewer than one
// attempt is a configuration error, not a success.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	if p.Attempts < 1 {
		return errors.New("retry policy requires at least one attempt")
	}

	var lastErr error

	for attempt := 0; attempt < p.Attempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if IsPermanent(err) {
			return err
		}

		// Don't sleep after the last attempt
		if attempt == p.Attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Interval):
		}
	}

	return lastErr
}

// DoWithResult executes a function that returns a result with retry.
func DoWithResult[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	var result T

	err := p.Do(ctx, func() error {
		var err error
		result, err = fn()
		return err
	})

	return result, err
}

// ErrPermanent marks errors that must not be retried, such as a rejected
// privileged call.
var ErrPermanent = errors.New("permanent error")

// Permanent wraps an error so the policy stops retrying immediately.
func Permanent(err error) error {
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

func (e *permanentError) Is(target error) bool {
	return target == ErrPermanent
}
