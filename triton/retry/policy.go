// Package retry implements the exponential backoff policy shared by
// single-record and batch writes: base 100ms, factor 2, a small fixed
// retry budget, and classification of which backend errors are worth
// retrying at all.
package retry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// MaxRetries is the retry budget used by both the single-record and
// batch write paths. Exceeding it re-raises the last error.
const MaxRetries = 2

// baseInterval and factor fix the backoff schedule at 2^n * 0.1s.
const baseInterval = 100 * time.Millisecond
const factor = 2.0

// TransientError is implemented by backend errors that know whether
// they represent a transient condition (HTTP-500-class, throughput
// exceeded) worth retrying.
type TransientError interface {
	error
	Transient() bool
}

// StatusCoder is implemented by backend errors that carry an HTTP
// status code, e.g. an AWS SDK request error.
type StatusCoder interface {
	StatusCode() int
}

// IsTransient classifies err as retryable. An error is transient if it
// implements TransientError and reports Transient() true, or if it (or
// something it wraps) implements StatusCoder with a 5xx status.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te TransientError
	if errors.As(err, &te) {
		return te.Transient()
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode() >= http.StatusInternalServerError
	}
	return false
}

// newBackOff builds the 100ms/factor-2 schedule the spec requires,
// without jitter so the schedule is deterministic.
func newBackOff() backoff.BackOff {
	var b = backoff.NewExponentialBackOff()
	b.InitialInterval = baseInterval
	b.Multiplier = factor
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // bounded by MaxRetries at the call site instead.
	return b
}

// Schedule steps through the 100ms/factor-2 backoff independently of
// Do, for callers (like PutMany's per-entry retry list) that need to
// drive their own retry loop instead of retrying a single fn call.
type Schedule struct {
	b backoff.BackOff
}

// NewSchedule returns a fresh Schedule positioned before the first wait.
func NewSchedule() *Schedule { return &Schedule{b: newBackOff()} }

// Next returns the wait duration for the next attempt.
func (s *Schedule) Next() time.Duration { return s.b.NextBackOff() }

// Sleep waits out Next(), or returns ctx.Err() if ctx is done first.
func (s *Schedule) Sleep(ctx context.Context) error {
	select {
	case <-time.After(s.Next()):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn, retrying up to MaxRetries times with the exponential
// backoff schedule whenever fn's error is transient per IsTransient.
// Non-transient errors propagate immediately without retry. If the
// retry budget is exhausted, the last error is returned.
func Do(ctx context.Context, fn func() error) error {
	var b = newBackOff()
	var lastErr error

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == MaxRetries {
			break
		}

		var wait = b.NextBackOff()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
