// Package retry implements the generator's backoff policy as a pure
// function rather than a decorator wrapping a client method — the shape
// the teacher's openai_compat.go doPost loop uses, generalized per the
// "retry as a pure policy function" design note: the operation, the
// retryability predicate, and the backoff parameters are all passed in
// explicitly; nothing here knows about HTTP or about the vision model.
package retry

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// Params parameterizes the exponential backoff schedule:
// delay_k = min(initial * base^k, cap).
type Params struct {
	MaxRetries   int
	InitialDelay time.Duration
	Base         float64
	Cap          time.Duration
}

// Delay returns the sleep duration before attempt k (1-based: the delay
// preceding the second call, third call, ...).
func (p Params) Delay(k int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Base, float64(k-1))
	if capped := float64(p.Cap); d > capped {
		d = capped
	}
	return time.Duration(d)
}

// RetryAfter overrides the computed delay for an attempt when the
// operation reports a server-provided minimum wait (HTTP Retry-After).
// Zero means no override.
type RetryAfter = time.Duration

// Do runs op, retrying on errors that isRetryable accepts, following the
// exponential backoff schedule in params. It returns the last value and
// error once op succeeds, a non-retryable error is returned, or
// params.MaxRetries is exhausted — in the exhausted case the last error
// is returned unchanged. Do does not report how many attempts ran;
// callers that need to tell "exhausted" from "aborted" apply
// isRetryable to the returned error.
//
// op may return a non-zero RetryAfter as its second result to honor a
// server-specified minimum delay before the next attempt; zero means the
// backoff schedule alone decides.
func Do[T any](ctx context.Context, op func(attempt int) (T, RetryAfter, error), isRetryable func(error) bool, params Params, logAttempt func(attempt int, delay time.Duration, err error)) (T, error) {
	var zero T
	var lastErr error
	var delayOverride time.Duration

	for attempt := 0; attempt <= params.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := params.Delay(attempt)
			if delayOverride > delay {
				delay = delayOverride
			}
			if logAttempt != nil {
				logAttempt(attempt, delay, lastErr)
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}

		val, retryAfter, err := op(attempt)
		if err == nil {
			return val, nil
		}

		lastErr = err
		delayOverride = retryAfter

		if !isRetryable(err) {
			return zero, err
		}
	}

	return zero, lastErr
}

// DefaultLogger returns a logAttempt callback that logs retries through
// log/slog the way openai_compat.go's doPost does.
func DefaultLogger(op string) func(attempt int, delay time.Duration, err error) {
	return func(attempt int, delay time.Duration, err error) {
		slog.Warn("altvision: retrying operation",
			"op", op,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}
}
