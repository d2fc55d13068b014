// Package retry provides the gateway's bounded retry policy.
//
// It wraps exponential backoff with jitter behind a small Policy type so
// callers declare their attempt and time budgets in one place. Retries are
// always bounded; an exhausted budget surfaces the last error to the caller,
// which decides how to degrade.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds a retry loop by attempts and by elapsed time.
type Policy struct {
	// MaxTries is the total number of attempts, including the first.
	MaxTries uint

	// MaxElapsed caps the total time spent across attempts and waits.
	// Zero means no elapsed-time cap.
	MaxElapsed time.Duration

	// InitialInterval is the first backoff wait.
	InitialInterval time.Duration

	// MaxInterval caps the backoff wait between attempts.
	MaxInterval time.Duration
}

// DefaultPolicy returns the policy used for turn store reads: three attempts
// inside a short total budget, so a flaky store delays assembly briefly
// instead of stalling the request.
func DefaultPolicy() Policy {
	return Policy{
		MaxTries:        3,
		MaxElapsed:      2 * time.Second,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
	}
}

// Do runs op under the policy until it succeeds, returns a permanent error,
// or the budget is exhausted. The context cancels the loop between attempts.
func Do[T any](ctx context.Context, policy Policy, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(policy.MaxTries),
	}
	if policy.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(policy.MaxElapsed))
	}

	return backoff.Retry(ctx, op, opts...)
}

// Permanent marks an error as not retryable, stopping the loop immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
