package db

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often a transaction aborted by the server is re-run.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy re-runs a conflicting transaction up to three times.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialInterval: 20 * time.Millisecond, MaxInterval: 500 * time.Millisecond}
}

// IsRetryable reports whether err aborted the transaction in a way a fresh
// attempt can succeed: a serialization failure or a detected deadlock.
// Lock timeouts are not retried; the caller already waited the full budget.
func IsRetryable(err error) bool {
	switch PgCode(err) {
	case CodeSerializationFailure, CodeDeadlockDetected:
		return true
	}
	return false
}

// Retry runs fn, re-running it with exponential backoff while it fails with a
// retryable error. Any other error is returned at once. When retries run out
// the last error is returned unchanged.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	expBackoff := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		expBackoff.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		expBackoff.MaxInterval = policy.MaxInterval
	}
	expBackoff.MaxElapsedTime = 0

	operation := func() error {
		err := fn()
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(expBackoff, policy.MaxRetries), ctx))
}
