package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/getpup/pupstore/es"
)

// RetryPolicy bounds the retries of transient storage failures (throttling, timeouts,
// dropped connections).
type RetryPolicy struct {
	// OnRetry is called before each retry with the failure and the delay. Optional.
	OnRetry func(err error, delay time.Duration)

	// MaxAttempts is the total number of attempts, including the first
	MaxAttempts int

	// InitialInterval is the delay before the first retry
	InitialInterval time.Duration

	// MaxInterval caps the exponential delay
	MaxInterval time.Duration
}

// DefaultRetryPolicy returns the default policy: 5 attempts, 20ms doubling up to 1s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

// Do runs op and retries it with exponential backoff while it fails transiently.
//
// ErrConditionFailed, ErrNotFound and context errors are outcomes, not failures,
// and are returned immediately. When the attempts are exhausted the last error is
// wrapped in es.ErrStorageUnavailable.
func Do[T any](ctx context.Context, policy RetryPolicy, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		b.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		b.MaxInterval = policy.MaxInterval
	}
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
	}
	if policy.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(policy.OnRetry))
	}

	res, err := backoff.Retry(ctx, func() (T, error) {
		v, opErr := op()
		if opErr != nil && isPermanent(opErr) {
			return v, backoff.Permanent(opErr)
		}
		return v, opErr
	}, opts...)
	if err == nil {
		return res, nil
	}
	if isPermanent(err) {
		return res, err
	}
	return res, fmt.Errorf("%w: %w", es.ErrStorageUnavailable, err)
}

func isPermanent(err error) bool {
	return errors.Is(err, ErrConditionFailed) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, es.ErrStorageUnavailable)
}
