// Package retry runs transport calls with bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy builds a fresh BackOff for each retried call.
type Policy func() backoff.BackOff

// Exponential is the default policy for push transports.
func Exponential() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = time.Minute
	return b
}

// Immediate retries without waiting. Used by tests.
func Immediate() backoff.BackOff {
	return &backoff.ZeroBackOff{}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do calls op until it succeeds, returns a Permanent error, the context ends,
// or retries additional attempts have been made. The last error is returned
// unwrapped.
func Do(ctx context.Context, policy Policy, retries int, op func() error) error {
	if policy == nil {
		policy = Exponential
	}
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(policy(), uint64(retries)), ctx)
	return backoff.Retry(op, b)
}
