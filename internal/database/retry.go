package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oreon-chat/oreon/internal/types"
)

// RetryPolicy bounds every storage call with a timeout and retries transient
// failures with exponential backoff.
type RetryPolicy struct {
	Attempts        int
	Timeout         time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:        3,
		Timeout:         5 * time.Second,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

// Once runs op a single time under the policy timeout.
func (p RetryPolicy) Once(ctx context.Context, op func(ctx context.Context) error) error {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	err := op(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !types.Retryable(err) {
		return fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err)
	}

	return err
}

// Do runs op until it succeeds, fails with a non-transient error, or the
// attempts are exhausted. Only ErrStorageUnavailable is retried.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0

	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	return backoff.Retry(func() error {
		err := p.Once(ctx, op)
		if err != nil && !types.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}

// DoReplayed is Do for writes that are not idempotent but whose replay fails
// with a known error once an earlier attempt has been applied. A retry that
// fails with landed means the lost attempt went through, and counts as
// success.
func (p RetryPolicy) DoReplayed(ctx context.Context, landed error, op func(ctx context.Context) error) error {
	attempt := 0
	return p.Do(ctx, func(ctx context.Context) error {
		attempt++
		err := op(ctx)
		if attempt > 1 && errors.Is(err, landed) {
			return nil
		}
		return err
	})
}
