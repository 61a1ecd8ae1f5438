/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package kindstore

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/suparena/kindstore/errors"
)

// RetryPolicy bounds Retry. Zero fields disable the corresponding limit.
type RetryPolicy struct {
	Base        time.Duration // first backoff, doubled each attempt
	Jitter      time.Duration
	MaxRetries  uint64
	MaxDuration time.Duration
}

// DefaultRetryPolicy retries up to five times starting at 50ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base:       50 * time.Millisecond,
		Jitter:     25 * time.Millisecond,
		MaxRetries: 5,
	}
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.Base
	if base <= 0 {
		base = DefaultRetryPolicy().Base
	}
	b := retry.NewExponential(base)
	if p.Jitter > 0 {
		b = retry.WithJitter(p.Jitter, b)
	}
	if p.MaxRetries > 0 {
		b = retry.WithMaxRetries(p.MaxRetries, b)
	}
	if p.MaxDuration > 0 {
		b = retry.WithMaxDuration(p.MaxDuration, b)
	}
	return b
}

// Retry calls fn until it succeeds, fails with an error that is not a commit
// conflict or backend outage, or the policy is exhausted. fn must rebuild
// its transaction on every call:
//
//	err := kindstore.Retry(ctx, kindstore.DefaultRetryPolicy(), func(ctx context.Context) error {
//	    return client.RunInTransaction(ctx, transfer)
//	})
//
// The client never retries on its own.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if errors.IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
