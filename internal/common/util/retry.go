package util

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"

	"github.com/armadaproject/condor-spider/internal/common/armadaerrors"
)

// Backoff describes a bounded exponential backoff. The first retry waits Initial and each further retry doubles
// the wait up to Max. At most Attempts calls are made in total.
type Backoff struct {
	Initial  time.Duration
	Max      time.Duration
	Attempts int
}

// Next returns the wait that follows a wait of current.
func (b Backoff) Next(current time.Duration) time.Duration {
	if current <= 0 {
		return b.Initial
	}
	next := 2 * current
	if b.Max > 0 && next > b.Max {
		return b.Max
	}
	return next
}

// RetryWithBackoff calls action until it succeeds, reports the error as not retryable, the attempts are
// exhausted or ctx is done. onRetry, if non-nil, is called before each wait.
// Exhausting the attempts returns an *armadaerrors.ErrMaxRetriesExceeded wrapping the last error.
func RetryWithBackoff(
	ctx context.Context,
	backoff Backoff,
	action func() (error, bool),
	onRetry func(attempt int, wait time.Duration, err error),
) error {
	attempts := backoff.Attempts
	if attempts < 1 {
		attempts = 1
	}
	calls := 0
	retryable := false
	var lastErr error
	_ = retry.Do(
		func() error {
			calls++
			lastErr, retryable = action()
			return lastErr
		},
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(backoff.Initial),
		retry.MaxDelay(backoff.Max),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(error) bool { return retryable }),
		retry.OnRetry(func(n uint, err error) {
			attempt := int(n) + 1
			if onRetry == nil || attempt >= attempts {
				return
			}
			onRetry(attempt, backoff.waitBefore(attempt), err)
		}),
	)

	switch {
	case lastErr == nil && calls > 0:
		return nil
	case lastErr != nil && !retryable:
		return lastErr
	case ctx.Err() != nil:
		return errors.WithMessagef(ctx.Err(), "gave up after %d attempts, last error: %v", calls, lastErr)
	}
	return errors.WithStack(&armadaerrors.ErrMaxRetriesExceeded{
		Attempts:  calls,
		LastError: lastErr,
	})
}

// waitBefore returns the wait that follows the given failed attempt, counting from one.
func (b Backoff) waitBefore(attempt int) time.Duration {
	var wait time.Duration
	for i := 0; i < attempt; i++ {
		wait = b.Next(wait)
	}
	return wait
}
