package util

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/armadaproject/condor-spider/internal/common/armadaerrors"
)

var testBackoff = Backoff{Initial: time.Millisecond, Max: 4 * time.Millisecond, Attempts: 4}

func TestBackoff_Next(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 5 * time.Second}
	assert.Equal(t, time.Second, b.Next(0))
	assert.Equal(t, 2*time.Second, b.Next(time.Second))
	assert.Equal(t, 4*time.Second, b.Next(2*time.Second))
	assert.Equal(t, 5*time.Second, b.Next(4*time.Second))
	assert.Equal(t, 5*time.Second, b.Next(5*time.Second))
}

func TestRetryWithBackoff_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	var waits []time.Duration
	err := RetryWithBackoff(context.Background(), testBackoff, func() (error, bool) {
		calls++
		if calls < 3 {
			return fmt.Errorf("dummy error"), true
		}
		return nil, false
	}, func(_ int, wait time.Duration, _ error) { waits = append(waits, wait) })
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, waits)
}

func TestRetryWithBackoff_Exhausted(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), testBackoff, func() (error, bool) {
		calls++
		return fmt.Errorf("dummy error %d", calls), true
	}, nil)
	assert.Equal(t, 4, calls)
	var e *armadaerrors.ErrMaxRetriesExceeded
	assert.True(t, errors.As(err, &e))
	assert.Equal(t, 4, e.Attempts)
	assert.EqualError(t, e.LastError, "dummy error 4")
}

func TestRetryWithBackoff_NotRetryable(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), testBackoff, func() (error, bool) {
		calls++
		return fmt.Errorf("fatal"), false
	}, nil)
	assert.EqualError(t, err, "fatal")
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := RetryWithBackoff(ctx, Backoff{Initial: time.Hour, Attempts: 5}, func() (error, bool) {
		calls++
		return fmt.Errorf("dummy error"), true
	}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, calls, 1)
}
