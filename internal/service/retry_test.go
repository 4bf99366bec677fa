package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/memeprep/internal/domain"
)

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		var retries []int
		policy := RetryPolicy{
			MaxAttempts: 3,
			OnRetry:     func(attempt int, err error) { retries = append(retries, attempt) },
		}
		outcome := Retry(ctx, policy, func(ctx context.Context, attempt int) error {
			if attempt < 3 {
				return errInjected
			}
			return nil
		})
		assert.Equal(t, domain.OutcomeSucceeded, outcome.Kind)
		assert.Equal(t, 3, outcome.Attempts)
		assert.Equal(t, []int{1, 2}, retries)
	})

	t.Run("exhausted attempts are retryable", func(t *testing.T) {
		calls := 0
		outcome := Retry(ctx, RetryPolicy{MaxAttempts: 2}, func(ctx context.Context, attempt int) error {
			calls++
			return errInjected
		})
		assert.Equal(t, domain.OutcomeRetryable, outcome.Kind)
		assert.ErrorIs(t, outcome.Err, errInjected)
		assert.Equal(t, 2, calls)
	})

	t.Run("missing content is skipped without retry", func(t *testing.T) {
		calls := 0
		outcome := Retry(ctx, RetryPolicy{MaxAttempts: 5}, func(ctx context.Context, attempt int) error {
			calls++
			return fmt.Errorf("image 3: %w", domain.ErrContentMissing)
		})
		assert.Equal(t, domain.OutcomeSkipped, outcome.Kind)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancellation during backoff is fatal", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		policy := RetryPolicy{
			MaxAttempts: 3,
			Backoff:     FixedBackoff(time.Hour),
			OnRetry:     func(int, error) { cancel() },
		}
		outcome := Retry(cctx, policy, func(ctx context.Context, attempt int) error {
			return errInjected
		})
		assert.Equal(t, domain.OutcomeFatal, outcome.Kind)
		assert.ErrorIs(t, outcome.Err, context.Canceled)
	})
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff(time.Second)
	assert.Equal(t, 2*time.Second, b(1))
	assert.Equal(t, 4*time.Second, b(2))
	assert.Equal(t, time.Duration(0), ExponentialBackoff(0)(3))
}

func TestRetryQueue(t *testing.T) {
	q := NewRetryQueue([]int64{1, 2, 3, 4, 2}, 2)

	round, ids, ok := q.Next()
	require.True(t, ok)
	assert.Equal(t, 1, round)
	assert.Equal(t, []int64{1, 2, 3, 4}, ids)

	q.Mark(1, domain.OutcomeSucceeded)
	q.Mark(2, domain.OutcomeRetryable)
	q.Mark(3, domain.OutcomeSkipped)
	q.Mark(4, domain.OutcomeRetryable)

	round, ids, ok = q.Next()
	require.True(t, ok)
	assert.Equal(t, 2, round)
	assert.Equal(t, []int64{2, 4}, ids)

	q.Mark(2, domain.OutcomeSucceeded)
	q.Mark(4, domain.OutcomeRetryable)

	_, _, ok = q.Next()
	assert.False(t, ok, "round limit reached")

	assert.Equal(t, []int64{4}, q.Finish())
	assert.Equal(t, QueueExhausted, q.State(4))
	assert.Equal(t, QueueSucceeded, q.State(2))
	assert.Equal(t, 1, q.Count(QueueSkipped))
	assert.Equal(t, 2, q.Count(QueueSucceeded))
}

func TestRetryQueue_StopsWhenNothingFailed(t *testing.T) {
	q := NewRetryQueue([]int64{5, 6}, 3)
	_, _, ok := q.Next()
	require.True(t, ok)
	q.Mark(5, domain.OutcomeSucceeded)
	q.Mark(6, domain.OutcomeFatal)

	_, _, ok = q.Next()
	assert.False(t, ok)
	assert.Equal(t, 1, q.Round())
	assert.Empty(t, q.Finish())
	assert.Equal(t, QueueFailed, q.State(6))
}
