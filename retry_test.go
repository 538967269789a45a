package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyDo(t *testing.T) {
	ctx := context.Background()
	errTimeout := errors.New("timeout")

	t.Run("succeeds after transient failures", func(t *testing.T) {
		var notified []int
		attempts, err := RetryPolicy{MaxAttempts: 4}.Do(ctx, func(_ context.Context, attempt int) error {
			if attempt < 3 {
				return Transient(errTimeout)
			}
			return nil
		}, func(attempt int, err error, _ time.Duration) {
			notified = append(notified, attempt)
			assert.ErrorIs(t, err, errTimeout)
		})
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
		assert.Equal(t, []int{1, 2}, notified)
	})

	t.Run("terminal stops immediately", func(t *testing.T) {
		attempts, err := RetryPolicy{MaxAttempts: 4}.Do(ctx, func(context.Context, int) error {
			return Terminal(errTimeout)
		}, nil)
		assert.Equal(t, 1, attempts)
		assert.Equal(t, KindTerminal, KindOf(err))
		assert.ErrorIs(t, err, errTimeout)
		assert.NotErrorIs(t, err, ErrRetryExhausted)
	})

	t.Run("unclassified stops immediately", func(t *testing.T) {
		attempts, err := RetryPolicy{MaxAttempts: 4}.Do(ctx, func(context.Context, int) error {
			return errTimeout
		}, nil)
		assert.Equal(t, 1, attempts)
		assert.ErrorIs(t, err, errTimeout)
	})

	t.Run("exhaustion is terminal", func(t *testing.T) {
		attempts, err := RetryPolicy{MaxAttempts: 3}.Do(ctx, func(context.Context, int) error {
			return Transient(errTimeout)
		}, nil)
		assert.Equal(t, 3, attempts)
		assert.ErrorIs(t, err, ErrRetryExhausted)
		assert.ErrorIs(t, err, errTimeout)
		assert.Equal(t, KindTerminal, KindOf(err))
	})

	t.Run("attempt timeout is transient", func(t *testing.T) {
		policy := RetryPolicy{MaxAttempts: 2, AttemptTimeout: 5 * time.Millisecond}
		attempts, err := policy.Do(ctx, func(ctx context.Context, _ int) error {
			<-ctx.Done()
			return ctx.Err()
		}, nil)
		assert.Equal(t, 2, attempts)
		assert.ErrorIs(t, err, ErrRetryExhausted)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("caller cancellation is terminal", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		attempts, err := RetryPolicy{MaxAttempts: 5}.Do(cctx, func(context.Context, int) error {
			cancel()
			return Transient(errTimeout)
		}, nil)
		assert.Equal(t, 1, attempts)
		assert.Equal(t, KindTerminal, KindOf(err))
	})

	t.Run("no retry", func(t *testing.T) {
		attempts, err := NoRetry().Do(ctx, func(context.Context, int) error {
			return Transient(errTimeout)
		}, nil)
		assert.Equal(t, 1, attempts)
		assert.ErrorIs(t, err, ErrRetryExhausted)
	})
}

func TestRetryPolicyBackOff(t *testing.T) {
	assert.Zero(t, RetryPolicy{}.backOff().NextBackOff())

	b := DefaultRetryPolicy().backOff()
	first := b.NextBackOff()
	assert.Greater(t, first, time.Duration(0))
	assert.LessOrEqual(t, first, 150*time.Millisecond)
}

func TestCompensationRetriesTransientUndo(t *testing.T) {
	f := newTripFixture()
	f.hotel.book = func(context.Context, int) error { return Terminal(errFullyBooked) }
	failures := 0
	f.flight.cancel = func(context.Context) error {
		if failures < 2 {
			failures++
			return Transient(errors.New("timeout"))
		}
		return nil
	}
	c := newTestCoordinator(NewMemoryStore(), WithCompensationPolicy(CompensationPolicy{
		Retry: RetryPolicy{MaxAttempts: 3},
	}))

	_, err := c.Run(context.Background(), "trip-1", f.definition(t), nil)
	var serr *SagaError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, FullyCompensated, serr.Outcome.Kind)
	assert.Equal(t, 3, f.rec.count("cancel flight"))
}
