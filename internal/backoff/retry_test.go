package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJitterPolicy(t *testing.T) {
	t.Parallel()

	t.Run("IntervalWithinBounds", func(t *testing.T) {
		t.Parallel()
		policy := NewJitterPolicy(250, 200, 2, 0)
		for i := 0; i < 50; i++ {
			interval, err := policy.ComputeNextInterval(0, 0, nil)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, interval, 250*time.Millisecond)
			assert.Less(t, interval, 450*time.Millisecond)
		}
	})

	t.Run("NoJitter", func(t *testing.T) {
		t.Parallel()
		policy := NewJitterPolicy(100, 0, 1, 0)
		interval, err := policy.ComputeNextInterval(0, 0, nil)
		require.NoError(t, err)
		assert.Equal(t, 100*time.Millisecond, interval)
	})

	t.Run("RetriesExhausted", func(t *testing.T) {
		t.Parallel()
		policy := NewJitterPolicy(100, 0, 2, 0)
		_, err := policy.ComputeNextInterval(2, 0, nil)
		assert.ErrorIs(t, err, ErrRetriesExhausted)
	})

	t.Run("ZeroRetries", func(t *testing.T) {
		t.Parallel()
		policy := NewJitterPolicy(100, 0, 0, 0)
		_, err := policy.ComputeNextInterval(0, 0, nil)
		assert.ErrorIs(t, err, ErrRetriesExhausted)
	})

	t.Run("DeadlineExhausted", func(t *testing.T) {
		t.Parallel()
		policy := NewJitterPolicy(100, 0, 5, 1000)
		_, err := policy.ComputeNextInterval(1, 2*time.Second, nil)
		assert.ErrorIs(t, err, ErrDeadlineExhausted)
	})

	t.Run("ZeroDeadlineMeansUnbounded", func(t *testing.T) {
		t.Parallel()
		policy := NewJitterPolicy(100, 0, 5, 0)
		_, err := policy.ComputeNextInterval(1, 24*time.Hour, nil)
		assert.NoError(t, err)
	})
}

func TestExponentialPolicy(t *testing.T) {
	t.Parallel()

	t.Run("Doubles", func(t *testing.T) {
		t.Parallel()
		policy := NewExponentialPolicy(100 * time.Millisecond)

		first, err := policy.ComputeNextInterval(0, 0, nil)
		require.NoError(t, err)
		assert.Equal(t, 100*time.Millisecond, first)

		second, err := policy.ComputeNextInterval(1, 0, nil)
		require.NoError(t, err)
		assert.Equal(t, 200*time.Millisecond, second)

		third, err := policy.ComputeNextInterval(2, 0, nil)
		require.NoError(t, err)
		assert.Equal(t, 400*time.Millisecond, third)
	})

	t.Run("CapsAtMaxInterval", func(t *testing.T) {
		t.Parallel()
		policy := NewExponentialPolicy(1 * time.Second)
		interval, err := policy.ComputeNextInterval(30, 0, nil)
		require.NoError(t, err)
		assert.Equal(t, 10*time.Second, interval)
	})

	t.Run("MaxRetries", func(t *testing.T) {
		t.Parallel()
		policy := NewExponentialPolicy(time.Millisecond)
		policy.MaxRetries = 3
		_, err := policy.ComputeNextInterval(3, 0, nil)
		assert.ErrorIs(t, err, ErrRetriesExhausted)
	})
}

func TestRetrier(t *testing.T) {
	t.Parallel()

	t.Run("CountsRetries", func(t *testing.T) {
		t.Parallel()
		retrier := NewRetrier(&ConstantPolicy{Interval: time.Millisecond, MaxRetries: 3}, nil)
		testErr := errors.New("boom")

		for i := 0; i < 3; i++ {
			_, err := retrier.Next(testErr)
			require.NoError(t, err)
		}
		assert.Equal(t, 3, retrier.RetryCount())

		_, err := retrier.Next(testErr)
		assert.ErrorIs(t, err, ErrRetriesExhausted)
	})

	t.Run("NonRetriableShortCircuits", func(t *testing.T) {
		t.Parallel()
		fatal := errors.New("fatal")
		retrier := NewRetrier(&ConstantPolicy{Interval: time.Millisecond, MaxRetries: 3}, func(err error) bool {
			return !errors.Is(err, fatal)
		})
		_, err := retrier.Next(fatal)
		assert.ErrorIs(t, err, fatal)
		assert.Equal(t, 0, retrier.RetryCount())
	})
}

func TestRetry(t *testing.T) {
	t.Parallel()

	t.Run("SucceedsAfterRetries", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		err := Retry(context.Background(), func(_ context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("transient")
			}
			return nil
		}, &ConstantPolicy{Interval: time.Millisecond, MaxRetries: 5}, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("ExhaustsRetries", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		err := Retry(context.Background(), func(_ context.Context) error {
			attempts++
			return errors.New("always")
		}, &ConstantPolicy{Interval: time.Millisecond, MaxRetries: 2}, nil)
		assert.ErrorIs(t, err, ErrRetriesExhausted)
		assert.Equal(t, 3, attempts)
	})

	t.Run("ContextCancelStopsWait", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		attempts := 0
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		err := Retry(ctx, func(_ context.Context) error {
			attempts++
			return errors.New("transient")
		}, &ConstantPolicy{Interval: time.Minute, MaxRetries: 5}, nil)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	})
}
