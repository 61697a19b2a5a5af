package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/respicare/ai-service/pkg/errors"
)

func fastRetryConfig(maxAttempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       maxAttempts,
		BaseDelay:         time.Millisecond,
		MaxDelay:          10 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetrier_SucceedsAfterTransientFailures(t *testing.T) {
	retrier := NewRetrier(fastRetryConfig(3))

	calls := 0
	err := retrier.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.NewExternalError("backend", "flaky")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrier_ExhaustsAttempts(t *testing.T) {
	retrier := NewRetrier(fastRetryConfig(2))

	calls := 0
	err := retrier.Execute(context.Background(), func(context.Context) error {
		calls++
		return errors.NewExternalError("backend", "down")
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.True(t, IsRetryExhausted(err))

	var reErr *RetryExhaustedError
	require.ErrorAs(t, err, &reErr)
	assert.Equal(t, 2, reErr.Attempts)
	assert.True(t, errors.IsType(reErr.LastErr, errors.ErrorTypeExternal))
}

func TestRetrier_NonRetryableStopsImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "validation", err: errors.NewValidationError("bad input")},
		{name: "quota", err: errors.NewQuotaError("llm-api", "insufficient_quota")},
		{name: "rate limit", err: errors.NewRateLimitError("llm-api")},
		{name: "circuit open", err: NewCircuitOpenError("backend", StateOpen)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retrier := NewRetrier(fastRetryConfig(3))

			calls := 0
			err := retrier.Execute(context.Background(), func(context.Context) error {
				calls++
				return tt.err
			})

			require.Error(t, err)
			assert.Equal(t, 1, calls)
			assert.False(t, IsRetryExhausted(err))
		})
	}
}

func TestRetrier_ContextCancellationStopsBackoff(t *testing.T) {
	retrier := NewRetrier(RetryConfig{
		MaxAttempts:       5,
		BaseDelay:         time.Second,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2.0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := retrier.Execute(ctx, func(context.Context) error {
		return errors.NewExternalError("backend", "down")
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetrier_BackoffGrowsAndCaps(t *testing.T) {
	retrier := NewRetrier(RetryConfig{
		MaxAttempts:       5,
		BaseDelay:         100 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2.0,
	})

	assert.Equal(t, 100*time.Millisecond, retrier.calculateDelay(1))
	assert.Equal(t, 200*time.Millisecond, retrier.calculateDelay(2))
	assert.Equal(t, 400*time.Millisecond, retrier.calculateDelay(3))
	// 100ms * 2^4 = 1.6s, capped at the maximum.
	assert.Equal(t, time.Second, retrier.calculateDelay(5))
}

func TestRetrier_JitterWithinBounds(t *testing.T) {
	retrier := NewRetrier(RetryConfig{
		MaxAttempts:       3,
		BaseDelay:         100 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	})

	for i := 0; i < 50; i++ {
		delay := retrier.calculateDelay(1)
		assert.GreaterOrEqual(t, delay, 110*time.Millisecond)
		assert.LessOrEqual(t, delay, 130*time.Millisecond)
	}
}

func TestRetrier_OnRetryCallback(t *testing.T) {
	var attempts []int
	config := fastRetryConfig(3)
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}

	retrier := NewRetrier(config)
	err := retrier.Execute(context.Background(), func(context.Context) error {
		return errors.NewExternalError("backend", "down")
	})

	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestProtectedOperation_BreakerSeesAggregateOutcome(t *testing.T) {
	po := NewProtectedOperation("test", CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Hour,
	}, fastRetryConfig(3))

	calls := 0
	_, err := po.Execute(context.Background(), func(context.Context) (interface{}, error) {
		calls++
		return nil, errors.NewExternalError("backend", "down")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls, "retries run inside the breaker")
	// One exhausted retry sequence counts as one breaker failure.
	assert.Equal(t, StateOpen, po.State())

	// The open breaker now rejects without invoking the operation again.
	_, err = po.Execute(context.Background(), func(context.Context) (interface{}, error) {
		calls++
		return nil, nil
	})
	assert.True(t, IsCircuitOpen(err))
	assert.Equal(t, 3, calls)
}

func TestRetry_ConvenienceHelpers(t *testing.T) {
	calls := 0
	err := RetryWithConfig(context.Background(), fastRetryConfig(2), func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
