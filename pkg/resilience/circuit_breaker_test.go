package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/respicare/ai-service/pkg/errors"
)

func failingCall(err error) func(context.Context) (interface{}, error) {
	return func(context.Context) (interface{}, error) {
		return nil, err
	}
}

func succeedingCall(value interface{}) func(context.Context) (interface{}, error) {
	return func(context.Context) (interface{}, error) {
		return value, nil
	}
}

func TestCircuitBreaker_OpensAfterFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 3,
		SuccessThreshold: 2,
		RecoveryTimeout:  time.Minute,
	})

	downstream := errors.NewExternalError("backend", "down")

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(context.Background(), failingCall(downstream))
		require.Error(t, err)
		assert.Equal(t, StateClosed, cb.State())
	}

	_, err := cb.Execute(context.Background(), failingCall(downstream))
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_RejectsWhileOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Hour,
	})

	_, err := cb.Execute(context.Background(), failingCall(errors.NewExternalError("backend", "down")))
	require.Error(t, err)
	require.Equal(t, StateOpen, cb.State())

	calls := 0
	_, err = cb.Execute(context.Background(), func(context.Context) (interface{}, error) {
		calls++
		return nil, nil
	})

	assert.True(t, IsCircuitOpen(err))
	assert.Equal(t, 0, calls, "open breaker must not invoke the wrapped call")
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		SuccessThreshold: 2,
		RecoveryTimeout:  50 * time.Millisecond,
	})

	_, err := cb.Execute(context.Background(), failingCall(errors.NewExternalError("backend", "down")))
	require.Error(t, err)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(60 * time.Millisecond)

	// First probe after the recovery timeout is allowed through.
	_, err = cb.Execute(context.Background(), succeedingCall("ok"))
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, cb.State())

	// Second success reaches the threshold and closes the circuit.
	_, err = cb.Execute(context.Background(), succeedingCall("ok"))
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		SuccessThreshold: 2,
		RecoveryTimeout:  50 * time.Millisecond,
	})

	_, err := cb.Execute(context.Background(), failingCall(errors.NewExternalError("backend", "down")))
	require.Error(t, err)

	time.Sleep(60 * time.Millisecond)

	_, err = cb.Execute(context.Background(), failingCall(errors.NewExternalError("backend", "still down")))
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenAllowsSingleProbe(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		SuccessThreshold: 2,
		RecoveryTimeout:  50 * time.Millisecond,
	})

	_, err := cb.Execute(context.Background(), failingCall(errors.NewExternalError("backend", "down")))
	require.Error(t, err)

	time.Sleep(60 * time.Millisecond)

	probeStarted := make(chan struct{})
	probeRelease := make(chan struct{})
	probeDone := make(chan error, 1)

	go func() {
		_, err := cb.Execute(context.Background(), func(context.Context) (interface{}, error) {
			close(probeStarted)
			<-probeRelease
			return "ok", nil
		})
		probeDone <- err
	}()

	<-probeStarted

	// While the probe is in flight every other call is rejected.
	_, err = cb.Execute(context.Background(), succeedingCall("ok"))
	assert.True(t, IsCircuitOpen(err))

	close(probeRelease)
	require.NoError(t, <-probeDone)
}

func TestCircuitBreaker_StaleCallOutcomeIsDiscarded(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  50 * time.Millisecond,
	})

	staleStarted := make(chan struct{})
	staleRelease := make(chan struct{})
	staleDone := make(chan error, 1)

	// Admit a call while the breaker is still closed and hold it open.
	go func() {
		_, err := cb.Execute(context.Background(), func(context.Context) (interface{}, error) {
			close(staleStarted)
			<-staleRelease
			return "ok", nil
		})
		staleDone <- err
	}()
	<-staleStarted

	// Trip the breaker and wait out the recovery window.
	_, err := cb.Execute(context.Background(), failingCall(errors.NewExternalError("backend", "down")))
	require.Error(t, err)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(60 * time.Millisecond)

	// The next admitted call becomes the half-open probe; hold it in flight.
	probeStarted := make(chan struct{})
	probeRelease := make(chan struct{})
	probeDone := make(chan error, 1)

	go func() {
		_, err := cb.Execute(context.Background(), func(context.Context) (interface{}, error) {
			close(probeStarted)
			<-probeRelease
			return "ok", nil
		})
		probeDone <- err
	}()
	<-probeStarted
	require.Equal(t, StateHalfOpen, cb.State())

	// The closed-era call completing now must not act as the probe: its
	// success is discarded, the circuit stays half-open and no second
	// probe slot opens up.
	close(staleRelease)
	require.NoError(t, <-staleDone)
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.Equal(t, 0, cb.Counts().Successes)

	_, err = cb.Execute(context.Background(), succeedingCall("ok"))
	assert.True(t, IsCircuitOpen(err))

	// Only the real probe recovers the circuit.
	close(probeRelease)
	require.NoError(t, <-probeDone)
	assert.Equal(t, StateClosed, cb.State())
}

func TestLLMCircuitBreaker_StaleCallOutcomeIsDiscarded(t *testing.T) {
	lb := NewLLMCircuitBreaker(LLMBreakerConfig{
		CircuitBreakerConfig: CircuitBreakerConfig{
			Name:             "llm",
			FailureThreshold: 1,
			SuccessThreshold: 1,
			RecoveryTimeout:  50 * time.Millisecond,
		},
	})

	staleStarted := make(chan struct{})
	staleRelease := make(chan struct{})
	staleDone := make(chan error, 1)

	go func() {
		_, err := lb.Execute(context.Background(), func(context.Context) (interface{}, error) {
			close(staleStarted)
			<-staleRelease
			return "ok", nil
		})
		staleDone <- err
	}()
	<-staleStarted

	_, err := lb.Execute(context.Background(), failingCall(errors.NewExternalError("llm", "down")))
	require.Error(t, err)
	require.Equal(t, StateOpen, lb.State())

	time.Sleep(60 * time.Millisecond)

	probeStarted := make(chan struct{})
	probeRelease := make(chan struct{})
	probeDone := make(chan error, 1)

	go func() {
		_, err := lb.Execute(context.Background(), func(context.Context) (interface{}, error) {
			close(probeStarted)
			<-probeRelease
			return "ok", nil
		})
		probeDone <- err
	}()
	<-probeStarted
	require.Equal(t, StateHalfOpen, lb.State())

	close(staleRelease)
	require.NoError(t, <-staleDone)
	assert.Equal(t, StateHalfOpen, lb.State())

	close(probeRelease)
	require.NoError(t, <-probeDone)
	assert.Equal(t, StateClosed, lb.State())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 2,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Minute,
	})

	downstream := errors.NewExternalError("backend", "flaky")

	_, err := cb.Execute(context.Background(), failingCall(downstream))
	require.Error(t, err)

	_, err = cb.Execute(context.Background(), succeedingCall("ok"))
	require.NoError(t, err)
	assert.Equal(t, 0, cb.Counts().Failures)

	// The earlier failure no longer counts toward the threshold.
	_, err = cb.Execute(context.Background(), failingCall(downstream))
	require.Error(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ValidationErrorsNotCounted(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Minute,
	})

	tests := []struct {
		name string
		err  error
	}{
		{name: "validation", err: errors.NewValidationError("bad input")},
		{name: "not found", err: errors.NewNotFoundError("record")},
		{name: "conflict", err: errors.NewConflictError("record")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cb.Execute(context.Background(), failingCall(tt.err))
			require.Error(t, err)
			assert.Equal(t, StateClosed, cb.State())
			assert.Equal(t, 0, cb.Counts().Failures)
		})
	}
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	var transitions []string

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  50 * time.Millisecond,
		OnStateChange: func(name string, from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_, err := cb.Execute(context.Background(), failingCall(errors.NewExternalError("backend", "down")))
	require.Error(t, err)

	time.Sleep(60 * time.Millisecond)

	_, err = cb.Execute(context.Background(), succeedingCall("ok"))
	require.NoError(t, err)

	assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}, transitions)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Hour,
	})

	_, err := cb.Execute(context.Background(), failingCall(errors.NewExternalError("backend", "down")))
	require.Error(t, err)
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())

	_, err = cb.Execute(context.Background(), succeedingCall("ok"))
	assert.NoError(t, err)
}

func TestLLMCircuitBreaker_QuotaOpensImmediately(t *testing.T) {
	lb := NewLLMCircuitBreaker(LLMBreakerConfig{
		CircuitBreakerConfig: CircuitBreakerConfig{
			Name:             "llm",
			FailureThreshold: 5,
			SuccessThreshold: 1,
			RecoveryTimeout:  time.Hour,
		},
		RateLimitThreshold: 3,
	})

	_, err := lb.Execute(context.Background(), failingCall(errors.NewQuotaError("llm-api", "insufficient_quota")))
	require.Error(t, err)
	assert.Equal(t, StateOpen, lb.State())
}

func TestLLMCircuitBreaker_RateLimitThreshold(t *testing.T) {
	lb := NewLLMCircuitBreaker(LLMBreakerConfig{
		CircuitBreakerConfig: CircuitBreakerConfig{
			Name:             "llm",
			FailureThreshold: 10,
			SuccessThreshold: 1,
			RecoveryTimeout:  time.Hour,
		},
		RateLimitThreshold: 2,
	})

	rateLimited := errors.NewRateLimitError("llm-api")

	_, err := lb.Execute(context.Background(), failingCall(rateLimited))
	require.Error(t, err)
	assert.Equal(t, StateClosed, lb.State())

	_, err = lb.Execute(context.Background(), failingCall(rateLimited))
	require.Error(t, err)
	assert.Equal(t, StateOpen, lb.State())
}

func TestLLMCircuitBreaker_SuccessResetsRateLimitCount(t *testing.T) {
	lb := NewLLMCircuitBreaker(LLMBreakerConfig{
		CircuitBreakerConfig: CircuitBreakerConfig{
			Name:             "llm",
			FailureThreshold: 10,
			SuccessThreshold: 1,
			RecoveryTimeout:  time.Hour,
		},
		RateLimitThreshold: 2,
	})

	_, err := lb.Execute(context.Background(), failingCall(errors.NewRateLimitError("llm-api")))
	require.Error(t, err)
	require.Equal(t, 1, lb.RateLimitCount())

	_, err = lb.Execute(context.Background(), succeedingCall("ok"))
	require.NoError(t, err)
	assert.Equal(t, 0, lb.RateLimitCount())
}

func TestLLMCircuitBreaker_BaseResetClearsRateLimitCount(t *testing.T) {
	lb := NewLLMCircuitBreaker(LLMBreakerConfig{
		CircuitBreakerConfig: CircuitBreakerConfig{
			Name:             "llm",
			FailureThreshold: 10,
			SuccessThreshold: 1,
			RecoveryTimeout:  time.Hour,
		},
		RateLimitThreshold: 3,
	})

	_, err := lb.Execute(context.Background(), failingCall(errors.NewRateLimitError("llm-api")))
	require.Error(t, err)
	require.Equal(t, 1, lb.RateLimitCount())

	// The registry holds the embedded base breaker; an administrative
	// reset through it must clear the rate-limit counter too.
	registry := NewRegistry(CircuitBreakerConfig{})
	require.True(t, registry.Register("llm-api", lb.CircuitBreaker))
	registry.ResetAll()

	assert.Equal(t, 0, lb.RateLimitCount())
	assert.Equal(t, StateClosed, lb.State())
}

func TestExternalServiceCircuitBreaker_TimeoutCountsAsFailure(t *testing.T) {
	eb := NewExternalServiceCircuitBreaker(ExternalServiceBreakerConfig{
		CircuitBreakerConfig: CircuitBreakerConfig{
			Name:             "external",
			FailureThreshold: 1,
			SuccessThreshold: 1,
			RecoveryTimeout:  time.Hour,
		},
		CallTimeout: 20 * time.Millisecond,
	})

	_, err := eb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		select {
		case <-time.After(time.Second):
			return "too late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	assert.Equal(t, StateOpen, eb.State())
}
