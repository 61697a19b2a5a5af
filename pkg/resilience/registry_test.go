package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/respicare/ai-service/pkg/errors"
)

func testRegistry() *Registry {
	return NewRegistry(CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Minute,
	})
}

func TestRegistry_GetOrCreateIsIdempotent(t *testing.T) {
	registry := testRegistry()

	first := registry.GetOrCreate("llm-api")
	second := registry.GetOrCreate("llm-api")

	assert.Same(t, first, second)
}

func TestRegistry_ConcurrentGetOrCreate(t *testing.T) {
	registry := testRegistry()

	const goroutines = 32
	breakers := make([]*CircuitBreaker, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			breakers[i] = registry.GetOrCreate("shared")
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		assert.Same(t, breakers[0], breakers[i])
	}
}

func TestRegistry_RegisterRejectsDuplicates(t *testing.T) {
	registry := testRegistry()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "custom"})
	require.True(t, registry.Register("custom", cb))
	assert.False(t, registry.Register("custom", NewCircuitBreaker(CircuitBreakerConfig{Name: "custom"})))

	got, ok := registry.Get("custom")
	require.True(t, ok)
	assert.Same(t, cb, got)
}

func TestRegistry_ExecuteRoutesThroughNamedBreaker(t *testing.T) {
	registry := testRegistry()

	downstream := errors.NewExternalError("backend", "down")
	for i := 0; i < 2; i++ {
		_, err := registry.Execute(context.Background(), "backend", func(context.Context) (interface{}, error) {
			return nil, downstream
		})
		require.Error(t, err)
	}

	cb, ok := registry.Get("backend")
	require.True(t, ok)
	assert.Equal(t, StateOpen, cb.State())

	_, err := registry.Execute(context.Background(), "backend", func(context.Context) (interface{}, error) {
		return "should not run", nil
	})
	assert.True(t, IsCircuitOpen(err))
}

func TestRegistry_Metrics(t *testing.T) {
	registry := testRegistry()

	registry.GetOrCreate("a")
	registry.GetOrCreate("b")

	_, err := registry.Execute(context.Background(), "a", func(context.Context) (interface{}, error) {
		return nil, errors.NewExternalError("a", "down")
	})
	require.Error(t, err)

	metrics := registry.Metrics()
	require.Len(t, metrics, 2)

	byName := make(map[string]BreakerMetrics, len(metrics))
	for _, m := range metrics {
		byName[m.Name] = m
	}
	assert.Equal(t, 1, byName["a"].Counts.Failures)
	assert.Equal(t, 0, byName["b"].Counts.Failures)
}

func TestRegistry_ResetAll(t *testing.T) {
	registry := testRegistry()

	for i := 0; i < 2; i++ {
		_, err := registry.Execute(context.Background(), "backend", func(context.Context) (interface{}, error) {
			return nil, errors.NewExternalError("backend", "down")
		})
		require.Error(t, err)
	}

	cb, _ := registry.Get("backend")
	require.Equal(t, StateOpen, cb.State())

	registry.ResetAll()
	assert.Equal(t, StateClosed, cb.State())
}
