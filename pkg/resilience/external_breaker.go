package resilience

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/respicare/ai-service/pkg/errors"
)

// ExternalServiceBreakerConfig holds configuration for breakers guarding
// generic networked dependencies
type ExternalServiceBreakerConfig struct {
	CircuitBreakerConfig

	// CallTimeout bounds every wrapped call. Expiry counts as a failure.
	CallTimeout time.Duration
}

// ExternalServiceCircuitBreaker guards a networked dependency and applies a
// per-call timeout. A timed-out request is treated as a countable failure.
type ExternalServiceCircuitBreaker struct {
	*CircuitBreaker

	callTimeout time.Duration
}

// NewExternalServiceCircuitBreaker creates a circuit breaker for a networked dependency
func NewExternalServiceCircuitBreaker(config ExternalServiceBreakerConfig) *ExternalServiceCircuitBreaker {
	if config.CallTimeout <= 0 {
		config.CallTimeout = 30 * time.Second
	}

	return &ExternalServiceCircuitBreaker{
		CircuitBreaker: NewCircuitBreaker(config.CircuitBreakerConfig),
		callTimeout:    config.CallTimeout,
	}
}

// Execute runs the given request under the per-call timeout
func (eb *ExternalServiceCircuitBreaker) Execute(ctx context.Context, req func(context.Context) (interface{}, error)) (interface{}, error) {
	return eb.CircuitBreaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, eb.callTimeout)
		defer cancel()

		result, err := req(callCtx)
		if err != nil && stderrors.Is(err, context.DeadlineExceeded) {
			return result, errors.NewTimeoutError(eb.name).WithCause(err)
		}
		return result, err
	})
}

// CallTimeout returns the configured per-call timeout
func (eb *ExternalServiceCircuitBreaker) CallTimeout() time.Duration {
	return eb.callTimeout
}
