package resilience

import (
	"context"
	"time"

	"github.com/respicare/ai-service/pkg/errors"
)

// LLMBreakerConfig holds configuration for the LLM circuit breaker
type LLMBreakerConfig struct {
	CircuitBreakerConfig

	// RateLimitThreshold is a separate counter for provider rate-limit
	// responses. Reaching it opens the circuit immediately regardless of the
	// generic failure threshold.
	RateLimitThreshold int
}

// LLMCircuitBreaker protects calls to a metered, quota-limited remote LLM
// API. Rate-limit responses accumulate on their own counter, and quota or
// billing exhaustion opens the circuit on the very first occurrence since
// further calls cannot succeed until the account recovers.
type LLMCircuitBreaker struct {
	*CircuitBreaker

	rateLimitThreshold int
	rateLimitCount     int
}

// NewLLMCircuitBreaker creates a circuit breaker for a metered LLM API
func NewLLMCircuitBreaker(config LLMBreakerConfig) *LLMCircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 5 * time.Minute
	}
	if config.RateLimitThreshold <= 0 {
		config.RateLimitThreshold = 2
	}

	lb := &LLMCircuitBreaker{
		CircuitBreaker:     NewCircuitBreaker(config.CircuitBreakerConfig),
		rateLimitThreshold: config.RateLimitThreshold,
	}
	// Resets through the base breaker, registry ResetAll included, clear
	// the rate-limit counter as well.
	lb.onReset = func() { lb.rateLimitCount = 0 }
	return lb
}

// Execute runs the given request with LLM-specific failure accounting
func (lb *LLMCircuitBreaker) Execute(ctx context.Context, req func(context.Context) (interface{}, error)) (interface{}, error) {
	gen, err := lb.beforeCall()
	if err != nil {
		return nil, err
	}

	result, err := req(ctx)
	lb.afterLLMCall(gen, err)
	return result, err
}

func (lb *LLMCircuitBreaker) afterLLMCall(gen uint64, err error) {
	lb.mutex.Lock()
	defer lb.mutex.Unlock()

	if gen != lb.generation {
		return
	}

	now := time.Now()
	if lb.state == StateHalfOpen {
		lb.probing = false
	}

	if err == nil {
		lb.rateLimitCount = 0
		lb.onSuccess(now)
		return
	}

	switch {
	case errors.IsType(err, errors.ErrorTypeQuota):
		// Billing exhaustion: retrying is pointless, open immediately.
		lb.logger.Error("Circuit breaker opened due to quota exhaustion",
			"name", lb.name,
			"error", err.Error(),
		)
		lb.tripOpen(now)
	case errors.IsType(err, errors.ErrorTypeRateLimit):
		lb.rateLimitCount++
		if lb.rateLimitCount >= lb.rateLimitThreshold {
			lb.logger.Warn("Circuit breaker opened due to rate limit errors",
				"name", lb.name,
				"rate_limit_count", lb.rateLimitCount,
			)
			lb.tripOpen(now)
		}
	case IsCircuitOpen(err) || !lb.countable(err):
		// Not evidence of dependency health.
	default:
		lb.onFailure(now)
	}
}

// RateLimitCount returns the current rate-limit counter
func (lb *LLMCircuitBreaker) RateLimitCount() int {
	lb.mutex.Lock()
	defer lb.mutex.Unlock()
	return lb.rateLimitCount
}
