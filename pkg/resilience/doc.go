// Package resilience supervises calls to unreliable downstream dependencies
// for the RespiCare analysis service.
//
// This package implements the following patterns:
//
// # Circuit Breaker Pattern
//
// The circuit breaker prevents cascading failures by counting failures of
// external calls and failing fast once a dependency is presumed unhealthy.
// After a recovery timeout a single probe call is admitted; enough
// consecutive probe successes close the circuit again.
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//		Name:             "llm-api",
//		FailureThreshold: 3,
//		SuccessThreshold: 2,
//		RecoveryTimeout:  5 * time.Minute,
//	})
//
//	result, err := cb.Execute(ctx, func(ctx context.Context) (interface{}, error) {
//		return llmClient.Complete(ctx, prompt)
//	})
//
// Specialized variants exist for metered LLM APIs (LLMCircuitBreaker, which
// tracks rate-limit responses separately and opens immediately on quota
// exhaustion) and for generic networked services
// (ExternalServiceCircuitBreaker, which bounds each call with a timeout and
// counts expiry as a failure).
//
// # Breaker Registry
//
// The Registry keys breakers by dependency name and creates them lazily on
// first reference. It is an explicitly constructed object that gets injected
// wherever breakers are needed.
//
//	reg := resilience.NewRegistry(defaults)
//	result, err := reg.Execute(ctx, "medical-history-processing", op)
//
// # Retry with Exponential Backoff
//
// The retry mechanism re-attempts transient failures with exponential
// backoff and a uniformly random jitter in [10%, 30%] of the delay to avoid
// synchronized retry storms.
//
//	retrier := resilience.NewRetrier(resilience.DefaultRetryConfig())
//	err := retrier.Execute(ctx, func(ctx context.Context) error {
//		return riskyOperation(ctx)
//	})
//
// # Combined Usage
//
// ProtectedOperation composes the breaker outward of retry, so a logical
// operation is retried several times before the breaker observes the
// aggregate failure:
//
//	op := resilience.NewProtectedOperation("llm-api", cbConfig, retryConfig)
//	result, err := op.Execute(ctx, func(ctx context.Context) (interface{}, error) {
//		return llmClient.Complete(ctx, prompt)
//	})
//
// The package is thread-safe; breaker state transitions are serialized by a
// per-breaker lock while the wrapped call itself runs outside it.
package resilience
