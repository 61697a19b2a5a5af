// Package pipeline composes cross-cutting layers around analysis operations.
// Each layer wraps a Handler and adds one concern: result caching, circuit
// breaking, retries, metrics, or audit logging. Layers are ordinary function
// wrappers, so callers pick the composition order explicitly.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/respicare/ai-service/internal/cache"
	"github.com/respicare/ai-service/pkg/errors"
	"github.com/respicare/ai-service/pkg/logging"
	"github.com/respicare/ai-service/pkg/metrics"
	"github.com/respicare/ai-service/pkg/resilience"
	"github.com/respicare/ai-service/pkg/strategy"
)

// Request describes one analysis operation flowing through the pipeline
type Request struct {
	// Operation is the logical operation name, e.g. "analyze_symptoms"
	Operation string

	// Args are the operation arguments. They must marshal to JSON
	// deterministically since the cache key is derived from them.
	Args interface{}
}

// Handler executes an analysis operation
type Handler func(ctx context.Context, req Request) (strategy.Result, error)

// Middleware wraps a Handler with one cross-cutting concern
type Middleware func(next Handler) Handler

// Chain applies middleware around a handler. The first middleware listed
// becomes the outermost layer.
func Chain(h Handler, middleware ...Middleware) Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}

// CacheKeyFor derives the cache key digest for a request: SHA-256 over the
// operation name and the canonical JSON encoding of its arguments.
func CacheKeyFor(req Request) (string, error) {
	args, err := json.Marshal(req.Args)
	if err != nil {
		return "", errors.NewInternalError("failed to encode cache key arguments").WithCause(err)
	}

	h := sha256.New()
	h.Write([]byte(req.Operation))
	h.Write([]byte{'\n'})
	h.Write(args)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ResultCache is the subset of the cache service the caching layer needs
type ResultCache interface {
	Get(ctx context.Context, key cache.CacheKey, dest interface{}) error
	Set(ctx context.Context, key cache.CacheKey, value interface{}, ttl time.Duration) error
}

// WithCache returns results from the cache when present and stores successful
// results with the given TTL. Errors are never cached, and a failing cache
// degrades to direct execution instead of failing the operation.
func WithCache(svc ResultCache, ttl time.Duration) Middleware {
	logger := logging.GetLogger()

	return func(next Handler) Handler {
		return func(ctx context.Context, req Request) (strategy.Result, error) {
			digest, err := CacheKeyFor(req)
			if err != nil {
				logger.Warn("cache key derivation failed, executing directly",
					"operation", req.Operation, "error", err.Error())
				return next(ctx, req)
			}

			key := cache.AnalysisResultKey(digest)

			var cached strategy.Result
			err = svc.Get(ctx, key, &cached)
			if err == nil {
				return cached, nil
			}
			if !errors.IsNotFound(err) {
				logger.Warn("cache read failed, executing directly",
					"operation", req.Operation, "error", err.Error())
			}

			result, err := next(ctx, req)
			if err != nil {
				return nil, err
			}

			if setErr := svc.Set(ctx, key, result, ttl); setErr != nil {
				logger.Warn("cache write failed",
					"operation", req.Operation, "error", setErr.Error())
			}
			return result, nil
		}
	}
}

// WithCircuitBreaker routes the operation through the named breaker in the
// registry
func WithCircuitBreaker(registry *resilience.Registry, name string) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req Request) (strategy.Result, error) {
			result, err := registry.Execute(ctx, name, func(ctx context.Context) (interface{}, error) {
				return next(ctx, req)
			})
			if err != nil {
				return nil, err
			}
			return result.(strategy.Result), nil
		}
	}
}

// WithRetry retries the operation with exponential backoff for retryable
// errors
func WithRetry(config resilience.RetryConfig) Middleware {
	retrier := resilience.NewRetrier(config)

	return func(next Handler) Handler {
		return func(ctx context.Context, req Request) (strategy.Result, error) {
			result, err := retrier.ExecuteWithResult(ctx, func(ctx context.Context) (interface{}, error) {
				return next(ctx, req)
			})
			if err != nil {
				return nil, err
			}
			return result.(strategy.Result), nil
		}
	}
}

// WithMetrics records operation counts and latency. The strategy label is
// taken from the result annotation when available.
func WithMetrics(m *metrics.Metrics) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req Request) (strategy.Result, error) {
			start := time.Now()
			result, err := next(ctx, req)
			duration := time.Since(start)

			status := "success"
			strategyName := "unknown"
			if err != nil {
				status = "error"
				if resilience.IsCircuitOpen(err) {
					status = "rejected"
				}
				m.RecordError("pipeline", string(errors.GetType(err)))
			} else if used, ok := result[strategy.KeyStrategyUsed].(string); ok {
				strategyName = used
			}

			m.RecordAnalysis(req.Operation, strategyName, status, duration)
			return result, err
		}
	}
}
