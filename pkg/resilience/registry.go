package resilience

import (
	"context"
	"sync"

	"github.com/respicare/ai-service/pkg/logging"
)

// BreakerMetrics is a point-in-time snapshot of one breaker's health
type BreakerMetrics struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Counts Counts `json:"counts"`
}

// Registry is a keyed store of circuit breakers, one per named downstream
// dependency. Breakers are created lazily on first reference and live for
// the process lifetime; entries are only removed by an explicit
// administrative reset. The registry is an injected object, not a package
// global.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	defaults CircuitBreakerConfig
	logger   *logging.Logger
}

// NewRegistry creates a breaker registry. The defaults apply to every
// breaker created lazily through GetOrCreate; the Name field is overridden
// per dependency.
func NewRegistry(defaults CircuitBreakerConfig) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults,
		logger:   logging.GetLogger(),
	}
}

// GetOrCreate returns the breaker for the named dependency, creating it
// with the registry defaults if it does not exist yet. After the first
// creation all callers share the same instance.
func (r *Registry) GetOrCreate(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock; a racing caller may have won.
	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	config := r.defaults
	config.Name = name
	cb = NewCircuitBreaker(config)
	r.breakers[name] = cb

	r.logger.Debug("Circuit breaker created", "name", name)
	return cb
}

// Register adds a pre-built breaker (e.g. a specialized variant) under the
// given name. Registering over an existing name is rejected so callers
// cannot silently swap a shared breaker.
func (r *Registry) Register(name string, cb *CircuitBreaker) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.breakers[name]; exists {
		return false
	}
	r.breakers[name] = cb
	return true
}

// Get returns the breaker for the named dependency if it exists
func (r *Registry) Get(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// Execute runs the request through the named dependency's breaker
func (r *Registry) Execute(ctx context.Context, name string, req func(context.Context) (interface{}, error)) (interface{}, error) {
	return r.GetOrCreate(name).Execute(ctx, req)
}

// Metrics returns a snapshot of every registered breaker
func (r *Registry) Metrics() []BreakerMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metrics := make([]BreakerMetrics, 0, len(r.breakers))
	for name, cb := range r.breakers {
		metrics = append(metrics, BreakerMetrics{
			Name:   name,
			State:  cb.State().String(),
			Counts: cb.Counts(),
		})
	}
	return metrics
}

// ResetAll returns every breaker to the closed state. Administrative
// operation only.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
	r.logger.Info("All circuit breakers reset", "count", len(r.breakers))
}
