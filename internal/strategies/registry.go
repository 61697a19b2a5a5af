package strategies

import (
	"sort"
	"sync"
	"time"

	"github.com/respicare/ai-service/pkg/strategy"
)

// Health captures per-strategy execution bookkeeping for the health and
// strategies endpoints.
type Health struct {
	Name          string    `json:"name"`
	Confidence    float64   `json:"confidence"`
	Calls         int64     `json:"calls"`
	Failures      int64     `json:"failures"`
	LastSuccessAt time.Time `json:"last_success_at,omitempty"`
	LastFailureAt time.Time `json:"last_failure_at,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

// Registry tracks the registered analysis strategies and their health.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]strategy.AnalysisStrategy
	health     map[string]*Health
}

// NewRegistry creates an empty strategy registry
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]strategy.AnalysisStrategy),
		health:     make(map[string]*Health),
	}
}

// Register adds a strategy under its own name. Registering the same name
// twice replaces the earlier entry and resets its bookkeeping.
func (r *Registry) Register(s strategy.AnalysisStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := s.Name()
	r.strategies[name] = s
	r.health[name] = &Health{Name: name, Confidence: s.Confidence()}
}

// Get returns the strategy registered under name
func (r *Registry) Get(name string) (strategy.AnalysisStrategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[name]
	return s, ok
}

// Names returns the registered strategy names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RecordSuccess updates bookkeeping after a successful execution
func (r *Registry) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.health[name]; ok {
		h.Calls++
		h.LastSuccessAt = time.Now()
		h.LastError = ""
	}
}

// RecordFailure updates bookkeeping after a failed execution
func (r *Registry) RecordFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.health[name]; ok {
		h.Calls++
		h.Failures++
		h.LastFailureAt = time.Now()
		if err != nil {
			h.LastError = err.Error()
		}
	}
}

// HealthReport returns a snapshot of every strategy's bookkeeping, sorted
// by name
func (r *Registry) HealthReport() []Health {
	r.mu.RLock()
	defer r.mu.RUnlock()

	report := make([]Health, 0, len(r.health))
	for name, h := range r.health {
		snapshot := *h
		// Confidence can change at runtime (degraded local model).
		if s, ok := r.strategies[name]; ok {
			snapshot.Confidence = s.Confidence()
		}
		report = append(report, snapshot)
	}
	sort.Slice(report, func(i, j int) bool { return report[i].Name < report[j].Name })
	return report
}
