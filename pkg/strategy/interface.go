package strategy

import (
	"context"
	stderrors "errors"
	"fmt"
)

// AnalysisStrategy defines the capability that every interchangeable
// analysis backend must implement. Backends are independent implementing
// types; composition happens over this interface, not a shared base type.
type AnalysisStrategy interface {
	// AnalyzeSymptoms analyzes structured symptoms and provides recommendations
	AnalyzeSymptoms(ctx context.Context, symptoms []Symptom, actx *AnalysisContext) (Result, error)

	// ProcessText processes raw medical history text
	ProcessText(ctx context.Context, text string, actx *AnalysisContext) (Result, error)

	// Name returns the backend identifier
	Name() string

	// Confidence returns the backend's fixed prior confidence in [0, 1]
	Confidence() float64
}

// Symptom is one structured symptom report
type Symptom struct {
	Symptom  string `json:"symptom"`
	Severity string `json:"severity,omitempty"`
	Duration string `json:"duration,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// AnalysisContext carries optional request-scoped hints for a backend
type AnalysisContext struct {
	PatientID string            `json:"patient_id,omitempty"`
	Language  string            `json:"language,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Result is a semantic mapping of named findings. Values are heterogeneous
// per backend (numeric scores, category lists, recommendation lists) but
// union-compatible by key.
type Result map[string]interface{}

// Result annotation keys shared by all composers and backends.
const (
	KeyStrategyUsed       = "strategy_used"
	KeyStrategyConfidence = "strategy_confidence"
	KeyContributors       = "contributing_strategies"
)

// Contributors returns the backend names a combined result was built from.
// Handles both the in-process slice and the JSON-decoded form a cache
// round-trip produces.
func (r Result) Contributors() []string {
	switch v := r[KeyContributors].(type) {
	case []string:
		return v
	case []interface{}:
		names := make([]string, 0, len(v))
		for _, item := range v {
			if name, ok := item.(string); ok {
				names = append(names, name)
			}
		}
		return names
	}
	return nil
}

// Annotate stamps the result with the strategy identity and confidence
func (r Result) Annotate(used string, confidence float64) Result {
	r[KeyStrategyUsed] = used
	r[KeyStrategyConfidence] = confidence
	return r
}

// Float returns the numeric value for a key when present. JSON decoding
// and weighted combination both produce float64 values.
func (r Result) Float(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// StrategyUnavailableError indicates a backend could not be constructed,
// typically because of missing credentials or an absent model. Composers
// exclude unavailable backends instead of failing at call time.
type StrategyUnavailableError struct {
	Strategy string
	Reason   string
}

func (e *StrategyUnavailableError) Error() string {
	return fmt.Sprintf("strategy %q unavailable: %s", e.Strategy, e.Reason)
}

// NewUnavailableError creates a StrategyUnavailableError
func NewUnavailableError(name, reason string) *StrategyUnavailableError {
	return &StrategyUnavailableError{Strategy: name, Reason: reason}
}

// IsUnavailable checks if an error marks a non-constructible strategy
func IsUnavailable(err error) bool {
	var suErr *StrategyUnavailableError
	return stderrors.As(err, &suErr)
}

// AllStrategiesFailedError indicates every candidate in a fallback chain or
// hybrid set failed
type AllStrategiesFailedError struct {
	Composer string
	Attempts int
	LastErr  error
}

func (e *AllStrategiesFailedError) Error() string {
	return fmt.Sprintf("all %d strategies failed in %s composer, last error: %v", e.Attempts, e.Composer, e.LastErr)
}

// Unwrap returns the last underlying error
func (e *AllStrategiesFailedError) Unwrap() error {
	return e.LastErr
}

// IsAllFailed checks if an error marks total composer failure
func IsAllFailed(err error) bool {
	var asErr *AllStrategiesFailedError
	return stderrors.As(err, &asErr)
}
