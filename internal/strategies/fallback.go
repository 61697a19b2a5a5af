package strategies

import (
	"context"

	"github.com/respicare/ai-service/pkg/logging"
	"github.com/respicare/ai-service/pkg/strategy"
)

const fallbackConfidence = 0.8

// FallbackStrategy tries its backends in priority order and returns the
// first successful result, annotated with the backend that produced it.
// It is itself an AnalysisStrategy, so composers nest.
type FallbackStrategy struct {
	backends []strategy.AnalysisStrategy
	logger   *logging.Logger
}

// NewFallbackStrategy creates a fallback chain over the given backends,
// in the order given. At least one backend is required.
func NewFallbackStrategy(backends ...strategy.AnalysisStrategy) (*FallbackStrategy, error) {
	if len(backends) == 0 {
		return nil, strategy.NewUnavailableError("fallback", "no backends available")
	}
	return &FallbackStrategy{
		backends: backends,
		logger:   logging.GetLogger(),
	}, nil
}

// Name implements strategy.AnalysisStrategy
func (s *FallbackStrategy) Name() string {
	return "fallback"
}

// Confidence implements strategy.AnalysisStrategy
func (s *FallbackStrategy) Confidence() float64 {
	return fallbackConfidence
}

// Backends returns the chain in priority order
func (s *FallbackStrategy) Backends() []strategy.AnalysisStrategy {
	return s.backends
}

// AnalyzeSymptoms implements strategy.AnalysisStrategy
func (s *FallbackStrategy) AnalyzeSymptoms(ctx context.Context, symptoms []strategy.Symptom, actx *strategy.AnalysisContext) (strategy.Result, error) {
	return s.run(ctx, func(ctx context.Context, backend strategy.AnalysisStrategy) (strategy.Result, error) {
		return backend.AnalyzeSymptoms(ctx, symptoms, actx)
	})
}

// ProcessText implements strategy.AnalysisStrategy
func (s *FallbackStrategy) ProcessText(ctx context.Context, text string, actx *strategy.AnalysisContext) (strategy.Result, error) {
	return s.run(ctx, func(ctx context.Context, backend strategy.AnalysisStrategy) (strategy.Result, error) {
		return backend.ProcessText(ctx, text, actx)
	})
}

func (s *FallbackStrategy) run(ctx context.Context, call func(context.Context, strategy.AnalysisStrategy) (strategy.Result, error)) (strategy.Result, error) {
	var lastErr error

	for _, backend := range s.backends {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := call(ctx, backend)
		if err != nil {
			lastErr = err
			s.logger.LogStrategyEvent(ctx, "strategy_failed", backend.Name(), map[string]interface{}{
				"composer": s.Name(),
				"error":    err.Error(),
			})
			continue
		}

		return result.Annotate("fallback_"+backend.Name(), backend.Confidence()), nil
	}

	return nil, &strategy.AllStrategiesFailedError{
		Composer: s.Name(),
		Attempts: len(s.backends),
		LastErr:  lastErr,
	}
}

var _ strategy.AnalysisStrategy = (*FallbackStrategy)(nil)
