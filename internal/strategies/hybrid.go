package strategies

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/respicare/ai-service/pkg/logging"
	"github.com/respicare/ai-service/pkg/strategy"
)

const hybridConfidence = 0.85

// HybridStrategy fans a request out to all its backends concurrently and
// combines the successful results by weight: numeric keys become weighted
// sums, non-numeric keys take the value from the highest-weighted backend
// that produced one. Weights are renormalized over the backends that
// actually succeeded.
type HybridStrategy struct {
	backends []weightedBackend
	logger   *logging.Logger
}

type weightedBackend struct {
	strategy strategy.AnalysisStrategy
	weight   float64
}

// NewHybridStrategy creates a hybrid composer. Backends with non-positive
// weights are rejected, and at least one backend is required.
func NewHybridStrategy(backends []strategy.AnalysisStrategy, weights []float64) (*HybridStrategy, error) {
	if len(backends) == 0 {
		return nil, strategy.NewUnavailableError("hybrid", "no backends available")
	}
	if len(backends) != len(weights) {
		return nil, strategy.NewUnavailableError("hybrid", "backend and weight counts differ")
	}

	wb := make([]weightedBackend, 0, len(backends))
	for i, backend := range backends {
		if weights[i] <= 0 {
			return nil, strategy.NewUnavailableError("hybrid", "weights must be positive")
		}
		wb = append(wb, weightedBackend{strategy: backend, weight: weights[i]})
	}

	return &HybridStrategy{
		backends: wb,
		logger:   logging.GetLogger(),
	}, nil
}

// Name implements strategy.AnalysisStrategy
func (s *HybridStrategy) Name() string {
	return "hybrid"
}

// Confidence implements strategy.AnalysisStrategy
func (s *HybridStrategy) Confidence() float64 {
	return hybridConfidence
}

// AnalyzeSymptoms implements strategy.AnalysisStrategy
func (s *HybridStrategy) AnalyzeSymptoms(ctx context.Context, symptoms []strategy.Symptom, actx *strategy.AnalysisContext) (strategy.Result, error) {
	return s.run(ctx, func(ctx context.Context, backend strategy.AnalysisStrategy) (strategy.Result, error) {
		return backend.AnalyzeSymptoms(ctx, symptoms, actx)
	})
}

// ProcessText implements strategy.AnalysisStrategy
func (s *HybridStrategy) ProcessText(ctx context.Context, text string, actx *strategy.AnalysisContext) (strategy.Result, error) {
	return s.run(ctx, func(ctx context.Context, backend strategy.AnalysisStrategy) (strategy.Result, error) {
		return backend.ProcessText(ctx, text, actx)
	})
}

type hybridOutcome struct {
	result strategy.Result
	weight float64
	name   string
}

func (s *HybridStrategy) run(ctx context.Context, call func(context.Context, strategy.AnalysisStrategy) (strategy.Result, error)) (strategy.Result, error) {
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	outcomes := make([]hybridOutcome, 0, len(s.backends))
	var lastErr error

	for _, wb := range s.backends {
		wb := wb
		g.Go(func() error {
			result, err := call(gctx, wb.strategy)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				lastErr = err
				s.logger.LogStrategyEvent(gctx, "strategy_failed", wb.strategy.Name(), map[string]interface{}{
					"composer": s.Name(),
					"error":    err.Error(),
				})
				// Individual failures do not abort the group; the hybrid
				// combines whatever succeeded.
				return nil
			}
			outcomes = append(outcomes, hybridOutcome{result: result, weight: wb.weight, name: wb.strategy.Name()})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(outcomes) == 0 {
		return nil, &strategy.AllStrategiesFailedError{
			Composer: s.Name(),
			Attempts: len(s.backends),
			LastErr:  lastErr,
		}
	}

	return s.combine(outcomes).Annotate(s.Name(), hybridConfidence), nil
}

// combine merges the successful results. Weights are renormalized over the
// contributing backends so partial failure still yields a well-scaled sum.
func (s *HybridStrategy) combine(outcomes []hybridOutcome) strategy.Result {
	var total float64
	for _, o := range outcomes {
		total += o.weight
	}

	combined := strategy.Result{}
	contributorWeight := map[string]float64{}
	contributors := make([]string, 0, len(outcomes))

	for _, o := range outcomes {
		w := o.weight / total
		contributors = append(contributors, o.name)

		for key, value := range o.result {
			if key == strategy.KeyStrategyUsed || key == strategy.KeyStrategyConfidence {
				continue
			}

			if num, ok := o.result.Float(key); ok {
				if existing, ok := combined.Float(key); ok {
					combined[key] = existing + w*num
				} else {
					combined[key] = w * num
				}
				continue
			}

			// Non-numeric: the highest-weighted contributor wins.
			if w > contributorWeight[key] {
				combined[key] = value
				contributorWeight[key] = w
			}
		}
	}

	combined[strategy.KeyContributors] = contributors
	return combined
}

var _ strategy.AnalysisStrategy = (*HybridStrategy)(nil)
