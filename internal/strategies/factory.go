package strategies

import (
	"context"

	"github.com/respicare/ai-service/pkg/config"
	"github.com/respicare/ai-service/pkg/logging"
	"github.com/respicare/ai-service/pkg/resilience"
	"github.com/respicare/ai-service/pkg/strategy"
)

// Factory builds analysis strategies from configuration. Construction is
// best-effort: a backend that cannot be built (missing API key, disabled
// model) is skipped rather than failing the whole service, as long as at
// least one backend remains.
type Factory struct {
	cfg      *config.Config
	breakers *resilience.Registry
	logger   *logging.Logger
}

// NewFactory creates a strategy factory backed by the given breaker registry
func NewFactory(cfg *config.Config, breakers *resilience.Registry) *Factory {
	return &Factory{
		cfg:      cfg,
		breakers: breakers,
		logger:   logging.GetLogger(),
	}
}

// BuildBackends constructs every available leaf backend in priority order:
// LLM first, then the local model, then the rule engine. The rule engine has
// no external dependencies and always succeeds, so the slice is never empty.
func (f *Factory) BuildBackends(ctx context.Context) []strategy.AnalysisStrategy {
	backends := make([]strategy.AnalysisStrategy, 0, 3)

	llmBreaker := resilience.NewLLMCircuitBreaker(resilience.LLMBreakerConfig{
		CircuitBreakerConfig: resilience.CircuitBreakerConfig{
			Name:             BreakerLLM,
			FailureThreshold: f.cfg.Resilience.FailureThreshold,
			SuccessThreshold: f.cfg.Resilience.SuccessThreshold,
			RecoveryTimeout:  f.cfg.Resilience.RecoveryTimeout,
		},
		RateLimitThreshold: f.cfg.Resilience.RateLimitThreshold,
	})
	if llm, err := NewLLMStrategy(f.cfg, llmBreaker); err != nil {
		f.logger.LogStrategyEvent(ctx, "strategy_skipped", "llm", map[string]interface{}{"reason": err.Error()})
	} else {
		f.breakers.Register(BreakerLLM, llmBreaker.CircuitBreaker)
		backends = append(backends, llm)
	}

	localBreaker := resilience.NewExternalServiceCircuitBreaker(resilience.ExternalServiceBreakerConfig{
		CircuitBreakerConfig: resilience.CircuitBreakerConfig{
			Name:             BreakerLocalModel,
			FailureThreshold: f.cfg.Resilience.FailureThreshold,
			SuccessThreshold: f.cfg.Resilience.SuccessThreshold,
			RecoveryTimeout:  f.cfg.Resilience.RecoveryTimeout,
		},
		CallTimeout: f.cfg.Resilience.CallTimeout,
	})
	if local, err := NewLocalModelStrategy(f.cfg, localBreaker); err != nil {
		f.logger.LogStrategyEvent(ctx, "strategy_skipped", "local_model", map[string]interface{}{"reason": err.Error()})
	} else {
		f.breakers.Register(BreakerLocalModel, localBreaker.CircuitBreaker)
		backends = append(backends, local)
	}

	backends = append(backends, NewRuleBasedStrategy())
	return backends
}

// BuildComposer constructs the configured composer over the given backends.
// A hybrid with a single available backend collapses to fallback since
// weighting a lone backend adds nothing.
func (f *Factory) BuildComposer(backends []strategy.AnalysisStrategy) (strategy.AnalysisStrategy, error) {
	if f.cfg.Strategies.DefaultComposer == "hybrid" && len(backends) > 1 {
		weights := make([]float64, len(backends))
		for i, backend := range backends {
			weights[i] = f.weightFor(backend.Name())
		}
		return NewHybridStrategy(backends, weights)
	}

	return NewFallbackStrategy(backends...)
}

func (f *Factory) weightFor(name string) float64 {
	switch name {
	case "llm":
		return f.cfg.Strategies.LLMWeight
	case "local_model":
		return f.cfg.Strategies.LocalModelWeight
	case "rule_based":
		return f.cfg.Strategies.RuleBasedWeight
	default:
		return 0.1
	}
}
