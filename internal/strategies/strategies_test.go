package strategies

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/respicare/ai-service/pkg/config"
	"github.com/respicare/ai-service/pkg/resilience"
	"github.com/respicare/ai-service/pkg/strategy"
)

// stubStrategy is a scriptable backend for composer tests
type stubStrategy struct {
	name       string
	confidence float64
	result     strategy.Result
	err        error
	calls      atomic.Int32
	delay      time.Duration
}

func (s *stubStrategy) Name() string        { return s.name }
func (s *stubStrategy) Confidence() float64 { return s.confidence }

func (s *stubStrategy) AnalyzeSymptoms(ctx context.Context, _ []strategy.Symptom, _ *strategy.AnalysisContext) (strategy.Result, error) {
	return s.respond(ctx)
}

func (s *stubStrategy) ProcessText(ctx context.Context, _ string, _ *strategy.AnalysisContext) (strategy.Result, error) {
	return s.respond(ctx)
}

func (s *stubStrategy) respond(ctx context.Context) (strategy.Result, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	out := strategy.Result{}
	for k, v := range s.result {
		out[k] = v
	}
	return out, nil
}

func TestFallbackStrategy_FirstSuccessWins(t *testing.T) {
	a := &stubStrategy{name: "a", confidence: 0.9, err: errors.New("a down")}
	b := &stubStrategy{name: "b", confidence: 0.8, result: strategy.Result{"urgency_level": "low"}}
	c := &stubStrategy{name: "c", confidence: 0.7, result: strategy.Result{"urgency_level": "high"}}

	fb, err := NewFallbackStrategy(a, b, c)
	require.NoError(t, err)

	result, err := fb.AnalyzeSymptoms(context.Background(), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "low", result["urgency_level"])
	assert.Equal(t, "fallback_b", result[strategy.KeyStrategyUsed])
	assert.Equal(t, 0.8, result[strategy.KeyStrategyConfidence])
	assert.Equal(t, int32(0), c.calls.Load(), "later backends should not run once one succeeds")
}

func TestFallbackStrategy_AllFail(t *testing.T) {
	a := &stubStrategy{name: "a", confidence: 0.9, err: errors.New("a down")}
	b := &stubStrategy{name: "b", confidence: 0.8, err: errors.New("b down")}

	fb, err := NewFallbackStrategy(a, b)
	require.NoError(t, err)

	_, err = fb.ProcessText(context.Background(), "text", nil)
	require.Error(t, err)
	assert.True(t, strategy.IsAllFailed(err))

	var allErr *strategy.AllStrategiesFailedError
	require.ErrorAs(t, err, &allErr)
	assert.Equal(t, 2, allErr.Attempts)
	assert.EqualError(t, allErr.LastErr, "b down")
}

func TestFallbackStrategy_NoBackends(t *testing.T) {
	_, err := NewFallbackStrategy()
	assert.True(t, strategy.IsUnavailable(err))
}

func TestFallbackStrategy_ContextCanceled(t *testing.T) {
	a := &stubStrategy{name: "a", confidence: 0.9, result: strategy.Result{"x": 1.0}}

	fb, err := NewFallbackStrategy(a)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = fb.AnalyzeSymptoms(ctx, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), a.calls.Load())
}

func TestHybridStrategy_WeightedNumericCombination(t *testing.T) {
	a := &stubStrategy{name: "a", confidence: 0.9, result: strategy.Result{"severity_score": 10.0}}
	b := &stubStrategy{name: "b", confidence: 0.8, result: strategy.Result{"severity_score": 20.0}}

	hy, err := NewHybridStrategy([]strategy.AnalysisStrategy{a, b}, []float64{0.6, 0.4})
	require.NoError(t, err)

	result, err := hy.AnalyzeSymptoms(context.Background(), nil, nil)
	require.NoError(t, err)

	score, ok := result.Float("severity_score")
	require.True(t, ok)
	assert.InDelta(t, 14.0, score, 1e-9)
	assert.Equal(t, "hybrid", result[strategy.KeyStrategyUsed])
	assert.Equal(t, 0.85, result[strategy.KeyStrategyConfidence])
	assert.ElementsMatch(t, []string{"a", "b"}, result["contributing_strategies"])
}

func TestHybridStrategy_NonNumericHighestWeightWins(t *testing.T) {
	a := &stubStrategy{name: "a", confidence: 0.9, result: strategy.Result{"urgency_level": "high"}}
	b := &stubStrategy{name: "b", confidence: 0.8, result: strategy.Result{"urgency_level": "low"}}

	hy, err := NewHybridStrategy([]strategy.AnalysisStrategy{a, b}, []float64{0.7, 0.3})
	require.NoError(t, err)

	result, err := hy.ProcessText(context.Background(), "text", nil)
	require.NoError(t, err)
	assert.Equal(t, "high", result["urgency_level"])
}

func TestHybridStrategy_RenormalizesOnPartialFailure(t *testing.T) {
	a := &stubStrategy{name: "a", confidence: 0.9, err: errors.New("a down")}
	b := &stubStrategy{name: "b", confidence: 0.8, result: strategy.Result{"severity_score": 20.0}}

	hy, err := NewHybridStrategy([]strategy.AnalysisStrategy{a, b}, []float64{0.6, 0.4})
	require.NoError(t, err)

	result, err := hy.AnalyzeSymptoms(context.Background(), nil, nil)
	require.NoError(t, err)

	// b is the only contributor, so its weight renormalizes to 1.0.
	score, ok := result.Float("severity_score")
	require.True(t, ok)
	assert.InDelta(t, 20.0, score, 1e-9)
}

func TestHybridStrategy_AllFail(t *testing.T) {
	a := &stubStrategy{name: "a", confidence: 0.9, err: errors.New("a down")}
	b := &stubStrategy{name: "b", confidence: 0.8, err: errors.New("b down")}

	hy, err := NewHybridStrategy([]strategy.AnalysisStrategy{a, b}, []float64{0.5, 0.5})
	require.NoError(t, err)

	_, err = hy.AnalyzeSymptoms(context.Background(), nil, nil)
	assert.True(t, strategy.IsAllFailed(err))
}

func TestHybridStrategy_InvalidConstruction(t *testing.T) {
	a := &stubStrategy{name: "a", confidence: 0.9}

	tests := []struct {
		name     string
		backends []strategy.AnalysisStrategy
		weights  []float64
	}{
		{name: "no backends", backends: nil, weights: nil},
		{name: "mismatched weights", backends: []strategy.AnalysisStrategy{a}, weights: []float64{0.5, 0.5}},
		{name: "non-positive weight", backends: []strategy.AnalysisStrategy{a}, weights: []float64{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHybridStrategy(tt.backends, tt.weights)
			assert.True(t, strategy.IsUnavailable(err))
		})
	}
}

func TestHybridStrategy_CancellationPropagates(t *testing.T) {
	slow := &stubStrategy{name: "slow", confidence: 0.9, delay: 5 * time.Second, result: strategy.Result{"x": 1.0}}

	hy, err := NewHybridStrategy([]strategy.AnalysisStrategy{slow}, []float64{1.0})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = hy.AnalyzeSymptoms(ctx, nil, nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "cancellation should not wait for the slow backend")
}

func TestRuleBasedStrategy_AnalyzeSymptoms(t *testing.T) {
	rb := NewRuleBasedStrategy()

	symptoms := []strategy.Symptom{
		{Symptom: "severe shortness of breath", Severity: "severe"},
		{Symptom: "chest pain", Severity: "moderate"},
	}

	result, err := rb.AnalyzeSymptoms(context.Background(), symptoms, nil)
	require.NoError(t, err)

	assert.Contains(t, []string{"high", "critical"}, result["urgency_level"])
	score, ok := result.Float("severity_score")
	require.True(t, ok)
	assert.Greater(t, score, 0.5)
	assert.NotEmpty(t, result["recommendations"])
}

func TestRuleBasedStrategy_EmptySymptoms(t *testing.T) {
	rb := NewRuleBasedStrategy()

	result, err := rb.AnalyzeSymptoms(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "low", result["urgency_level"])
}

func TestRuleBasedStrategy_ProcessText(t *testing.T) {
	rb := NewRuleBasedStrategy()

	text := "Patient is a smoker and reports persistent cough and wheezing for two weeks."
	result, err := rb.ProcessText(context.Background(), text, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, result["symptoms"])
	assert.Contains(t, result["risk_factors"], "smoker")
}

func TestLLMStrategy_RequiresAPIKey(t *testing.T) {
	cfg := testConfig()
	cfg.Strategies.LLMEnabled = true
	cfg.Strategies.LLMAPIKey = ""

	_, err := NewLLMStrategy(cfg, nil)
	assert.True(t, strategy.IsUnavailable(err))
}

func TestLocalModelStrategy_RequiresURL(t *testing.T) {
	cfg := testConfig()
	cfg.Strategies.LocalModelURL = ""

	_, err := NewLocalModelStrategy(cfg, nil)
	assert.True(t, strategy.IsUnavailable(err))
}

func TestFactory_BuildBackends(t *testing.T) {
	cfg := testConfig()
	cfg.Strategies.LLMEnabled = false
	cfg.Strategies.LocalModelEnabled = true

	factory := NewFactory(cfg, resilience.NewRegistry(resilience.CircuitBreakerConfig{}))
	backends := factory.BuildBackends(context.Background())

	require.Len(t, backends, 2)
	assert.Equal(t, "local_model", backends[0].Name())
	assert.Equal(t, "rule_based", backends[1].Name())
}

func TestFactory_RuleEngineAlwaysAvailable(t *testing.T) {
	cfg := testConfig()
	cfg.Strategies.LLMEnabled = false
	cfg.Strategies.LocalModelEnabled = false

	factory := NewFactory(cfg, resilience.NewRegistry(resilience.CircuitBreakerConfig{}))
	backends := factory.BuildBackends(context.Background())

	require.Len(t, backends, 1)
	assert.Equal(t, "rule_based", backends[0].Name())
}

func TestFactory_BuildComposer(t *testing.T) {
	cfg := testConfig()
	cfg.Strategies.LLMEnabled = false
	cfg.Strategies.DefaultComposer = "hybrid"

	factory := NewFactory(cfg, resilience.NewRegistry(resilience.CircuitBreakerConfig{}))
	backends := factory.BuildBackends(context.Background())
	composer, err := factory.BuildComposer(backends)
	require.NoError(t, err)
	assert.Equal(t, "hybrid", composer.Name())

	cfg.Strategies.DefaultComposer = "fallback"
	composer, err = factory.BuildComposer(backends)
	require.NoError(t, err)
	assert.Equal(t, "fallback", composer.Name())
}

func TestRegistry_HealthBookkeeping(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewRuleBasedStrategy())

	reg.RecordSuccess("rule_based")
	reg.RecordFailure("rule_based", errors.New("boom"))

	report := reg.HealthReport()
	require.Len(t, report, 1)
	assert.Equal(t, "rule_based", report[0].Name)
	assert.Equal(t, int64(2), report[0].Calls)
	assert.Equal(t, int64(1), report[0].Failures)
	assert.Equal(t, "boom", report[0].LastError)
	assert.Equal(t, []string{"rule_based"}, reg.Names())
}

func testConfig() *config.Config {
	return &config.Config{
		Resilience: config.ResilienceConfig{
			FailureThreshold:   3,
			SuccessThreshold:   2,
			RecoveryTimeout:    time.Minute,
			RateLimitThreshold: 2,
			CallTimeout:        time.Second,
		},
		Strategies: config.StrategiesConfig{
			LLMEnabled:        true,
			LLMAPIKey:         "test-key",
			LLMBaseURL:        "https://api.openai.com/v1",
			LLMModel:          "gpt-3.5-turbo",
			LLMWeight:         0.4,
			LocalModelEnabled: true,
			LocalModelURL:     "http://localhost:9000",
			LocalModelWeight:  0.3,
			RuleBasedWeight:   0.3,
			DefaultComposer:   "fallback",
			MaxTextLength:     10000,
		},
	}
}
