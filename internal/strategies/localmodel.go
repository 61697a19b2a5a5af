package strategies

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/respicare/ai-service/pkg/config"
	"github.com/respicare/ai-service/pkg/errors"
	"github.com/respicare/ai-service/pkg/logging"
	"github.com/respicare/ai-service/pkg/resilience"
	"github.com/respicare/ai-service/pkg/strategy"
)

const (
	localModelConfidence         = 0.8
	localModelDegradedConfidence = 0.3

	// BreakerLocalModel is the registry name of the local model's breaker
	BreakerLocalModel = "local-model"
)

// LocalModelStrategy runs analysis against a self-hosted inference service.
// When the service reports it is running a reduced model (for example a
// quantized fallback after an OOM restart), the strategy drops into degraded
// mode and advertises a much lower confidence.
type LocalModelStrategy struct {
	baseURL  string
	client   *http.Client
	breaker  *resilience.ExternalServiceCircuitBreaker
	degraded atomic.Bool
	logger   *logging.Logger
}

// NewLocalModelStrategy creates the local inference backend
func NewLocalModelStrategy(cfg *config.Config, breaker *resilience.ExternalServiceCircuitBreaker) (*LocalModelStrategy, error) {
	if !cfg.Strategies.LocalModelEnabled {
		return nil, strategy.NewUnavailableError("local_model", "disabled by configuration")
	}
	if cfg.Strategies.LocalModelURL == "" {
		return nil, strategy.NewUnavailableError("local_model", "inference URL not configured")
	}

	if breaker == nil {
		breaker = resilience.NewExternalServiceCircuitBreaker(resilience.ExternalServiceBreakerConfig{
			CircuitBreakerConfig: resilience.CircuitBreakerConfig{
				Name:             BreakerLocalModel,
				FailureThreshold: cfg.Resilience.FailureThreshold,
				SuccessThreshold: cfg.Resilience.SuccessThreshold,
				RecoveryTimeout:  cfg.Resilience.RecoveryTimeout,
			},
			CallTimeout: cfg.Resilience.CallTimeout,
		})
	}

	return &LocalModelStrategy{
		baseURL: strings.TrimRight(cfg.Strategies.LocalModelURL, "/"),
		client:  &http.Client{},
		breaker: breaker,
		logger:  logging.GetLogger(),
	}, nil
}

// Name implements strategy.AnalysisStrategy
func (s *LocalModelStrategy) Name() string {
	return "local_model"
}

// Confidence implements strategy.AnalysisStrategy. Degraded mode reports a
// reduced confidence so composers weigh this backend accordingly.
func (s *LocalModelStrategy) Confidence() float64 {
	if s.degraded.Load() {
		return localModelDegradedConfidence
	}
	return localModelConfidence
}

// Degraded reports whether the backing service is running a reduced model
func (s *LocalModelStrategy) Degraded() bool {
	return s.degraded.Load()
}

// Breaker exposes the strategy's circuit breaker for health reporting
func (s *LocalModelStrategy) Breaker() *resilience.ExternalServiceCircuitBreaker {
	return s.breaker
}

// AnalyzeSymptoms implements strategy.AnalysisStrategy
func (s *LocalModelStrategy) AnalyzeSymptoms(ctx context.Context, symptoms []strategy.Symptom, actx *strategy.AnalysisContext) (strategy.Result, error) {
	return s.infer(ctx, "/v1/analyze/symptoms", inferenceRequest{
		Symptoms: symptoms,
		Context:  actx,
	})
}

// ProcessText implements strategy.AnalysisStrategy
func (s *LocalModelStrategy) ProcessText(ctx context.Context, text string, actx *strategy.AnalysisContext) (strategy.Result, error) {
	return s.infer(ctx, "/v1/analyze/text", inferenceRequest{
		Text:    text,
		Context: actx,
	})
}

type inferenceRequest struct {
	Symptoms []strategy.Symptom        `json:"symptoms,omitempty"`
	Text     string                    `json:"text,omitempty"`
	Context  *strategy.AnalysisContext `json:"context,omitempty"`
}

type inferenceResponse struct {
	Findings      map[string]interface{} `json:"findings"`
	ModelDegraded bool                   `json:"model_degraded"`
	Error         string                 `json:"error"`
}

func (s *LocalModelStrategy) infer(ctx context.Context, path string, req inferenceRequest) (strategy.Result, error) {
	result, err := s.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return s.post(ctx, path, req)
	})
	if err != nil {
		return nil, err
	}
	return result.(strategy.Result), nil
}

func (s *LocalModelStrategy) post(ctx context.Context, path string, payload inferenceRequest) (strategy.Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode inference request").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewInternalError("failed to build inference request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.NewExternalError("local-model", "request failed").WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewExternalError("local-model", "failed to read response").WithCause(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewExternalError("local-model", fmt.Sprintf("inference failed (%d)", resp.StatusCode))
	}

	var parsed inferenceResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.NewExternalError("local-model", "malformed response").WithCause(err)
	}
	if parsed.Error != "" {
		return nil, errors.NewExternalError("local-model", parsed.Error)
	}

	if parsed.ModelDegraded != s.degraded.Load() {
		s.degraded.Store(parsed.ModelDegraded)
		s.logger.Warn("local model degraded state changed", "degraded", parsed.ModelDegraded)
	}

	return strategy.Result(parsed.Findings), nil
}

var _ strategy.AnalysisStrategy = (*LocalModelStrategy)(nil)
