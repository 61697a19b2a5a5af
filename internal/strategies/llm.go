package strategies

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/respicare/ai-service/pkg/config"
	"github.com/respicare/ai-service/pkg/errors"
	"github.com/respicare/ai-service/pkg/logging"
	"github.com/respicare/ai-service/pkg/resilience"
	"github.com/respicare/ai-service/pkg/strategy"
)

const (
	llmConfidence = 0.9

	// BreakerLLM is the registry name of the LLM dependency's breaker
	BreakerLLM = "llm-api"
)

// LLMStrategy analyzes symptoms and medical text through a remote
// chat-completion API. Every call goes through a dedicated metered-API
// circuit breaker so quota and rate-limit trouble fails fast instead of
// burning through the account.
type LLMStrategy struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
	breaker *resilience.LLMCircuitBreaker
	logger  *logging.Logger
}

// NewLLMStrategy creates the remote LLM backend. Construction fails with a
// StrategyUnavailableError when no API key is configured.
func NewLLMStrategy(cfg *config.Config, breaker *resilience.LLMCircuitBreaker) (*LLMStrategy, error) {
	if !cfg.Strategies.LLMEnabled {
		return nil, strategy.NewUnavailableError("llm", "disabled by configuration")
	}
	if cfg.Strategies.LLMAPIKey == "" {
		return nil, strategy.NewUnavailableError("llm", "API key not configured")
	}

	if breaker == nil {
		breaker = resilience.NewLLMCircuitBreaker(resilience.LLMBreakerConfig{
			CircuitBreakerConfig: resilience.CircuitBreakerConfig{
				Name:             BreakerLLM,
				FailureThreshold: cfg.Resilience.FailureThreshold,
				SuccessThreshold: cfg.Resilience.SuccessThreshold,
				RecoveryTimeout:  cfg.Resilience.RecoveryTimeout,
			},
			RateLimitThreshold: cfg.Resilience.RateLimitThreshold,
		})
	}

	return &LLMStrategy{
		apiKey:  cfg.Strategies.LLMAPIKey,
		baseURL: strings.TrimRight(cfg.Strategies.LLMBaseURL, "/"),
		model:   cfg.Strategies.LLMModel,
		client:  &http.Client{Timeout: cfg.Resilience.CallTimeout},
		breaker: breaker,
		logger:  logging.GetLogger(),
	}, nil
}

// Name implements strategy.AnalysisStrategy
func (s *LLMStrategy) Name() string {
	return "llm"
}

// Confidence implements strategy.AnalysisStrategy
func (s *LLMStrategy) Confidence() float64 {
	return llmConfidence
}

// Breaker exposes the strategy's circuit breaker for health reporting
func (s *LLMStrategy) Breaker() *resilience.LLMCircuitBreaker {
	return s.breaker
}

// AnalyzeSymptoms implements strategy.AnalysisStrategy
func (s *LLMStrategy) AnalyzeSymptoms(ctx context.Context, symptoms []strategy.Symptom, actx *strategy.AnalysisContext) (strategy.Result, error) {
	prompt := symptomAnalysisPrompt(symptoms, actx)
	return s.complete(ctx, symptomSystemPrompt, prompt)
}

// ProcessText implements strategy.AnalysisStrategy
func (s *LLMStrategy) ProcessText(ctx context.Context, text string, actx *strategy.AnalysisContext) (strategy.Result, error) {
	prompt := medicalTextPrompt(text, actx)
	return s.complete(ctx, historySystemPrompt, prompt)
}

const symptomSystemPrompt = "You are a physician specialized in respiratory disease. " +
	"Analyze the reported symptoms and respond with a single JSON object containing " +
	"urgency_level (low|medium|high|critical), severity_score (0..1), categories (list), " +
	"recommendations (list) and warning_signs (list)."

const historySystemPrompt = "You are a specialist in medical history processing. " +
	"Extract structured information from the text and respond with a single JSON object " +
	"containing symptoms (list), risk_factors (list), diagnosis_suggestions (list), " +
	"severity_score (0..1) and recommendations (list)."

func (s *LLMStrategy) complete(ctx context.Context, system, prompt string) (strategy.Result, error) {
	result, err := s.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return s.chatCompletion(ctx, system, prompt)
	})
	if err != nil {
		return nil, err
	}
	return result.(strategy.Result), nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *LLMStrategy) chatCompletion(ctx context.Context, system, prompt string) (strategy.Result, error) {
	body, err := json.Marshal(chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   1000,
		Temperature: 0.3,
	})
	if err != nil {
		return nil, errors.NewInternalError("failed to encode LLM request").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewInternalError("failed to build LLM request").WithCause(err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewTimeoutError("llm-api").WithCause(err)
		}
		return nil, errors.NewExternalError("llm-api", "request failed").WithCause(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewExternalError("llm-api", "failed to read response").WithCause(err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, errors.NewExternalError("llm-api", "malformed response").WithCause(err)
	}

	if err := classifyProviderError(resp.StatusCode, &parsed); err != nil {
		return nil, err
	}

	if len(parsed.Choices) == 0 {
		return nil, errors.NewExternalError("llm-api", "empty completion")
	}

	return parseFindings(parsed.Choices[0].Message.Content), nil
}

// classifyProviderError maps provider responses onto the error taxonomy the
// LLM breaker understands: rate limits accumulate separately, quota and
// billing exhaustion open the circuit immediately.
func classifyProviderError(status int, parsed *chatResponse) error {
	code := ""
	message := ""
	if parsed.Error != nil {
		code = parsed.Error.Code
		message = parsed.Error.Message
	}

	switch {
	case status == http.StatusOK:
		return nil
	case code == "insufficient_quota" || code == "billing_hard_limit_reached":
		return errors.NewQuotaError("llm-api", code)
	case status == http.StatusTooManyRequests:
		return errors.NewRateLimitError("llm-api")
	case status >= 500:
		return errors.NewExternalError("llm-api", fmt.Sprintf("server error (%d): %s", status, message))
	default:
		return errors.NewExternalError("llm-api", fmt.Sprintf("API error (%d): %s", status, message))
	}
}

// parseFindings decodes the completion into a findings map. Completions that
// are not valid JSON are preserved under raw_response so the caller still
// gets something usable.
func parseFindings(content string) strategy.Result {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "{"); idx >= 0 {
		if end := strings.LastIndex(content, "}"); end > idx {
			var findings map[string]interface{}
			if err := json.Unmarshal([]byte(content[idx:end+1]), &findings); err == nil {
				findings["raw_response"] = content
				return strategy.Result(findings)
			}
		}
	}

	return strategy.Result{
		"raw_response": content,
		"parse_error":  true,
	}
}

func symptomAnalysisPrompt(symptoms []strategy.Symptom, actx *strategy.AnalysisContext) string {
	var b strings.Builder
	b.WriteString("Reported symptoms:\n")
	for i, sym := range symptoms {
		fmt.Fprintf(&b, "%d. %s", i+1, sym.Symptom)
		if sym.Severity != "" {
			fmt.Fprintf(&b, " (severity: %s)", sym.Severity)
		}
		if sym.Duration != "" {
			fmt.Fprintf(&b, " (duration: %s)", sym.Duration)
		}
		b.WriteString("\n")
	}
	appendContext(&b, actx)
	return b.String()
}

func medicalTextPrompt(text string, actx *strategy.AnalysisContext) string {
	var b strings.Builder
	b.WriteString("Medical history text:\n")
	b.WriteString(text)
	b.WriteString("\n")
	appendContext(&b, actx)
	return b.String()
}

func appendContext(b *strings.Builder, actx *strategy.AnalysisContext) {
	if actx == nil {
		return
	}
	if actx.Language != "" {
		fmt.Fprintf(b, "Respond in language: %s\n", actx.Language)
	}
	for key, value := range actx.Extra {
		fmt.Fprintf(b, "%s: %s\n", key, value)
	}
}

var _ strategy.AnalysisStrategy = (*LLMStrategy)(nil)
