// Package service wires the analysis strategies, resilience layer and
// persistence into the operations the API exposes.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/respicare/ai-service/internal/cache"
	"github.com/respicare/ai-service/internal/database"
	"github.com/respicare/ai-service/internal/pipeline"
	"github.com/respicare/ai-service/internal/strategies"
	"github.com/respicare/ai-service/pkg/config"
	"github.com/respicare/ai-service/pkg/errors"
	"github.com/respicare/ai-service/pkg/logging"
	"github.com/respicare/ai-service/pkg/metrics"
	"github.com/respicare/ai-service/pkg/resilience"
	"github.com/respicare/ai-service/pkg/strategy"
)

// Breaker name guarding the composed analysis operation as a whole.
// Individual backends carry their own breakers underneath.
const analysisBreakerName = "analysis-pipeline"

// HistoryStore persists medical history documents
type HistoryStore interface {
	Create(ctx context.Context, history *database.MedicalHistory) error
	ListByPatient(ctx context.Context, patientID string, page database.Page) ([]*database.MedicalHistory, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

// ResultStore persists analysis outcomes
type ResultStore interface {
	Create(ctx context.Context, result *database.AnalysisResult) error
	ListByPatient(ctx context.Context, patientID string, page database.Page) ([]*database.AnalysisResult, error)
}

// PatientStore records per-patient analysis activity
type PatientStore interface {
	Touch(ctx context.Context, externalID string) error
}

// Manager executes analysis operations through the cross-cutting pipeline
// and persists their outcomes
type Manager struct {
	cfg       *config.Config
	composer  strategy.AnalysisStrategy
	registry  *strategies.Registry
	breakers  *resilience.Registry
	histories HistoryStore
	results   ResultStore
	patients  PatientStore
	cache     *cache.Service
	metrics   *metrics.Metrics
	logger    *logging.Logger

	analyze pipeline.Handler
	process pipeline.Handler
}

// Deps carries the manager's constructor dependencies
type Deps struct {
	Config    *config.Config
	Composer  strategy.AnalysisStrategy
	Registry  *strategies.Registry
	Breakers  *resilience.Registry
	Histories HistoryStore
	Results   ResultStore
	Patients  PatientStore
	Cache     *cache.Service
	Metrics   *metrics.Metrics
}

// NewManager creates the service manager and composes the operation pipeline:
// audit logging outermost, then metrics, caching, the aggregate circuit
// breaker, and retries innermost.
func NewManager(deps Deps) *Manager {
	m := &Manager{
		cfg:       deps.Config,
		composer:  deps.Composer,
		registry:  deps.Registry,
		breakers:  deps.Breakers,
		histories: deps.Histories,
		results:   deps.Results,
		patients:  deps.Patients,
		cache:     deps.Cache,
		metrics:   deps.Metrics,
		logger:    logging.GetLogger(),
	}

	retryConfig := resilience.RetryConfig{
		MaxAttempts:       deps.Config.Resilience.RetryMaxAttempts,
		BaseDelay:         deps.Config.Resilience.RetryBaseDelay,
		MaxDelay:          deps.Config.Resilience.RetryMaxDelay,
		BackoffMultiplier: deps.Config.Resilience.RetryMultiplier,
		Jitter:            deps.Config.Resilience.RetryJitter,
	}

	layers := []pipeline.Middleware{
		pipeline.WithAuditLog(m.logger),
		pipeline.WithMetrics(deps.Metrics),
	}
	if deps.Cache != nil {
		layers = append(layers, pipeline.WithCache(deps.Cache, deps.Config.Resilience.CacheTTL))
	}
	layers = append(layers,
		pipeline.WithCircuitBreaker(deps.Breakers, analysisBreakerName),
		pipeline.WithRetry(retryConfig),
	)

	m.analyze = pipeline.Chain(m.runAnalyzeSymptoms, layers...)
	m.process = pipeline.Chain(m.runProcessText, layers...)

	return m
}

// analyzeArgs are the pipeline arguments for symptom analysis. The cache key
// derives from their JSON encoding.
type analyzeArgs struct {
	PatientID string             `json:"patient_id"`
	Symptoms  []strategy.Symptom `json:"symptoms"`
	Language  string             `json:"language,omitempty"`
}

type processArgs struct {
	PatientID string `json:"patient_id"`
	Text      string `json:"text"`
	Language  string `json:"language,omitempty"`
}

func (m *Manager) runAnalyzeSymptoms(ctx context.Context, req pipeline.Request) (strategy.Result, error) {
	args := req.Args.(analyzeArgs)
	return m.composer.AnalyzeSymptoms(ctx, args.Symptoms, &strategy.AnalysisContext{
		PatientID: args.PatientID,
		Language:  args.Language,
	})
}

func (m *Manager) runProcessText(ctx context.Context, req pipeline.Request) (strategy.Result, error) {
	args := req.Args.(processArgs)
	return m.composer.ProcessText(ctx, args.Text, &strategy.AnalysisContext{
		PatientID: args.PatientID,
		Language:  args.Language,
	})
}

// AnalyzeSymptoms runs symptom analysis for a patient and persists the result
func (m *Manager) AnalyzeSymptoms(ctx context.Context, patientID string, symptoms []strategy.Symptom, language string) (strategy.Result, error) {
	if err := validateSymptoms(patientID, symptoms); err != nil {
		return nil, err
	}

	result, err := m.analyze(ctx, pipeline.Request{
		Operation: "analyze_symptoms",
		Args: analyzeArgs{
			PatientID: patientID,
			Symptoms:  symptoms,
			Language:  language,
		},
	})
	m.recordStrategyOutcome(result, err)
	if err != nil {
		return nil, err
	}

	m.persistResult(ctx, patientID, "analyze_symptoms", result)
	m.bumpPatientActivity(ctx, patientID)
	return result, nil
}

// ProcessHistory extracts structured data from medical history text,
// persists the document and returns the extraction
func (m *Manager) ProcessHistory(ctx context.Context, patientID, text, language string) (strategy.Result, *database.MedicalHistory, error) {
	if err := m.validateHistoryText(patientID, text); err != nil {
		return nil, nil, err
	}

	result, err := m.process(ctx, pipeline.Request{
		Operation: "process_text",
		Args: processArgs{
			PatientID: patientID,
			Text:      text,
			Language:  language,
		},
	})
	m.recordStrategyOutcome(result, err)
	if err != nil {
		return nil, nil, err
	}

	used, _ := result[strategy.KeyStrategyUsed].(string)
	history := &database.MedicalHistory{
		PatientID:     patientID,
		HistoryText:   text,
		ProcessedData: database.JSONMap(result),
		StrategyUsed:  used,
	}
	if err := m.histories.Create(ctx, history); err != nil {
		// The analysis succeeded; persistence failure must not discard it.
		m.logger.LogError(ctx, err, "failed to persist medical history", map[string]interface{}{
			"patient_id": patientID,
		})
		return result, nil, nil
	}

	m.persistResult(ctx, patientID, "process_text", result)
	m.bumpPatientActivity(ctx, patientID)
	return result, history, nil
}

// GetPatientHistory returns a patient's medical history records
func (m *Manager) GetPatientHistory(ctx context.Context, patientID string, page database.Page) ([]*database.MedicalHistory, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, errors.NewValidationError("patient_id is required")
	}
	return m.histories.ListByPatient(ctx, patientID, page)
}

// DeleteHistory soft-deletes a medical history record
func (m *Manager) DeleteHistory(ctx context.Context, id uuid.UUID) error {
	return m.histories.SoftDelete(ctx, id)
}

// GetPatientResults returns a patient's persisted analysis results
func (m *Manager) GetPatientResults(ctx context.Context, patientID string, page database.Page) ([]*database.AnalysisResult, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, errors.NewValidationError("patient_id is required")
	}
	return m.results.ListByPatient(ctx, patientID, page)
}

// StrategyHealth returns the per-strategy execution bookkeeping
func (m *Manager) StrategyHealth() []strategies.Health {
	return m.registry.HealthReport()
}

// BreakerMetrics returns a snapshot of every registered circuit breaker
func (m *Manager) BreakerMetrics() []resilience.BreakerMetrics {
	return m.breakers.Metrics()
}

// ResetBreaker resets a named circuit breaker to the closed state
func (m *Manager) ResetBreaker(name string) error {
	cb, ok := m.breakers.Get(name)
	if !ok {
		return errors.NewNotFoundError("circuit breaker")
	}
	cb.Reset()
	m.logger.Warn("circuit breaker manually reset", "breaker", name)
	return nil
}

// ResetAllBreakers resets every registered circuit breaker to the closed state
func (m *Manager) ResetAllBreakers() {
	m.breakers.ResetAll()
	m.logger.Warn("all circuit breakers manually reset")
}

func (m *Manager) recordStrategyOutcome(result strategy.Result, err error) {
	if err != nil {
		if m.composer != nil {
			m.registry.RecordFailure(m.composer.Name(), err)
		}
		return
	}
	if used, ok := result[strategy.KeyStrategyUsed].(string); ok {
		m.registry.RecordSuccess(strings.TrimPrefix(used, "fallback_"))
	}
	// A combined result also credits every contributing backend.
	for _, name := range result.Contributors() {
		m.registry.RecordSuccess(name)
	}
}

func (m *Manager) persistResult(ctx context.Context, patientID, operation string, result strategy.Result) {
	used, _ := result[strategy.KeyStrategyUsed].(string)
	confidence, _ := result.Float(strategy.KeyStrategyConfidence)

	record := &database.AnalysisResult{
		PatientID:    patientID,
		Operation:    operation,
		Result:       database.JSONMap(result),
		StrategyUsed: used,
		Confidence:   confidence,
	}
	if err := m.results.Create(ctx, record); err != nil {
		m.logger.LogError(ctx, err, "failed to persist analysis result", map[string]interface{}{
			"patient_id": patientID,
			"operation":  operation,
		})
	}
}

func (m *Manager) bumpPatientActivity(ctx context.Context, patientID string) {
	if m.patients != nil {
		if err := m.patients.Touch(ctx, patientID); err != nil {
			m.logger.Debug("failed to record patient activity",
				"patient_id", patientID, "error", err.Error())
		}
	}
	if m.cache == nil {
		return
	}
	if _, err := m.cache.Increment(ctx, cache.PatientActivityKey(patientID), 1, 24*time.Hour); err != nil {
		m.logger.Debug("failed to bump patient activity counter",
			"patient_id", patientID, "error", err.Error())
	}
}

func validateSymptoms(patientID string, symptoms []strategy.Symptom) error {
	if strings.TrimSpace(patientID) == "" {
		return errors.NewValidationError("patient_id is required")
	}
	if len(symptoms) == 0 {
		return errors.NewValidationError("at least one symptom is required")
	}
	for _, sym := range symptoms {
		if strings.TrimSpace(sym.Symptom) == "" {
			return errors.NewValidationError("symptom name must not be empty")
		}
	}
	return nil
}

func (m *Manager) validateHistoryText(patientID, text string) error {
	if strings.TrimSpace(patientID) == "" {
		return errors.NewValidationError("patient_id is required")
	}
	if strings.TrimSpace(text) == "" {
		return errors.NewValidationError("history text is required")
	}
	if max := m.cfg.Strategies.MaxTextLength; max > 0 && len(text) > max {
		return errors.NewValidationError("history text exceeds maximum length")
	}
	return nil
}
