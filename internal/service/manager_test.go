package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/respicare/ai-service/internal/database"
	"github.com/respicare/ai-service/internal/strategies"
	"github.com/respicare/ai-service/pkg/config"
	"github.com/respicare/ai-service/pkg/errors"
	"github.com/respicare/ai-service/pkg/metrics"
	"github.com/respicare/ai-service/pkg/resilience"
	"github.com/respicare/ai-service/pkg/strategy"
)

type fakeHistoryStore struct {
	histories []*database.MedicalHistory
	createErr error
}

func (s *fakeHistoryStore) Create(_ context.Context, history *database.MedicalHistory) error {
	if s.createErr != nil {
		return s.createErr
	}
	if history.ID == uuid.Nil {
		history.ID = uuid.New()
	}
	s.histories = append(s.histories, history)
	return nil
}

func (s *fakeHistoryStore) ListByPatient(_ context.Context, patientID string, _ database.Page) ([]*database.MedicalHistory, error) {
	var out []*database.MedicalHistory
	for _, h := range s.histories {
		if h.PatientID == patientID && h.DeletedAt == nil {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *fakeHistoryStore) SoftDelete(_ context.Context, id uuid.UUID) error {
	for _, h := range s.histories {
		if h.ID == id && h.DeletedAt == nil {
			now := time.Now()
			h.DeletedAt = &now
			return nil
		}
	}
	return errors.NewNotFoundError("medical history")
}

type fakeResultStore struct {
	results []*database.AnalysisResult
}

func (s *fakeResultStore) Create(_ context.Context, result *database.AnalysisResult) error {
	if result.ID == uuid.Nil {
		result.ID = uuid.New()
	}
	s.results = append(s.results, result)
	return nil
}

func (s *fakeResultStore) ListByPatient(_ context.Context, patientID string, _ database.Page) ([]*database.AnalysisResult, error) {
	var out []*database.AnalysisResult
	for _, r := range s.results {
		if r.PatientID == patientID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakePatientStore struct {
	touched map[string]int
}

func (s *fakePatientStore) Touch(_ context.Context, externalID string) error {
	if s.touched == nil {
		s.touched = map[string]int{}
	}
	s.touched[externalID]++
	return nil
}

type scriptedComposer struct {
	name   string
	result strategy.Result
	err    error
}

func (c *scriptedComposer) Name() string        { return c.name }
func (c *scriptedComposer) Confidence() float64 { return 0.8 }

func (c *scriptedComposer) AnalyzeSymptoms(context.Context, []strategy.Symptom, *strategy.AnalysisContext) (strategy.Result, error) {
	return c.respond()
}

func (c *scriptedComposer) ProcessText(context.Context, string, *strategy.AnalysisContext) (strategy.Result, error) {
	return c.respond()
}

func (c *scriptedComposer) respond() (strategy.Result, error) {
	if c.err != nil {
		return nil, c.err
	}
	out := strategy.Result{}
	for k, v := range c.result {
		out[k] = v
	}
	return out, nil
}

func managerConfig() *config.Config {
	return &config.Config{
		Resilience: config.ResilienceConfig{
			FailureThreshold: 3,
			SuccessThreshold: 2,
			RecoveryTimeout:  time.Minute,
			RetryMaxAttempts: 1,
			RetryBaseDelay:   time.Millisecond,
			RetryMaxDelay:    10 * time.Millisecond,
			RetryMultiplier:  2.0,
			CacheTTL:         time.Minute,
		},
		Strategies: config.StrategiesConfig{
			MaxTextLength: 100,
		},
	}
}

func newTestManager(composer strategy.AnalysisStrategy) (*Manager, *fakeHistoryStore, *fakeResultStore) {
	histories := &fakeHistoryStore{}
	results := &fakeResultStore{}

	registry := strategies.NewRegistry()
	registry.Register(strategies.NewRuleBasedStrategy())
	registry.Register(composer)

	m := NewManager(Deps{
		Config:    managerConfig(),
		Composer:  composer,
		Registry:  registry,
		Breakers:  resilience.NewRegistry(resilience.CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, RecoveryTimeout: time.Minute}),
		Histories: histories,
		Results:   results,
		Metrics:   &metrics.Metrics{},
	})
	return m, histories, results
}

func TestManager_AnalyzeSymptomsPersistsResult(t *testing.T) {
	composer := &scriptedComposer{
		name:   "fallback",
		result: strategy.Result{"urgency_level": "low"}.Annotate("fallback_rule_based", 0.7),
	}
	m, _, results := newTestManager(composer)

	result, err := m.AnalyzeSymptoms(context.Background(), "p-1", []strategy.Symptom{{Symptom: "cough"}}, "")
	require.NoError(t, err)
	assert.Equal(t, "low", result["urgency_level"])

	require.Len(t, results.results, 1)
	stored := results.results[0]
	assert.Equal(t, "p-1", stored.PatientID)
	assert.Equal(t, "analyze_symptoms", stored.Operation)
	assert.Equal(t, "fallback_rule_based", stored.StrategyUsed)
	assert.Equal(t, 0.7, stored.Confidence)
}

func TestManager_AnalyzeSymptomsRecordsPatientActivity(t *testing.T) {
	composer := &scriptedComposer{
		name:   "fallback",
		result: strategy.Result{}.Annotate("fallback_rule_based", 0.7),
	}
	patients := &fakePatientStore{}

	registry := strategies.NewRegistry()
	registry.Register(strategies.NewRuleBasedStrategy())
	m := NewManager(Deps{
		Config:    managerConfig(),
		Composer:  composer,
		Registry:  registry,
		Breakers:  resilience.NewRegistry(resilience.CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, RecoveryTimeout: time.Minute}),
		Histories: &fakeHistoryStore{},
		Results:   &fakeResultStore{},
		Patients:  patients,
		Metrics:   &metrics.Metrics{},
	})

	_, err := m.AnalyzeSymptoms(context.Background(), "p-9", []strategy.Symptom{{Symptom: "cough"}}, "")
	require.NoError(t, err)
	_, err = m.AnalyzeSymptoms(context.Background(), "p-9", []strategy.Symptom{{Symptom: "fever"}}, "")
	require.NoError(t, err)

	assert.Equal(t, 2, patients.touched["p-9"])
}

func TestManager_AnalyzeSymptomsValidation(t *testing.T) {
	m, _, _ := newTestManager(&scriptedComposer{name: "fallback", result: strategy.Result{}})

	tests := []struct {
		name      string
		patientID string
		symptoms  []strategy.Symptom
	}{
		{name: "missing patient", patientID: "", symptoms: []strategy.Symptom{{Symptom: "cough"}}},
		{name: "no symptoms", patientID: "p-1", symptoms: nil},
		{name: "blank symptom", patientID: "p-1", symptoms: []strategy.Symptom{{Symptom: "  "}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.AnalyzeSymptoms(context.Background(), tt.patientID, tt.symptoms, "")
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
		})
	}
}

func TestManager_ProcessHistoryPersistsDocument(t *testing.T) {
	composer := &scriptedComposer{
		name:   "fallback",
		result: strategy.Result{"symptoms": []interface{}{"cough"}}.Annotate("fallback_rule_based", 0.7),
	}
	m, histories, results := newTestManager(composer)

	result, history, err := m.ProcessHistory(context.Background(), "p-1", "patient reports cough", "")
	require.NoError(t, err)
	require.NotNil(t, history)
	assert.NotEqual(t, uuid.Nil, history.ID)
	assert.Equal(t, "patient reports cough", history.HistoryText)
	assert.Equal(t, "fallback_rule_based", history.StrategyUsed)
	assert.NotNil(t, result["symptoms"])

	require.Len(t, histories.histories, 1)
	require.Len(t, results.results, 1)
	assert.Equal(t, "process_text", results.results[0].Operation)
}

func TestManager_ProcessHistoryTextTooLong(t *testing.T) {
	m, _, _ := newTestManager(&scriptedComposer{name: "fallback", result: strategy.Result{}})

	long := make([]byte, 101)
	for i := range long {
		long[i] = 'a'
	}

	_, _, err := m.ProcessHistory(context.Background(), "p-1", string(long), "")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestManager_ProcessHistorySurvivesPersistenceFailure(t *testing.T) {
	composer := &scriptedComposer{
		name:   "fallback",
		result: strategy.Result{"symptoms": []interface{}{"cough"}}.Annotate("fallback_rule_based", 0.7),
	}
	m, histories, _ := newTestManager(composer)
	histories.createErr = errors.NewInternalError("db down")

	result, history, err := m.ProcessHistory(context.Background(), "p-1", "text", "")
	require.NoError(t, err, "analysis outcome must survive a persistence failure")
	assert.Nil(t, history)
	assert.NotNil(t, result)
}

func TestManager_DeleteHistory(t *testing.T) {
	composer := &scriptedComposer{
		name:   "fallback",
		result: strategy.Result{}.Annotate("fallback_rule_based", 0.7),
	}
	m, histories, _ := newTestManager(composer)

	_, history, err := m.ProcessHistory(context.Background(), "p-1", "text", "")
	require.NoError(t, err)

	require.NoError(t, m.DeleteHistory(context.Background(), history.ID))

	listed, err := m.GetPatientHistory(context.Background(), "p-1", database.Page{})
	require.NoError(t, err)
	assert.Empty(t, listed, "soft-deleted records are excluded from reads")

	err = m.DeleteHistory(context.Background(), history.ID)
	assert.True(t, errors.IsNotFound(err), "deleting twice reports not found")

	require.Len(t, histories.histories, 1, "the record itself is retained")
}

func TestManager_FailureRecordedAgainstComposer(t *testing.T) {
	composer := &scriptedComposer{name: "fallback", err: &strategy.AllStrategiesFailedError{
		Composer: "fallback",
		Attempts: 2,
		LastErr:  errors.NewExternalError("llm-api", "down"),
	}}

	registry := strategies.NewRegistry()
	registry.Register(strategies.NewRuleBasedStrategy())
	registry.Register(composer)

	m := NewManager(Deps{
		Config:    managerConfig(),
		Composer:  composer,
		Registry:  registry,
		Breakers:  resilience.NewRegistry(resilience.CircuitBreakerConfig{FailureThreshold: 10, SuccessThreshold: 1, RecoveryTimeout: time.Minute}),
		Histories: &fakeHistoryStore{},
		Results:   &fakeResultStore{},
		Metrics:   &metrics.Metrics{},
	})

	_, err := m.AnalyzeSymptoms(context.Background(), "p-1", []strategy.Symptom{{Symptom: "cough"}}, "")
	require.Error(t, err)
	assert.True(t, strategy.IsAllFailed(err))

	health := registryHealth(m.StrategyHealth(), "fallback")
	require.NotNil(t, health)
	assert.EqualValues(t, 1, health.Failures)
	assert.EqualValues(t, 1, health.Calls)
	assert.Contains(t, health.LastError, "strategies failed")
}

func TestManager_HybridSuccessCreditsContributors(t *testing.T) {
	composer := &scriptedComposer{
		name: "hybrid",
		result: strategy.Result{
			strategy.KeyContributors: []string{"rule_based"},
		}.Annotate("hybrid", 0.85),
	}

	registry := strategies.NewRegistry()
	registry.Register(strategies.NewRuleBasedStrategy())
	registry.Register(composer)

	m := NewManager(Deps{
		Config:    managerConfig(),
		Composer:  composer,
		Registry:  registry,
		Breakers:  resilience.NewRegistry(resilience.CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, RecoveryTimeout: time.Minute}),
		Histories: &fakeHistoryStore{},
		Results:   &fakeResultStore{},
		Metrics:   &metrics.Metrics{},
	})

	_, err := m.AnalyzeSymptoms(context.Background(), "p-1", []strategy.Symptom{{Symptom: "cough"}}, "")
	require.NoError(t, err)

	hybrid := registryHealth(m.StrategyHealth(), "hybrid")
	require.NotNil(t, hybrid)
	assert.EqualValues(t, 1, hybrid.Calls)
	assert.Zero(t, hybrid.Failures)

	leaf := registryHealth(m.StrategyHealth(), "rule_based")
	require.NotNil(t, leaf)
	assert.EqualValues(t, 1, leaf.Calls)
}

func registryHealth(report []strategies.Health, name string) *strategies.Health {
	for i := range report {
		if report[i].Name == name {
			return &report[i]
		}
	}
	return nil
}

func TestManager_ResetBreaker(t *testing.T) {
	m, _, _ := newTestManager(&scriptedComposer{name: "fallback", result: strategy.Result{}})

	err := m.ResetBreaker("missing")
	assert.True(t, errors.IsNotFound(err))

	m.breakers.GetOrCreate("known")
	assert.NoError(t, m.ResetBreaker("known"))
}
