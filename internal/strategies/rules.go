package strategies

import (
	"context"
	"regexp"
	"strings"

	"github.com/respicare/ai-service/pkg/logging"
	"github.com/respicare/ai-service/pkg/strategy"
)

const ruleBasedConfidence = 0.7

// severityWeights maps reported severity labels to numeric scores
var severityWeights = map[string]float64{
	"mild":     0.3,
	"moderate": 0.6,
	"severe":   0.9,
	"critical": 1.0,
}

// symptomCategories groups symptom keywords by body system
var symptomCategories = map[string][]string{
	"respiratory":      {"cough", "shortness of breath", "wheezing", "chest tightness", "sputum"},
	"cardiovascular":   {"chest pain", "palpitations", "irregular heartbeat"},
	"systemic":         {"fever", "fatigue", "chills", "night sweats", "weight loss"},
	"neurological":     {"headache", "dizziness", "confusion", "loss of consciousness"},
	"gastrointestinal": {"nausea", "vomiting", "abdominal pain", "diarrhea"},
}

// urgencyRule decides an urgency level from trigger symptoms and a severity floor
type urgencyRule struct {
	level        string
	symptoms     []string
	severityMin  float64
	responseTime string
}

// urgencyRules are evaluated in order; the first match wins.
var urgencyRules = []urgencyRule{
	{"critical", []string{"severe difficulty breathing", "chest pain", "loss of consciousness"}, 0.9, "immediate"},
	{"high", []string{"high fever", "severe abdominal pain", "confusion"}, 0.7, "2 hours"},
	{"medium", []string{"persistent cough", "headache", "fatigue"}, 0.5, "24 hours"},
	{"low", []string{"general discomfort", "mild tiredness"}, 0.0, "1 week"},
}

var riskFactorKeywords = []string{"smoker", "smoking", "diabetes", "hypertension", "asthma", "copd", "obesity", "immunocompromised"}

var symptomPattern = regexp.MustCompile(`(?i)\b(cough|fever|fatigue|headache|dizziness|wheezing|nausea|chest pain|shortness of breath|sore throat)\b`)

// RuleBasedStrategy is a deterministic keyword and scoring engine. It needs
// no external dependency and is always constructible, which makes it the
// terminal candidate in every fallback chain.
type RuleBasedStrategy struct {
	logger *logging.Logger
}

// NewRuleBasedStrategy creates the deterministic rule engine
func NewRuleBasedStrategy() *RuleBasedStrategy {
	return &RuleBasedStrategy{
		logger: logging.GetLogger(),
	}
}

// Name implements strategy.AnalysisStrategy
func (s *RuleBasedStrategy) Name() string {
	return "rule_based"
}

// Confidence implements strategy.AnalysisStrategy
func (s *RuleBasedStrategy) Confidence() float64 {
	return ruleBasedConfidence
}

// AnalyzeSymptoms implements strategy.AnalysisStrategy
func (s *RuleBasedStrategy) AnalyzeSymptoms(ctx context.Context, symptoms []strategy.Symptom, actx *strategy.AnalysisContext) (strategy.Result, error) {
	s.logger.Debug("Analyzing symptoms with rule-based strategy", "symptom_count", len(symptoms))

	categories := categorizeSymptoms(symptoms)
	severityScore := overallSeverity(symptoms)
	urgency, responseTime := determineUrgency(symptoms, severityScore)
	warnings := warningSigns(symptoms, severityScore)

	categoryNames := make([]string, 0, len(categories))
	for name := range categories {
		categoryNames = append(categoryNames, name)
	}

	return strategy.Result{
		"urgency_level":      urgency,
		"severity_score":     severityScore,
		"categories":         categoryNames,
		"category_details":   categories,
		"recommendations":    recommendations(urgency, responseTime),
		"warning_signs":      warnings,
		"follow_up_required": urgency == "critical" || urgency == "high" || len(warnings) > 0,
	}, nil
}

// ProcessText implements strategy.AnalysisStrategy
func (s *RuleBasedStrategy) ProcessText(ctx context.Context, text string, actx *strategy.AnalysisContext) (strategy.Result, error) {
	s.logger.Debug("Processing medical text with rule-based strategy", "text_length", len(text))

	lower := strings.ToLower(text)

	extracted := extractSymptoms(lower)
	risks := extractRiskFactors(lower)
	severityScore := overallSeverity(extracted)
	categories := categorizeSymptoms(extracted)

	return strategy.Result{
		"symptoms":       symptomNames(extracted),
		"risk_factors":   risks,
		"categories":     keysOf(categories),
		"severity_score": severityScore,
		"recommendations": recommendations(
			severityToUrgency(severityScore), "",
		),
	}, nil
}

func categorizeSymptoms(symptoms []strategy.Symptom) map[string][]string {
	categorized := make(map[string][]string)
	for _, sym := range symptoms {
		symText := strings.ToLower(sym.Symptom)
		for category, keywords := range symptomCategories {
			for _, keyword := range keywords {
				if strings.Contains(symText, keyword) {
					categorized[category] = append(categorized[category], sym.Symptom)
					break
				}
			}
		}
	}
	return categorized
}

func overallSeverity(symptoms []strategy.Symptom) float64 {
	if len(symptoms) == 0 {
		return 0
	}

	var total float64
	for _, sym := range symptoms {
		weight, ok := severityWeights[strings.ToLower(sym.Severity)]
		if !ok {
			weight = 0.5
		}
		total += weight
	}
	return total / float64(len(symptoms))
}

func determineUrgency(symptoms []strategy.Symptom, severityScore float64) (string, string) {
	for _, rule := range urgencyRules {
		for _, sym := range symptoms {
			symText := strings.ToLower(sym.Symptom)
			for _, trigger := range rule.symptoms {
				if strings.Contains(symText, trigger) {
					return rule.level, rule.responseTime
				}
			}
		}
		if severityScore >= rule.severityMin && rule.severityMin > 0 {
			return rule.level, rule.responseTime
		}
	}
	return "low", "1 week"
}

func severityToUrgency(score float64) string {
	switch {
	case score >= 0.9:
		return "critical"
	case score >= 0.7:
		return "high"
	case score >= 0.5:
		return "medium"
	default:
		return "low"
	}
}

func warningSigns(symptoms []strategy.Symptom, severityScore float64) []string {
	var warnings []string
	for _, sym := range symptoms {
		if strings.ToLower(sym.Severity) == "critical" || strings.ToLower(sym.Severity) == "severe" {
			warnings = append(warnings, sym.Symptom)
		}
	}
	if severityScore >= 0.8 && len(warnings) == 0 {
		warnings = append(warnings, "elevated overall severity")
	}
	return warnings
}

func recommendations(urgency, responseTime string) []string {
	recs := []string{}
	switch urgency {
	case "critical":
		recs = append(recs, "Seek emergency medical attention immediately")
	case "high":
		recs = append(recs, "Consult a physician within the next hours")
	case "medium":
		recs = append(recs, "Schedule a medical consultation within 24 hours")
	default:
		recs = append(recs, "Monitor symptoms and rest; consult a physician if symptoms persist")
	}
	if responseTime != "" {
		recs = append(recs, "Recommended response time: "+responseTime)
	}
	return recs
}

func extractSymptoms(lower string) []strategy.Symptom {
	seen := make(map[string]bool)
	var symptoms []strategy.Symptom
	for _, match := range symptomPattern.FindAllString(lower, -1) {
		match = strings.ToLower(match)
		if seen[match] {
			continue
		}
		seen[match] = true
		symptoms = append(symptoms, strategy.Symptom{Symptom: match, Severity: "moderate"})
	}
	return symptoms
}

func extractRiskFactors(lower string) []string {
	var risks []string
	for _, keyword := range riskFactorKeywords {
		if strings.Contains(lower, keyword) {
			risks = append(risks, keyword)
		}
	}
	return risks
}

func symptomNames(symptoms []strategy.Symptom) []string {
	names := make([]string, len(symptoms))
	for i, sym := range symptoms {
		names[i] = sym.Symptom
	}
	return names
}

func keysOf(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
