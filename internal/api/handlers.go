package api

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/respicare/ai-service/internal/database"
	"github.com/respicare/ai-service/internal/strategies"
	"github.com/respicare/ai-service/pkg/resilience"
	"github.com/respicare/ai-service/pkg/strategy"
)

// AnalysisService is the surface the handlers need from the service layer
type AnalysisService interface {
	AnalyzeSymptoms(ctx context.Context, patientID string, symptoms []strategy.Symptom, language string) (strategy.Result, error)
	ProcessHistory(ctx context.Context, patientID, text, language string) (strategy.Result, *database.MedicalHistory, error)
	GetPatientHistory(ctx context.Context, patientID string, page database.Page) ([]*database.MedicalHistory, error)
	GetPatientResults(ctx context.Context, patientID string, page database.Page) ([]*database.AnalysisResult, error)
	DeleteHistory(ctx context.Context, id uuid.UUID) error
	StrategyHealth() []strategies.Health
	BreakerMetrics() []resilience.BreakerMetrics
	ResetBreaker(name string) error
	ResetAllBreakers()
}

// AnalysisHandler exposes the analysis operations over HTTP
type AnalysisHandler struct {
	svc AnalysisService
}

// NewAnalysisHandler creates an analysis handler
func NewAnalysisHandler(svc AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{svc: svc}
}

// AnalyzeSymptomsRequest is the request body for symptom analysis
type AnalyzeSymptomsRequest struct {
	PatientID string             `json:"patient_id" binding:"required"`
	Symptoms  []strategy.Symptom `json:"symptoms" binding:"required"`
	Language  string             `json:"language"`
}

// ProcessHistoryRequest is the request body for history processing
type ProcessHistoryRequest struct {
	PatientID string `json:"patient_id" binding:"required"`
	Text      string `json:"text" binding:"required"`
	Language  string `json:"language"`
}

// AnalyzeSymptoms handles POST /api/v1/symptoms/analyze
func (h *AnalysisHandler) AnalyzeSymptoms(c *gin.Context) {
	var req AnalyzeSymptomsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "invalid request body: "+err.Error())
		return
	}

	result, err := h.svc.AnalyzeSymptoms(c.Request.Context(), req.PatientID, req.Symptoms, req.Language)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, result)
}

// ProcessHistory handles POST /api/v1/history/process
func (h *AnalysisHandler) ProcessHistory(c *gin.Context) {
	var req ProcessHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "invalid request body: "+err.Error())
		return
	}

	result, history, err := h.svc.ProcessHistory(c.Request.Context(), req.PatientID, req.Text, req.Language)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	payload := gin.H{"analysis": result}
	if history != nil {
		payload["history_id"] = history.ID
	}
	SuccessResponse(c, payload)
}

// GetPatientHistory handles GET /api/v1/history/:patient_id
func (h *AnalysisHandler) GetPatientHistory(c *gin.Context) {
	patientID := c.Param("patient_id")
	page, number := pageFromQuery(c)

	histories, err := h.svc.GetPatientHistory(c.Request.Context(), patientID, page)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponseWithMeta(c, histories, &Meta{Pagination: &Pagination{
		Page:     number,
		PageSize: page.Limit,
		Count:    len(histories),
	}})
}

// GetPatientResults handles GET /api/v1/results/:patient_id
func (h *AnalysisHandler) GetPatientResults(c *gin.Context) {
	patientID := c.Param("patient_id")
	page, number := pageFromQuery(c)

	results, err := h.svc.GetPatientResults(c.Request.Context(), patientID, page)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponseWithMeta(c, results, &Meta{Pagination: &Pagination{
		Page:     number,
		PageSize: page.Limit,
		Count:    len(results),
	}})
}

// DeleteHistory handles DELETE /api/v1/history/:id
func (h *AnalysisHandler) DeleteHistory(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequestResponse(c, "invalid history id")
		return
	}

	if err := h.svc.DeleteHistory(c.Request.Context(), id); err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, gin.H{"deleted": id})
}

// ListStrategies handles GET /api/v1/strategies
func (h *AnalysisHandler) ListStrategies(c *gin.Context) {
	SuccessResponse(c, h.svc.StrategyHealth())
}

// ListBreakers handles GET /api/v1/admin/breakers
func (h *AnalysisHandler) ListBreakers(c *gin.Context) {
	SuccessResponse(c, h.svc.BreakerMetrics())
}

// ResetBreakerRequest names the breaker to reset. An empty name resets
// every registered breaker.
type ResetBreakerRequest struct {
	Name string `json:"name"`
}

// ResetBreaker handles POST /api/v1/admin/breakers/reset
func (h *AnalysisHandler) ResetBreaker(c *gin.Context) {
	var req ResetBreakerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "invalid request body: "+err.Error())
		return
	}

	if req.Name == "" {
		h.svc.ResetAllBreakers()
		SuccessResponse(c, gin.H{"reset": "all"})
		return
	}

	if err := h.svc.ResetBreaker(req.Name); err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, gin.H{"reset": req.Name})
}

// pageFromQuery builds a normalized page from the query string so the
// response meta echoes the limits the repository actually applied.
func pageFromQuery(c *gin.Context) (database.Page, int) {
	number := 1
	if v, err := strconv.Atoi(c.Query("page")); err == nil && v > 0 {
		number = v
	}
	page := database.Page{}
	if v, err := strconv.Atoi(c.Query("page_size")); err == nil && v > 0 {
		page.Limit = v
	}
	page = page.Normalize()
	page.Offset = (number - 1) * page.Limit
	return page, number
}
