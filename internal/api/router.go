package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/respicare/ai-service/internal/cache"
	"github.com/respicare/ai-service/internal/service"
	"github.com/respicare/ai-service/pkg/config"
	"github.com/respicare/ai-service/pkg/logging"
	"github.com/respicare/ai-service/pkg/metrics"
	"github.com/respicare/ai-service/pkg/tracing"
)

// RouterDeps holds everything the router needs.
// Redis and Metrics may be nil; the affected middleware degrades to a no-op.
type RouterDeps struct {
	Config  *config.Config
	Service AnalysisService
	Health  *service.HealthChecker
	Redis   *cache.RedisClient
	Metrics *metrics.Metrics
	Logger  *logging.Logger
	Tracing *tracing.Service
}

// NewRouter creates and configures the API router
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}
	m := deps.Metrics
	if m == nil {
		m = &metrics.Metrics{}
	}

	router := gin.New()
	router.Use(RequestIDMiddleware())
	if deps.Tracing != nil {
		router.Use(deps.Tracing.Middleware())
	}
	router.Use(LoggingMiddleware(logger))
	router.Use(RecoveryMiddleware(logger, m))
	router.Use(CORSMiddleware(deps.Config.Server.AllowedOrigins))
	router.Use(SecurityHeadersMiddleware())
	router.Use(RateLimitMiddleware(deps.Redis, 100, time.Minute))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.PrometheusMiddleware())
	}

	router.GET("/health", func(c *gin.Context) {
		report := deps.Health.Check(c.Request.Context())
		status := http.StatusOK
		if report.Status == service.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	})

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	handler := NewAnalysisHandler(deps.Service)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/symptoms/analyze", handler.AnalyzeSymptoms)
		v1.POST("/history/process", handler.ProcessHistory)
		v1.GET("/history/:patient_id", handler.GetPatientHistory)
		v1.DELETE("/history/:id", handler.DeleteHistory)
		v1.GET("/results/:patient_id", handler.GetPatientResults)
		v1.GET("/strategies", handler.ListStrategies)

		admin := v1.Group("/admin")
		{
			admin.GET("/breakers", handler.ListBreakers)
			admin.POST("/breakers/reset", handler.ResetBreaker)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		NotFoundResponse(c, "endpoint not found")
	})

	return router
}
