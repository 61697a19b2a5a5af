package service

import (
	"context"
	"time"

	"github.com/respicare/ai-service/internal/cache"
	"github.com/respicare/ai-service/internal/database"
	"github.com/respicare/ai-service/pkg/resilience"
)

// Health statuses reported by the aggregate health check
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ComponentHealth is the health of one dependency
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthReport aggregates component health. The overall status is unhealthy
// when a hard dependency is down and degraded when any breaker is open.
type HealthReport struct {
	Status     string                      `json:"status"`
	Timestamp  time.Time                   `json:"timestamp"`
	Components map[string]ComponentHealth  `json:"components"`
	Breakers   []resilience.BreakerMetrics `json:"breakers"`
}

// HealthChecker probes the service's dependencies
type HealthChecker struct {
	db       *database.DB
	redis    *cache.RedisClient
	breakers *resilience.Registry
}

// NewHealthChecker creates a health checker over the given dependencies.
// Nil dependencies are reported as not configured rather than unhealthy.
func NewHealthChecker(db *database.DB, redis *cache.RedisClient, breakers *resilience.Registry) *HealthChecker {
	return &HealthChecker{
		db:       db,
		redis:    redis,
		breakers: breakers,
	}
}

// Check probes every dependency and aggregates the outcome
func (h *HealthChecker) Check(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	report := HealthReport{
		Status:     StatusHealthy,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}

	if h.db != nil {
		if err := h.db.Health(ctx); err != nil {
			report.Components["database"] = ComponentHealth{Status: StatusUnhealthy, Message: err.Error()}
			report.Status = StatusUnhealthy
		} else {
			report.Components["database"] = ComponentHealth{Status: StatusHealthy}
		}
	}

	if h.redis != nil {
		if err := h.redis.Health(ctx); err != nil {
			// The cache is a soft dependency; analysis still works without it.
			report.Components["redis"] = ComponentHealth{Status: StatusUnhealthy, Message: err.Error()}
			if report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		} else {
			report.Components["redis"] = ComponentHealth{Status: StatusHealthy}
		}
	}

	if h.breakers != nil {
		report.Breakers = h.breakers.Metrics()
		for _, b := range report.Breakers {
			if b.State == resilience.StateOpen.String() && report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		}
	}

	return report
}
