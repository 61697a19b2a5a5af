package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/respicare/ai-service/internal/cache"
	"github.com/respicare/ai-service/pkg/logging"
	"github.com/respicare/ai-service/pkg/metrics"
)

// RequestIDMiddleware assigns each request a correlation ID, reusing the
// caller's X-Request-ID when present. The ID flows into the request context
// so downstream log lines carry it.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Header("X-Request-ID", id)
		c.Set("request_id", id)
		c.Request = c.Request.WithContext(logging.WithCorrelationID(c.Request.Context(), id))
		c.Next()
	}
}

// LoggingMiddleware logs each request through the structured logger
func LoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		logger.LogRequest(c.Request.Context(), c.Request.Method, path,
			c.Request.UserAgent(), c.ClientIP(), c.Writer.Status(), time.Since(start))
	}
}

// RecoveryMiddleware converts panics into 500 responses and counts them
func RecoveryMiddleware(logger *logging.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				m.RecordPanic("api")
				logger.LogError(c.Request.Context(), fmt.Errorf("panic: %v", r),
					"recovered from panic in handler", map[string]interface{}{
						"path":   c.Request.URL.Path,
						"method": c.Request.Method,
					})
				c.AbortWithStatusJSON(http.StatusInternalServerError, APIResponse{
					Success:   false,
					Error:     &APIError{Code: "INTERNAL_ERROR", Message: "an internal error occurred"},
					RequestID: requestID(c),
					Timestamp: time.Now(),
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware builds the CORS policy from config
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, origin := range allowedOrigins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			cfg.AllowOrigins = nil
			cfg.AllowCredentials = false
			break
		}
	}
	return cors.New(cfg)
}

// SecurityHeadersMiddleware adds standard security headers
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// RateLimitMiddleware enforces a fixed-window per-IP limit backed by redis.
// Redis failures fall open; the limiter is protection, not a hard dependency.
func RateLimitMiddleware(redis *cache.RedisClient, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if redis == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := fmt.Sprintf("rate_limit:%s", c.ClientIP())

		count, err := redis.IncrBy(ctx, key, 1)
		if err != nil {
			c.Next()
			return
		}
		if count == 1 {
			_ = redis.Expire(ctx, key, window)
		}

		if count > int64(limit) {
			c.JSON(http.StatusTooManyRequests, APIResponse{
				Success: false,
				Error: &APIError{
					Code:    "RATE_LIMITED",
					Message: "rate limit exceeded",
					Details: map[string]interface{}{"retry_after_seconds": int(window.Seconds())},
				},
				RequestID: requestID(c),
				Timestamp: time.Now(),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
