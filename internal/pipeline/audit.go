package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/respicare/ai-service/pkg/logging"
	"github.com/respicare/ai-service/pkg/strategy"
)

// sensitiveArgKeys are argument fields that never reach the audit log.
// Clinical free text and identifiers are replaced before logging.
var sensitiveArgKeys = []string{"text", "symptom", "notes", "patient", "name", "history"}

const redactedPlaceholder = "[REDACTED]"

// WithAuditLog logs every operation with redacted arguments, its outcome and
// latency. Failures are logged and re-raised untouched.
func WithAuditLog(logger *logging.Logger) Middleware {
	if logger == nil {
		logger = logging.GetLogger()
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, req Request) (strategy.Result, error) {
			start := time.Now()

			logger.LogAnalysisEvent(ctx, "operation_started", req.Operation, "", map[string]interface{}{
				"args": redactArgs(req.Args),
			})

			result, err := next(ctx, req)
			duration := time.Since(start)

			if err != nil {
				logger.LogAnalysisEvent(ctx, "operation_failed", req.Operation, "", map[string]interface{}{
					"duration_ms": duration.Milliseconds(),
					"error":       err.Error(),
				})
				return nil, err
			}

			used, _ := result[strategy.KeyStrategyUsed].(string)
			logger.LogAnalysisEvent(ctx, "operation_completed", req.Operation, used, map[string]interface{}{
				"duration_ms": duration.Milliseconds(),
			})
			return result, nil
		}
	}
}

// redactArgs strips sensitive fields from the argument map. Non-map
// arguments are fully redacted since their content cannot be inspected.
func redactArgs(args interface{}) interface{} {
	m, ok := args.(map[string]interface{})
	if !ok {
		if args == nil {
			return nil
		}
		return redactedPlaceholder
	}

	out := make(map[string]interface{}, len(m))
	for key, value := range m {
		if isSensitiveKey(key) {
			out[key] = redactedPlaceholder
			continue
		}
		if nested, ok := value.(map[string]interface{}); ok {
			out[key] = redactArgs(nested)
			continue
		}
		out[key] = value
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveArgKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
