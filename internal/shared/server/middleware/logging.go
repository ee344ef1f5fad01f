package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"resume-bullets/internal/shared/telemetry"
)

// RunIDKey is set by handlers that create a dedupe run so the request log can
// correlate with it.
const RunIDKey = "runId"

// Logging emits a structured log per request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		fields := map[string]any{
			"request_id":  RequestIDFromContext(c),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"route":       c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": float64(latency.Microseconds()) / 1000.0,
			"user_id":     UserIDFromContext(c),
			"is_guest":    IsGuest(c),
			"client_ip":   c.ClientIP(),
			"user_agent":  c.Request.UserAgent(),
		}
		if runID := c.GetString(RunIDKey); runID != "" {
			fields["run_id"] = runID
		}
		telemetry.Info("request.complete", fields)
	}
}
