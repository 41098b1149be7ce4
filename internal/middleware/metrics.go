// metrics.go records Prometheus metrics for every request through the router.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/contextlink/contextlink/internal/telemetry"
)

// MetricsMiddleware records http_requests_total and
// http_request_duration_seconds for each request. The path label is the
// matched Gin route template from c.FullPath(), never the raw URL, so
// user-supplied path segments cannot inflate label cardinality. Requests that
// match no route use the literal "<no-route>".
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
