package middleware

import (
	"bitwise74/captcha-gateway/internal/telemetry"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// NewMetricsMiddleware records request counts and latencies. Unmatched
// routes are grouped under a single label
func NewMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		telemetry.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
