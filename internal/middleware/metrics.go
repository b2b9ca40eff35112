package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/glavox/glavox-server/pkg/metrics"
)

// Metrics observes latency, in-flight count and body size per matched route.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "/metrics" {
			c.Next()
			return
		}

		metrics.InFlightRequests.Inc()
		start := time.Now()
		defer metrics.InFlightRequests.Dec()

		c.Next()

		// unmatched paths are collapsed to keep label cardinality bounded
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		metrics.APILatency.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		if c.Request.ContentLength > 0 {
			metrics.RequestBytes.WithLabelValues(route).Observe(float64(c.Request.ContentLength))
		}
	}
}
