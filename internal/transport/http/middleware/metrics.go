package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/castellan-io/castellan/internal/infra/telemetry"
)

// Metrics records request count, latency, and in-flight gauge for every
// handled request. Unmatched paths collapse into a single route label so a
// path scan cannot explode metric cardinality.
func Metrics(provider *telemetry.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		gauge := provider.HTTPInFlight()
		gauge.Inc()

		c.Next()

		gauge.Dec()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		provider.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
