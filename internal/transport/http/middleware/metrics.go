package middleware

import (
	"strconv"
	"time"

	"github.com/ErlanBelekov/pwchain/internal/metrics"
	"github.com/gin-gonic/gin"
)

// unmatchedPath labels requests that hit no route, so probing clients cannot
// blow up the label cardinality.
const unmatchedPath = "unmatched"

func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics.HTTPRequestsInFlight.Inc()
		defer metrics.HTTPRequestsInFlight.Dec()

		path := c.FullPath()
		if path == "" {
			path = unmatchedPath
		}
		if c.Request.ContentLength > 0 {
			metrics.HTTPRequestBytes.WithLabelValues(path).Observe(float64(c.Request.ContentLength))
		}

		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		duration := time.Since(start).Seconds()

		metrics.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	}
}
