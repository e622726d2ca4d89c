package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/campusreg/enroll-api/internal/service"
)

// Metrics records per-request duration and count. Requests that matched no
// route share one "unmatched" label so probe scans cannot blow up the
// path cardinality.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
