package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"jensengpt/internal/metrics"
)

// MetricsMiddleware 记录请求数量、耗时和并发数
// 使用路由模板作为标签，避免 ID 造成标签爆炸
func MetricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
