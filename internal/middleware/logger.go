// Package middleware 提供 HTTP 请求的中间件
package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"jensengpt/pkg/response"
)

// LoggerMiddleware 创建请求日志中间件
// 记录每个请求的方法、路径、状态码和耗时
// 返回:
//   - gin.HandlerFunc: Gin 中间件函数
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		statusCode := c.Writer.Status()
		entry := log.WithFields(log.Fields{
			"status":  statusCode,
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
			"method":  c.Request.Method,
			"path":    path,
		})
		if errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String(); errorMessage != "" {
			entry = entry.WithField("error", errorMessage)
		}

		// 根据状态码选择日志级别
		switch {
		case statusCode >= 500:
			entry.Error("request failed")
		case statusCode >= 400:
			entry.Warn("request rejected")
		default:
			entry.Info("request completed")
		}
	}
}

// RecoveryMiddleware 创建 panic 恢复中间件
// 捕获处理器中的 panic，返回统一格式的 500 响应
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.WithFields(log.Fields{
					"panic": err,
					"path":  c.Request.URL.Path,
				}).Error("handler panicked")

				// 流式响应可能已经写出了状态码
				if c.Writer.Written() {
					c.Abort()
					return
				}
				c.AbortWithStatusJSON(http.StatusInternalServerError, response.Response{
					Code:    response.CodeInternalError,
					Message: "服务器内部错误",
				})
			}
		}()

		c.Next()
	}
}
