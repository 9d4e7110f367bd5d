package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"pai-resource-go/pkg/log"
)

// RequestLogger 是一个 Gin 中间件，用于记录请求日志。
// 上传接口的请求体是大块二进制，这里只记录元信息，不回放 body。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		latency := time.Since(startTime)
		log.Infow("HTTP Request Log",
			"statusCode", c.Writer.Status(),
			"latency", latency.String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"contentLength", c.Request.ContentLength,
		)
	}
}
