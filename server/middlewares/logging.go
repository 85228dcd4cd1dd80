package middlewares

import (
	"time"

	gin "github.com/gin-gonic/gin"
	zap "go.uber.org/zap"
)

// Logging returns a gin middleware that logs each request with zap. Health
// probes are muted when muteHealthcheck is set.
func Logging(logger *zap.Logger, muteHealthcheck bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if muteHealthcheck && c.Request.URL.Path == "/health" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}

		if len(c.Errors) > 0 {
			logger.Error("request failed", append(fields, zap.String("errors", c.Errors.String()))...)
			return
		}
		logger.Info("request handled", fields...)
	}
}
