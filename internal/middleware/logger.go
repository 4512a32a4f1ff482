package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ZapLogger logs one line per request. API requests are logged at info (warn
// for 5xx), everything else (health, swagger) at debug.
func ZapLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"route", c.FullPath(),
			"status", status,
			"bytes", c.Writer.Size(),
			"latency", time.Since(start).String(),
			"clientIP", c.ClientIP(),
		}
		if v, ok := c.Get(ClaimsKey); ok {
			if claims, ok := v.(*Claims); ok {
				fields = append(fields, "user_id", claims.UserID)
			}
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		switch {
		case !strings.HasPrefix(c.Request.URL.Path, "/api/"):
			log.Sugar().Debugw("HTTP", fields...)
		case status >= 500:
			log.Sugar().Warnw("HTTP", fields...)
		default:
			log.Sugar().Infow("HTTP", fields...)
		}
	}
}
