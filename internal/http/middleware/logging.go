// README: Request logging middleware (zap).
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func Logging(log *zap.SugaredLogger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		kv := []interface{}{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if uid := CallerUID(c); uid != "" {
			kv = append(kv, "caller", uid)
		}
		switch {
		case status >= 500:
			log.Errorw("request", kv...)
		case status >= 400:
			log.Warnw("request", kv...)
		default:
			log.Infow("request", kv...)
		}
	}
}
