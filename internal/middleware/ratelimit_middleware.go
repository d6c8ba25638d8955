// internal/middleware/ratelimit_middleware.go
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"royalty-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Limiter is satisfied by *ratelimit.RedisLimiter.
type Limiter interface {
	Allow(ctx context.Context, key string, maxRequests int64, window time.Duration) (bool, error)
}

// RateLimit caps requests per caller per window. Callers are keyed by
// identity when authenticated and by client ip otherwise. Limiter errors
// let the request through.
func RateLimit(limiter Limiter, name string, maxRequests int64, window time.Duration, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || maxRequests <= 0 {
			c.Next()
			return
		}

		key := fmt.Sprintf("%s:ip:%s", name, c.ClientIP())
		if id, ok := GetIdentityID(c); ok {
			key = fmt.Sprintf("%s:user:%d", name, id)
		}

		allowed, err := limiter.Allow(c.Request.Context(), key, maxRequests, window)
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			response.Error(c, http.StatusTooManyRequests, "too many requests", nil)
			return
		}
		c.Next()
	}
}
