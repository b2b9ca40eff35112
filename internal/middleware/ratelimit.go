package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/glavox/glavox-server/pkg/errors"
	"github.com/glavox/glavox-server/pkg/logger"
	"github.com/glavox/glavox-server/pkg/response"
)

// RateLimitKeyFunc derives the bucket a request counts against.
type RateLimitKeyFunc func(c *gin.Context) string

// ClientIPKey buckets requests per (client IP, route).
func ClientIPKey(c *gin.Context) string {
	return c.ClientIP() + "|" + c.FullPath()
}

// UserOrIPKey prefers the authenticated user and falls back to the client IP.
func UserOrIPKey(c *gin.Context) string {
	if uid := c.GetString(CtxUserIDKey); uid != "" {
		return "user:" + uid + "|" + c.FullPath()
	}
	return ClientIPKey(c)
}

// RateLimit limits requests per key within a fixed window. Counters live in
// store so limits hold across replicas when it is Redis or database backed.
// Store failures let the request through.
func RateLimit(store RateStore, maxRequests int, window time.Duration, keyFn RateLimitKeyFunc) gin.HandlerFunc {
	if keyFn == nil {
		keyFn = ClientIPKey
	}
	return func(c *gin.Context) {
		if store == nil || maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		key := fmt.Sprintf("ratelimit:%s", keyFn(c))
		count, ttl, err := store.Increment(c.Request.Context(), key, window)
		if err != nil {
			logger.WithModule("ratelimit").Warn("rate store unavailable",
				zap.String("key", key),
				zap.Error(err),
			)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(0, maxRequests-count)))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(ttl.Round(time.Second).Seconds())))

		if count > maxRequests {
			c.Header("Retry-After", strconv.Itoa(max(1, int(ttl.Round(time.Second).Seconds()))))
			response.Error(c, errors.ErrTooManyRequests)
			c.Abort()
			return
		}

		c.Next()
	}
}
