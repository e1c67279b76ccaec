package ratelimit

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// GinMiddleware 按客户端限流的 Gin 中间件，超限返回 429。
// keyFunc 为 nil 时使用客户端 IP；限流器出错时放行。
//
//	r.Use(ratelimit.GinMiddleware(limiter, nil, ratelimit.Rate{PerSecond: 20, Burst: 40}))
func GinMiddleware(limiter Limiter, keyFunc func(*gin.Context) string, r Rate) gin.HandlerFunc {
	if keyFunc == nil {
		keyFunc = func(c *gin.Context) string {
			return "ip:" + c.ClientIP()
		}
	}
	header := fmt.Sprintf("%.2f;burst=%d", r.PerSecond, r.Burst)

	return func(c *gin.Context) {
		if limiter == nil || !r.valid() {
			c.Next()
			return
		}
		key := keyFunc(c)
		if key == "" {
			c.Next()
			return
		}

		allowed, err := limiter.Allow(c.Request.Context(), key, r)
		if err != nil {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", header)
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
