package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// UnknownRoute 未命中路由时使用的标签值，避免原始路径造成高基数
const UnknownRoute = "unknown"

// GinMiddleware 记录 HTTP 请求数与耗时
//
//	http_server_requests_total{method,route,status}
//	http_server_request_duration_seconds{method,route}
func GinMiddleware(m Meter) (gin.HandlerFunc, error) {
	total, err := m.Counter("http_server_requests_total", "HTTP requests served")
	if err != nil {
		return nil, err
	}
	duration, err := m.Histogram("http_server_request_duration_seconds", "HTTP request latency",
		WithUnit("s"), WithBuckets(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30))
	if err != nil {
		return nil, err
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = UnknownRoute
		}
		ctx := c.Request.Context()
		method := L("method", c.Request.Method)
		total.Inc(ctx, method, L("route", route), L("status", strconv.Itoa(c.Writer.Status())))
		duration.Record(ctx, time.Since(start).Seconds(), method, L("route", route))
	}, nil
}
