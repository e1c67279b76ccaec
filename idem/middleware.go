package idem

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/xerrors"
)

// ReplayHeader 重放的响应带有该头
const ReplayHeader = "Idempotent-Replayed"

type cachedResponse struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// errNotCacheable 非 2xx 响应不保存，锁被释放以便客户端重试
var errNotCacheable = xerrors.New("idem: response not cacheable")

func (i *idem) GinMiddleware(opts ...MiddlewareOption) gin.HandlerFunc {
	o := middlewareOptions{header: "Idempotency-Key"}
	for _, opt := range opts {
		opt(&o)
	}

	return func(c *gin.Context) {
		value := c.GetHeader(o.header)
		if value == "" {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		// 同一个键在不同路由上互不影响
		key := "http:" + c.Request.Method + ":" + c.FullPath() + ":" + value

		executed := false
		raw, err := i.Execute(ctx, key, func(context.Context) ([]byte, error) {
			executed = true
			w := &captureWriter{ResponseWriter: c.Writer}
			c.Writer = w
			c.Next()

			status := w.Status()
			if status < http.StatusOK || status >= http.StatusMultipleChoices {
				return nil, errNotCacheable
			}
			header := w.Header().Clone()
			header.Del("Content-Length")
			return json.Marshal(cachedResponse{Status: status, Header: header, Body: w.body.Bytes()})
		})

		switch {
		case executed:
			// 响应已经由处理函数写出
			if err != nil && !xerrors.Is(err, errNotCacheable) {
				i.logger.WarnContext(ctx, "failed to encode idem response", clog.String("key", key), clog.Error(err))
			}
		case xerrors.Is(err, ErrConcurrentRequest):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "request with the same idempotency key is in progress"})
		case err != nil:
			i.logger.ErrorContext(ctx, "idem lookup failed", clog.String("key", key), clog.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "idempotency store unavailable"})
		default:
			replay(c, raw, i.logger)
		}
	}
}

func replay(c *gin.Context, raw []byte, logger clog.Logger) {
	var resp cachedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		logger.ErrorContext(c.Request.Context(), "failed to decode cached response", clog.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "corrupted idempotent response"})
		return
	}
	for name, values := range resp.Header {
		for _, v := range values {
			c.Writer.Header().Add(name, v)
		}
	}
	c.Writer.Header().Set(ReplayHeader, "true")
	c.Status(resp.Status)
	_, _ = c.Writer.Write(resp.Body)
	c.Abort()
}

// captureWriter 复制写出的响应体
type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
