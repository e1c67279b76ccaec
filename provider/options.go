package provider

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ceyewan/bulwark/clog"
)

// Option 适配器通用选项
type Option func(*Options)

// Options 适配器子包共享的依赖
type Options struct {
	Logger  clog.Logger
	Client  *http.Client
	tracing bool
	timeout time.Duration
}

// WithLogger 注入日志记录器，内部追加命名空间 "provider"
func WithLogger(l clog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l.WithNamespace("provider")
		}
	}
}

// WithHTTPClient 使用自定义 HTTP 客户端，优先于 WithTracing
func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) {
		o.Client = c
	}
}

// WithTracing 为出站请求启用 otelhttp 追踪
func WithTracing() Option {
	return func(o *Options) {
		o.tracing = true
	}
}

// WithTimeout 单次 HTTP 请求的超时 (默认: 10s)
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// ApplyOptions 合并选项并补齐默认的 HTTP 客户端
func ApplyOptions(opts []Option) Options {
	o := Options{Logger: clog.Discard(), timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Client == nil {
		o.Client = NewHTTPClient(o.timeout, o.tracing)
	}
	return o
}

// NewHTTPClient 创建出站客户端，tracing 为 true 时传输层由 otelhttp 包装
func NewHTTPClient(timeout time.Duration, tracing bool) *http.Client {
	var rt http.RoundTripper = http.DefaultTransport
	if tracing {
		rt = otelhttp.NewTransport(rt)
	}
	return &http.Client{Timeout: timeout, Transport: rt}
}
