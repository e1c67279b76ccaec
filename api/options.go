package api

import (
	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/connector"
	"github.com/ceyewan/bulwark/idem"
	"github.com/ceyewan/bulwark/metrics"
	"github.com/ceyewan/bulwark/ratelimit"
)

// Option 组件选项
type Option func(*options)

type options struct {
	logger  clog.Logger
	meter   metrics.Meter
	limiter ratelimit.Limiter
	checks  []connector.Connector
	idem    idem.Idempotency
}

// WithLogger 注入日志记录器，内部追加命名空间 "api"
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("api")
		}
	}
}

// WithMeter 注入指标 Meter，用于 HTTP 请求指标
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithLimiter 启用按客户端限流
func WithLimiter(l ratelimit.Limiter) Option {
	return func(o *options) {
		o.limiter = l
	}
}

// WithHealthChecks 注册 /healthz 检查的连接器
func WithHealthChecks(conns ...connector.Connector) Option {
	return func(o *options) {
		o.checks = append(o.checks, conns...)
	}
}

// WithIdempotency 为 POST /v1/notifications 启用 Idempotency-Key 请求头
func WithIdempotency(i idem.Idempotency) Option {
	return func(o *options) {
		o.idem = i
	}
}

func applyOptions(opts []Option) *options {
	o := &options{logger: clog.Discard(), meter: metrics.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
