package orchestrator

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/metrics"
)

// Option 引擎选项
type Option func(*options)

type options struct {
	root   clog.Logger
	logger clog.Logger
	meter  metrics.Meter
	tp     trace.TracerProvider
}

// WithLogger 注入日志记录器，内部追加命名空间 "orchestrator"。
// 引擎内部的熔断器、配额与缓存包装使用同一个根 logger。
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.root = l
			o.logger = l.WithNamespace("orchestrator")
		}
	}
}

// WithMeter 注入指标 Meter
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithTracerProvider 指定 TracerProvider，默认使用全局的
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tp = tp
		}
	}
}

func applyOptions(opts []Option) *options {
	o := &options{root: clog.Discard(), logger: clog.Discard(), meter: metrics.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	if o.tp == nil {
		o.tp = otel.GetTracerProvider()
	}
	return o
}
