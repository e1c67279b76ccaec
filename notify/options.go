package notify

import (
	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/metrics"
)

// Option 组件选项
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
	dedup  Deduplicator
}

// WithLogger 注入日志记录器，内部追加命名空间 "notify"
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("notify")
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

// WithDeduplicator Worker 在发送前按投递 ID 去重，防止重投的任务被重复发送
func WithDeduplicator(d Deduplicator) Option {
	return func(o *options) {
		o.dedup = d
	}
}

func applyOptions(opts []Option) *options {
	o := &options{logger: clog.Discard(), meter: metrics.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
