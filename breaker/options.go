package breaker

import (
	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/metrics"
)

// Option 组件初始化选项函数
type Option func(*options)

type options struct {
	logger       clog.Logger
	meter        metrics.Meter
	isSuccessful func(error) bool
}

// WithLogger 设置 Logger，内部会自动添加 namespace: "breaker"
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("breaker")
		}
	}
}

// WithMeter 设置指标收集器
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}

// WithSuccessClassifier 决定哪些错误不计为熔断失败，默认只有 nil 算成功。
// 例如 provider 明确给出的否定结果说明服务本身是健康的。
func WithSuccessClassifier(fn func(error) bool) Option {
	return func(o *options) {
		if fn != nil {
			o.isSuccessful = fn
		}
	}
}
