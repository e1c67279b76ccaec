// Package metrics 提供 bulwark 的指标接口，基于 OpenTelemetry metric SDK，
// 通过 Prometheus exporter 暴露。
//
//	meter, _ := metrics.New(&metrics.Config{Enabled: true, ServiceName: "bulwark", Port: 9090, Path: "/metrics"})
//	defer meter.Shutdown(ctx)
//	attempts, _ := meter.Counter("bulwark_provider_attempts_total", "provider call attempts")
//	attempts.Inc(ctx, metrics.L("provider", "brasilapi"), metrics.L("outcome", "success"))
//
// 组件在未注入 Meter 时使用 metrics.Discard()。
package metrics

import "context"

// Counter 单调递增计数器
type Counter interface {
	Inc(ctx context.Context, labels ...Label)
	Add(ctx context.Context, val float64, labels ...Label)
}

// Gauge 可增可减的瞬时值
type Gauge interface {
	Set(ctx context.Context, val float64, labels ...Label)
	Inc(ctx context.Context, labels ...Label)
	Dec(ctx context.Context, labels ...Label)
}

// Histogram 值分布
type Histogram interface {
	Record(ctx context.Context, val float64, labels ...Label)
}

// Meter 指标工厂。创建出的指标可并发使用。
type Meter interface {
	Counter(name, desc string, opts ...MetricOption) (Counter, error)
	Gauge(name, desc string, opts ...MetricOption) (Gauge, error)
	Histogram(name, desc string, opts ...MetricOption) (Histogram, error)
	Shutdown(ctx context.Context) error
}

// MetricOption 指标选项
type MetricOption func(*MetricOptions)

// MetricOptions 指标选项
type MetricOptions struct {
	Unit    string
	Buckets []float64
}

// WithUnit 设置单位（UCUM 代码，如 "s"、"By"）
func WithUnit(unit string) MetricOption {
	return func(o *MetricOptions) { o.Unit = unit }
}

// WithBuckets 设置直方图桶边界
func WithBuckets(buckets ...float64) MetricOption {
	return func(o *MetricOptions) { o.Buckets = buckets }
}

// Label 指标标签。避免用请求 ID、subject 这类高基数字段作标签。
type Label struct {
	Key   string
	Value string
}

// L 构造 Label
func L(key, value string) Label {
	return Label{Key: key, Value: value}
}
