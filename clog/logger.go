package clog

import "context"

// Logger 结构化日志接口
//
// *Context 方法会从 ctx 中提取 request_id 以及（开启 WithTraceContext 时）trace_id/span_id。
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	DebugContext(ctx context.Context, msg string, fields ...Field)
	InfoContext(ctx context.Context, msg string, fields ...Field)
	WarnContext(ctx context.Context, msg string, fields ...Field)
	ErrorContext(ctx context.Context, msg string, fields ...Field)
	FatalContext(ctx context.Context, msg string, fields ...Field)

	// With 返回带预设字段的子 Logger
	With(fields ...Field) Logger

	// WithNamespace 在现有命名空间后追加层级
	WithNamespace(parts ...string) Logger

	// SetLevel 运行时调整级别，对同一根 Logger 派生的所有子 Logger 生效
	SetLevel(level Level) error

	Flush()
}
