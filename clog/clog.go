// Package clog 是 bulwark 的结构化日志组件，基于标准库 log/slog。
//
// 所有组件都通过 clog.Logger 接口记录日志，默认注入 clog.Discard()，
// 由进程入口统一创建并通过 WithLogger 选项下发。
//
// 基本使用：
//
//	logger, _ := clog.New(&clog.Config{Level: "info", Format: "json"},
//	    clog.WithNamespace("bulwark"),
//	    clog.WithTraceContext(),
//	)
//	logger.Info("provider call failed", clog.String("provider", "brasilapi"), clog.Error(err))
//
// 命名空间以 "." 连接并输出为 namespace 字段：
//
//	logger.WithNamespace("orchestrator").Info("...") // namespace=bulwark.orchestrator
package clog

import "github.com/ceyewan/bulwark/xerrors"

// New 根据配置创建 Logger。config 为 nil 时使用开发环境默认配置。
func New(config *Config, opts ...Option) (Logger, error) {
	if config == nil {
		config = NewDevDefaultConfig()
	}
	if err := config.validate(); err != nil {
		return nil, xerrors.Wrap(err, "invalid clog config")
	}

	o := applyOptions(opts...)
	h, err := newHandler(config, o)
	if err != nil {
		return nil, err
	}
	return &loggerImpl{handler: h, options: o}, nil
}
