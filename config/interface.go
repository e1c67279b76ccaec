// Package config 负责加载 bulwark 的运行配置，基于 spf13/viper。
//
// 来源优先级（高到低）：环境变量 > .env 文件 > <name>.<ENV>.yaml > <name>.yaml > 默认值。
// 环境变量使用前缀 + 下划线形式，例如 engine.breaker.threshold 对应 BULWARK_ENGINE_BREAKER_THRESHOLD。
//
//	loader, _ := config.New(&config.Config{Name: "bulwark"},
//	    config.WithDefaults(map[string]any{"engine.breaker.threshold": 5}))
//	if err := loader.Load(ctx); err != nil { ... }
//	var app AppConfig
//	_ = loader.Unmarshal(&app)
package config

import (
	"context"
	"time"
)

// Loader 配置加载器
type Loader interface {
	// Load 从所有来源加载配置并开始监听文件变化
	Load(ctx context.Context) error

	// Get 读取原始值
	Get(key string) any

	// Unmarshal 反序列化整个配置
	Unmarshal(v any) error

	// UnmarshalKey 反序列化指定 key
	UnmarshalKey(key string, v any) error

	// Watch 监听 key 的变化，ctx 取消后通道关闭
	Watch(ctx context.Context, key string) (<-chan Event, error)

	// Validate 校验当前配置
	Validate() error
}

// Event 配置变更事件
type Event struct {
	Key       string
	Value     any
	OldValue  any
	Source    string // "file"
	Timestamp time.Time
}
