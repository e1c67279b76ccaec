// Package ratelimit 提供两类限流：
//
//   - Quota：按 provider 的配额窗口计数，计数器存放在缓存中，多实例共享（软配额，允许竞争造成的少量超额）。
//     编排器在调用 provider 前用 Exhausted 判断是否跳过，每次实际调用后用 Record 计数。
//   - Limiter：基于 golang.org/x/time/rate 的进程内令牌桶，用于通知 worker 的发送节奏控制
//     以及 HTTP 接口的按客户端限流。
//
// 基本使用：
//
//	quota, _ := ratelimit.NewQuota(store, &ratelimit.QuotaConfig{
//	    Default:   ratelimit.Limit{Quota: 100, Window: time.Hour},
//	    Providers: map[string]ratelimit.Limit{"receitaws": {Quota: 3, Window: time.Minute}},
//	}, ratelimit.WithLogger(logger))
//	if quota.Exhausted(ctx, "receitaws") {
//	    // 跳过，不计入熔断
//	}
//	quota.Record(ctx, "receitaws")
//
//	limiter, _ := ratelimit.NewStandalone(nil, ratelimit.WithLogger(logger))
//	defer limiter.Close()
//	_ = limiter.Wait(ctx, "email", ratelimit.Rate{PerSecond: 5, Burst: 5})
package ratelimit

import (
	"context"
	"time"
)

// Limit 窗口配额：Window 内最多 Quota 次调用。Quota 为负数表示不限制。
type Limit struct {
	Quota  int64         `mapstructure:"quota" json:"quota"`
	Window time.Duration `mapstructure:"window" json:"window"`
}

// Rate 令牌桶规则
type Rate struct {
	PerSecond float64 `mapstructure:"per_second"` // 每秒生成的令牌数
	Burst     int     `mapstructure:"burst"`      // 桶容量
}

func (r Rate) valid() bool {
	return r.PerSecond > 0 && r.Burst > 0
}

// Limiter 令牌桶限流器
type Limiter interface {
	// Allow 尝试获取 1 个令牌（非阻塞）
	Allow(ctx context.Context, key string, rate Rate) (bool, error)
	// Wait 阻塞直到获取 1 个令牌或 ctx 结束
	Wait(ctx context.Context, key string, rate Rate) error
	Close() error
}
