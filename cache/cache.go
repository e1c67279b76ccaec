// Package cache 为 bulwark 提供尽力而为的缓存存储。
//
// Store 有两种后端：
//   - redis：基于 go-redis，多实例共享，前缀删除使用 SCAN + DEL，计数器由 Lua 脚本完成 INCR 与首次 PEXPIRE（Redis 6+）；
//   - memory：基于 otter 的有界进程内缓存，条目自带过期时间，TTL 语义与 Redis 一致。
//
// 业务侧应当通过 Safe 包装后再使用：缓存故障只记录日志与指标，不会向上传播。
//
//	store, _ := cache.New(&cache.Config{Driver: cache.DriverRedis, Prefix: "bulwark:"},
//	    cache.WithRedisConnector(redisConn), cache.WithLogger(logger))
//	safe := cache.Safe(store, cache.WithLogger(logger), cache.WithMeter(meter))
//	hit, _ := safe.Get(ctx, "validate-identifier:12345678000195", &env)
package cache

import (
	"context"
	"time"
)

// Store 缓存存储接口。所有 key 都会被加上 Config.Prefix。
type Store interface {
	// Get 读取并解码到 dest，未命中返回 (false, nil)
	Get(ctx context.Context, key string, dest any) (bool, error)
	// Set 写入，ttl <= 0 表示不过期
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	// DelByPrefix 删除所有以 prefix 开头的 key，返回删除数量
	DelByPrefix(ctx context.Context, prefix string) (int64, error)
	// Incr 计数器加一并返回新值，ttl 只在 key 首次创建时设置
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Count 读取计数器，不存在时为 0
	Count(ctx context.Context, key string) (int64, error)
	Close() error
}

// New 根据 Config.Driver 创建缓存
func New(cfg *Config, opts ...Option) (Store, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opt := applyOptions(opts)
	switch cfg.Driver {
	case DriverMemory:
		return newMemory(cfg, opt)
	default:
		if opt.redisConn == nil {
			return nil, ErrRedisConnectorRequired
		}
		return newRedis(opt.redisConn.GetClient(), cfg, opt)
	}
}
