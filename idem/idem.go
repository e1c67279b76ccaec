// Package idem 保证同一个幂等键对应的操作只执行一次。
//
// 首个请求持有处理锁并执行，完成后保存结果；之后携带相同键的请求直接拿到保存的结果，
// 并发到达的请求等待结果或锁释放。后端可选 Redis（多实例共享）与内存（单实例）。
//
//	id, _ := idem.New(&idem.Config{Driver: idem.DriverRedis}, idem.WithRedisConnector(conn))
//	r.POST("/v1/notifications", id.GinMiddleware(), handler)
//
//	executed, err := id.Consume(ctx, "notify:"+deliveryID, 0, func(ctx context.Context) error {
//	    return send(ctx)
//	})
package idem

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/xerrors"
)

// Idempotency 幂等组件
type Idempotency interface {
	// Execute 执行 fn 并保存其结果；键已完成时直接返回保存的结果而不调用 fn。
	// fn 返回错误时不保存，锁被释放，后续请求会重新执行。
	Execute(ctx context.Context, key string, fn func(ctx context.Context) ([]byte, error)) ([]byte, error)

	// Consume 用于消息消费：键已处理过时返回 (false, nil)，否则执行 fn 并标记已处理。
	// ttl <= 0 时使用 Config.DefaultTTL。
	Consume(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) (executed bool, err error)

	// GinMiddleware 按请求头中的幂等键缓存 2xx 响应，没有该请求头的请求直接放行
	GinMiddleware(opts ...MiddlewareOption) gin.HandlerFunc
}

// New 创建幂等组件
func New(cfg *Config, opts ...Option) (Idempotency, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	c := *cfg
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts)

	var store Store
	switch c.Driver {
	case DriverRedis:
		if o.redisConn == nil {
			return nil, ErrRedisConnectorRequired
		}
		store = newRedisStore(o.redisConn.GetClient(), c.Prefix)
	default:
		store = newMemoryStore(c.Prefix)
	}

	outcomes, err := o.meter.Counter("bulwark_idem_requests_total", "idempotent executions by outcome")
	if err != nil {
		return nil, xerrors.Wrap(err, "create idem counter")
	}

	o.logger.Info("idempotency component created",
		clog.String("driver", string(c.Driver)),
		clog.String("prefix", c.Prefix),
		clog.Duration("default_ttl", c.DefaultTTL),
		clog.Duration("lock_ttl", c.LockTTL))

	return &idem{cfg: c, store: store, logger: o.logger, outcomes: outcomes}, nil
}
