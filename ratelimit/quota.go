package ratelimit

import (
	"context"
	"time"

	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/metrics"
	"github.com/ceyewan/bulwark/xerrors"
)

// KeyPrefix 配额计数器在缓存中的 key 前缀
const KeyPrefix = "ratelimit:"

// Counter 配额计数所需的存储能力，cache.Store 满足该接口
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Count(ctx context.Context, key string) (int64, error)
}

// QuotaConfig 配额配置
//
// 未设置（为 0）的 Quota 与 Window 继承 Default；Quota 为负数表示该 provider 不限制。
type QuotaConfig struct {
	// Default 未单独配置的 provider 使用的配额 (默认: 100 次 / 1h)
	Default Limit `mapstructure:"default"`
	// Providers 按 provider 名称覆盖
	Providers map[string]Limit `mapstructure:"providers"`
}

func (c *QuotaConfig) setDefaults() {
	if c.Default.Quota == 0 {
		c.Default.Quota = 100
	}
	if c.Default.Window <= 0 {
		c.Default.Window = time.Hour
	}
	for name, l := range c.Providers {
		if l.Quota == 0 {
			l.Quota = c.Default.Quota
		}
		if l.Window <= 0 {
			l.Window = c.Default.Window
		}
		c.Providers[name] = l
	}
}

// Quota 按 provider 维护窗口配额。
// 计数器在首次写入时设置窗口长度的 TTL，过期即重置，不会主动删除。
type Quota struct {
	counter   Counter
	cfg       QuotaConfig
	logger    clog.Logger
	exhausted metrics.Counter
}

// NewQuota 创建配额限流器
func NewQuota(counter Counter, cfg *QuotaConfig, opts ...Option) (*Quota, error) {
	if counter == nil {
		return nil, ErrCounterNil
	}
	c := QuotaConfig{}
	if cfg != nil {
		c.Default = cfg.Default
		c.Providers = make(map[string]Limit, len(cfg.Providers))
		for k, v := range cfg.Providers {
			c.Providers[k] = v
		}
	}
	c.setDefaults()

	o := applyOptions(opts)
	exhausted, err := o.meter.Counter("bulwark_ratelimit_exhausted_total", "provider calls skipped because the quota window is used up")
	if err != nil {
		return nil, xerrors.Wrap(err, "create exhausted counter")
	}

	return &Quota{counter: counter, cfg: c, logger: o.logger, exhausted: exhausted}, nil
}

// LimitFor 返回 provider 生效的配额
func (q *Quota) LimitFor(name string) Limit {
	if l, ok := q.cfg.Providers[name]; ok {
		return l
	}
	return q.cfg.Default
}

// Exhausted 报告 provider 在当前窗口内是否已用完配额。
// 读取计数失败时按未用完处理。
func (q *Quota) Exhausted(ctx context.Context, name string) bool {
	limit := q.LimitFor(name)
	if limit.Quota <= 0 {
		return false
	}

	n, err := q.counter.Count(ctx, KeyPrefix+name)
	if err != nil {
		q.logger.WarnContext(ctx, "failed to read quota counter", clog.String("provider", name), clog.Error(err))
		return false
	}
	if n >= limit.Quota {
		q.exhausted.Inc(ctx, metrics.L("provider", name))
		q.logger.DebugContext(ctx, "provider quota exhausted",
			clog.String("provider", name),
			clog.Int64("count", n),
			clog.Int64("quota", limit.Quota),
			clog.Duration("window", limit.Window))
		return true
	}
	return false
}

// Record 记录一次调用尝试（无论成败），返回窗口内的累计次数
func (q *Quota) Record(ctx context.Context, name string) int64 {
	limit := q.LimitFor(name)
	n, err := q.counter.Incr(ctx, KeyPrefix+name, limit.Window)
	if err != nil {
		q.logger.WarnContext(ctx, "failed to record quota usage", clog.String("provider", name), clog.Error(err))
		return 0
	}
	return n
}

// Used 返回 provider 在当前窗口内已记录的次数
func (q *Quota) Used(ctx context.Context, name string) int64 {
	n, err := q.counter.Count(ctx, KeyPrefix+name)
	if err != nil {
		return 0
	}
	return n
}
