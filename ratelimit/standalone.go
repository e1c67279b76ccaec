package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/metrics"
)

// StandaloneConfig 单机令牌桶配置
type StandaloneConfig struct {
	// CleanupInterval 清理空闲限流器的间隔 (默认: 1m)
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	// IdleTimeout 限流器空闲多久后回收 (默认: 5m)
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

func (c *StandaloneConfig) setDefaults() {
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
}

// bucket 包装 rate.Limiter 并记录最后访问时间
type bucket struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

func (b *bucket) touch() {
	b.mu.Lock()
	b.lastSeen = time.Now()
	b.mu.Unlock()
}

type standaloneLimiter struct {
	cfg     StandaloneConfig
	logger  clog.Logger
	allowed metrics.Counter
	denied  metrics.Counter
	waited  metrics.Histogram

	buckets   sync.Map // map[string]*bucket
	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewStandalone 创建进程内令牌桶限流器，后台协程定期回收空闲的桶
func NewStandalone(cfg *StandaloneConfig, opts ...Option) (Limiter, error) {
	c := StandaloneConfig{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()
	o := applyOptions(opts)

	l := &standaloneLimiter{
		cfg:    c,
		logger: o.logger,
		stopCh: make(chan struct{}),
	}

	var err error
	if l.allowed, err = o.meter.Counter("bulwark_ratelimit_allowed_total", "token bucket acquisitions that succeeded"); err != nil {
		return nil, err
	}
	if l.denied, err = o.meter.Counter("bulwark_ratelimit_denied_total", "token bucket acquisitions that were refused"); err != nil {
		return nil, err
	}
	if l.waited, err = o.meter.Histogram("bulwark_ratelimit_wait_seconds", "time spent waiting for a token",
		metrics.WithUnit("s"), metrics.WithBuckets(0.001, 0.01, 0.1, 0.5, 1, 5, 30)); err != nil {
		return nil, err
	}

	go l.cleanup()

	l.logger.Info("standalone rate limiter created",
		clog.Duration("cleanup_interval", c.CleanupInterval),
		clog.Duration("idle_timeout", c.IdleTimeout))
	return l, nil
}

func (l *standaloneLimiter) Allow(ctx context.Context, key string, r Rate) (bool, error) {
	b, err := l.bucket(key, r)
	if err != nil {
		return false, err
	}
	b.touch()

	if b.limiter.Allow() {
		l.allowed.Inc(ctx)
		return true, nil
	}
	l.denied.Inc(ctx)
	l.logger.DebugContext(ctx, "rate limit exceeded",
		clog.String("key", key), clog.Float64("rate", r.PerSecond), clog.Int("burst", r.Burst))
	return false, nil
}

func (l *standaloneLimiter) Wait(ctx context.Context, key string, r Rate) error {
	b, err := l.bucket(key, r)
	if err != nil {
		return err
	}
	b.touch()

	start := time.Now()
	if err := b.limiter.Wait(ctx); err != nil {
		l.denied.Inc(ctx)
		return err
	}
	l.waited.Record(ctx, time.Since(start).Seconds())
	l.allowed.Inc(ctx)
	return nil
}

// bucket 获取或创建桶，同一 key 的规则变化时使用新桶
func (l *standaloneLimiter) bucket(key string, r Rate) (*bucket, error) {
	if key == "" {
		return nil, ErrKeyEmpty
	}
	if !r.valid() {
		return nil, ErrInvalidRate
	}
	select {
	case <-l.stopCh:
		return nil, ErrClosed
	default:
	}

	id := fmt.Sprintf("%s:%v:%d", key, r.PerSecond, r.Burst)
	if v, ok := l.buckets.Load(id); ok {
		return v.(*bucket), nil
	}
	b := &bucket{limiter: rate.NewLimiter(rate.Limit(r.PerSecond), r.Burst), lastSeen: time.Now()}
	actual, _ := l.buckets.LoadOrStore(id, b)
	return actual.(*bucket), nil
}

func (l *standaloneLimiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			removed := 0
			l.buckets.Range(func(key, value any) bool {
				b := value.(*bucket)
				b.mu.Lock()
				idle := now.Sub(b.lastSeen)
				b.mu.Unlock()
				if idle > l.cfg.IdleTimeout {
					l.buckets.Delete(key)
					removed++
				}
				return true
			})
			if removed > 0 {
				l.logger.Debug("cleaned up idle limiters", clog.Int("count", removed))
			}
		case <-l.stopCh:
			return
		}
	}
}

func (l *standaloneLimiter) Close() error {
	l.closeOnce.Do(func() { close(l.stopCh) })
	return nil
}
