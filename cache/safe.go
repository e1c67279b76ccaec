package cache

import (
	"context"
	"time"

	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/metrics"
)

// SafeStore 尽力而为的 Store：内部故障被吞掉，记为 WARN 日志并计入 bulwark_cache_errors_total。
// Get 出错视为未命中，Set/Del 静默失败，DelByPrefix/Incr/Count 返回 0。
// 所有方法的 error 返回值恒为 nil，保留它只是为了满足 Store 接口。
type SafeStore struct {
	inner  Store
	logger clog.Logger
	errors metrics.Counter
}

// Safe 包装 store
func Safe(store Store, opts ...Option) *SafeStore {
	opt := applyOptions(opts)
	errs, err := opt.meter.Counter("bulwark_cache_errors_total", "cache operations that failed and were swallowed")
	if err != nil {
		opt.logger.Warn("failed to create cache error counter", clog.Error(err))
		errs, _ = metrics.Discard().Counter("", "")
	}
	return &SafeStore{inner: store, logger: opt.logger, errors: errs}
}

func (s *SafeStore) swallow(ctx context.Context, op, key string, err error) {
	s.logger.WarnContext(ctx, "cache operation failed",
		clog.String("op", op), clog.String("key", key), clog.Error(err))
	s.errors.Inc(ctx, metrics.L("op", op))
}

func (s *SafeStore) Get(ctx context.Context, key string, dest any) (bool, error) {
	hit, err := s.inner.Get(ctx, key, dest)
	if err != nil {
		s.swallow(ctx, "get", key, err)
		return false, nil
	}
	return hit, nil
}

func (s *SafeStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := s.inner.Set(ctx, key, value, ttl); err != nil {
		s.swallow(ctx, "set", key, err)
	}
	return nil
}

func (s *SafeStore) Del(ctx context.Context, key string) error {
	if err := s.inner.Del(ctx, key); err != nil {
		s.swallow(ctx, "del", key, err)
	}
	return nil
}

func (s *SafeStore) DelByPrefix(ctx context.Context, prefix string) (int64, error) {
	n, err := s.inner.DelByPrefix(ctx, prefix)
	if err != nil {
		s.swallow(ctx, "del_by_prefix", prefix, err)
		return 0, nil
	}
	return n, nil
}

func (s *SafeStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := s.inner.Incr(ctx, key, ttl)
	if err != nil {
		s.swallow(ctx, "incr", key, err)
		return 0, nil
	}
	return n, nil
}

func (s *SafeStore) Count(ctx context.Context, key string) (int64, error) {
	n, err := s.inner.Count(ctx, key)
	if err != nil {
		s.swallow(ctx, "count", key, err)
		return 0, nil
	}
	return n, nil
}

func (s *SafeStore) Close() error {
	if err := s.inner.Close(); err != nil {
		s.swallow(context.Background(), "close", "", err)
	}
	return nil
}
