package idem

import (
	"context"
	"sync"
	"time"

	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/metrics"
	"github.com/ceyewan/bulwark/xerrors"
)

const processedMarker = "1"

type idem struct {
	cfg      Config
	store    Store
	logger   clog.Logger
	outcomes metrics.Counter
}

func (i *idem) Execute(ctx context.Context, key string, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if key == "" {
		return nil, ErrKeyEmpty
	}
	cached, token, locked, err := i.waitForResultOrLock(ctx, key)
	if err != nil {
		return nil, err
	}
	if !locked {
		i.count(ctx, "hit")
		i.logger.DebugContext(ctx, "idem result reused", clog.String("key", key))
		return cached, nil
	}
	return i.run(ctx, key, token, i.cfg.DefaultTTL, fn)
}

func (i *idem) Consume(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	if key == "" {
		return false, ErrKeyEmpty
	}
	if ttl <= 0 {
		ttl = i.cfg.DefaultTTL
	}
	_, token, locked, err := i.waitForResultOrLock(ctx, key)
	if err != nil {
		return false, err
	}
	if !locked {
		i.count(ctx, "hit")
		i.logger.DebugContext(ctx, "idem key already consumed", clog.String("key", key))
		return false, nil
	}
	_, err = i.run(ctx, key, token, ttl, func(ctx context.Context) ([]byte, error) {
		return []byte(processedMarker), fn(ctx)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// run 在持有锁的情况下执行 fn。fn 成功但结果保存失败时仍返回结果，
// 这种情况下后续相同键的请求会再次执行。
func (i *idem) run(ctx context.Context, key string, token LockToken, ttl time.Duration, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	stop := i.startLockRefresh(key, token)
	val, err := fn(ctx)
	stop()

	// 释放与保存不受调用方取消影响
	bg := context.WithoutCancel(ctx)
	if err != nil {
		i.count(ctx, "failed")
		if uerr := i.store.Unlock(bg, key, token); uerr != nil {
			i.logger.WarnContext(ctx, "failed to release idem lock", clog.String("key", key), clog.Error(uerr))
		}
		return nil, err
	}

	i.count(ctx, "executed")
	if serr := i.store.SetResult(bg, key, val, ttl, token); serr != nil {
		i.logger.WarnContext(ctx, "failed to save idem result", clog.String("key", key), clog.Error(serr))
		_ = i.store.Unlock(bg, key, token)
	}
	return val, nil
}

// waitForResultOrLock 返回已保存的结果，或者拿到锁 (locked=true)。
// 其他请求持有锁时按 WaitInterval 轮询，直到 WaitTimeout 或 ctx 结束。
func (i *idem) waitForResultOrLock(ctx context.Context, key string) ([]byte, LockToken, bool, error) {
	if i.cfg.WaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.cfg.WaitTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(i.cfg.WaitInterval)
	defer ticker.Stop()
	for {
		val, err := i.store.GetResult(ctx, key)
		if err == nil {
			return val, "", false, nil
		}
		if !xerrors.Is(err, ErrResultNotFound) {
			return nil, "", false, err
		}

		token, ok, err := i.store.Lock(ctx, key, i.cfg.LockTTL)
		if err != nil {
			return nil, "", false, err
		}
		if ok {
			return nil, token, true, nil
		}

		select {
		case <-ctx.Done():
			i.count(ctx, "concurrent")
			return nil, "", false, xerrors.Wrap(ErrConcurrentRequest, ctx.Err().Error())
		case <-ticker.C:
		}
	}
}

// startLockRefresh 周期性续期，返回的 stop 会等待续期协程退出
func (i *idem) startLockRefresh(key string, token LockToken) func() {
	interval := i.cfg.LockTTL / 3
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := i.store.Refresh(context.Background(), key, token, i.cfg.LockTTL); err != nil {
					i.logger.Warn("stopped refreshing idem lock", clog.String("key", key), clog.Error(err))
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

func (i *idem) count(ctx context.Context, outcome string) {
	i.outcomes.Inc(ctx, metrics.L("outcome", outcome))
}
