package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/bulwark/cache"
	"github.com/ceyewan/bulwark/testkit"
)

// memCounter 记录 Incr 传入的 TTL，便于断言
type memCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	ttls   map[string][]time.Duration
	err    error
}

func newMemCounter() *memCounter {
	return &memCounter{counts: map[string]int64{}, ttls: map[string][]time.Duration{}}
}

func (m *memCounter) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.counts[key]++
	m.ttls[key] = append(m.ttls[key], ttl)
	return m.counts[key], nil
}

func (m *memCounter) Count(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	return m.counts[key], nil
}

func TestQuota(t *testing.T) {
	ctx := context.Background()

	t.Run("默认配额", func(t *testing.T) {
		q, err := NewQuota(newMemCounter(), nil)
		require.NoError(t, err)
		assert.Equal(t, Limit{Quota: 100, Window: time.Hour}, q.LimitFor("any"))
	})

	t.Run("缺少计数存储", func(t *testing.T) {
		_, err := NewQuota(nil, nil)
		assert.ErrorIs(t, err, ErrCounterNil)
	})

	t.Run("达到配额后耗尽", func(t *testing.T) {
		counter := newMemCounter()
		q, err := NewQuota(counter, &QuotaConfig{
			Default:   Limit{Quota: 100, Window: time.Hour},
			Providers: map[string]Limit{"receitaws": {Quota: 3, Window: time.Minute}},
		}, WithLogger(testkit.NewLogger()))
		require.NoError(t, err)

		for i := 1; i <= 3; i++ {
			assert.False(t, q.Exhausted(ctx, "receitaws"))
			assert.Equal(t, int64(i), q.Record(ctx, "receitaws"))
		}
		assert.True(t, q.Exhausted(ctx, "receitaws"))
		assert.False(t, q.Exhausted(ctx, "brasilapi"), "配额按 provider 隔离")
		assert.Equal(t, int64(3), q.Used(ctx, "receitaws"))

		assert.Equal(t, []time.Duration{time.Minute, time.Minute, time.Minute}, counter.ttls["ratelimit:receitaws"])
	})

	t.Run("负数配额表示不限制", func(t *testing.T) {
		q, err := NewQuota(newMemCounter(), &QuotaConfig{
			Providers: map[string]Limit{"internal": {Quota: -1}},
		})
		require.NoError(t, err)
		for range 500 {
			q.Record(ctx, "internal")
		}
		assert.False(t, q.Exhausted(ctx, "internal"))
		assert.Equal(t, time.Hour, q.LimitFor("internal").Window, "未设置窗口时继承默认值")
	})

	t.Run("只覆盖窗口时继承默认配额", func(t *testing.T) {
		q, err := NewQuota(newMemCounter(), &QuotaConfig{
			Default:   Limit{Quota: 2, Window: time.Hour},
			Providers: map[string]Limit{"receitaws": {Window: time.Minute}},
		})
		require.NoError(t, err)
		assert.Equal(t, Limit{Quota: 2, Window: time.Minute}, q.LimitFor("receitaws"))

		q.Record(ctx, "receitaws")
		q.Record(ctx, "receitaws")
		assert.True(t, q.Exhausted(ctx, "receitaws"), "未设置配额不应变成不限制")
	})

	t.Run("默认配额为负数时全部不限制", func(t *testing.T) {
		q, err := NewQuota(newMemCounter(), &QuotaConfig{Default: Limit{Quota: -1}})
		require.NoError(t, err)
		q.Record(ctx, "any")
		assert.False(t, q.Exhausted(ctx, "any"))
		assert.Equal(t, time.Hour, q.LimitFor("any").Window)
	})

	t.Run("计数存储故障时不跳过", func(t *testing.T) {
		counter := newMemCounter()
		counter.err = errors.New("redis down")
		q, err := NewQuota(counter, &QuotaConfig{Default: Limit{Quota: 1, Window: time.Minute}})
		require.NoError(t, err)
		assert.False(t, q.Exhausted(ctx, "p"))
		assert.Zero(t, q.Record(ctx, "p"))
	})

	t.Run("调用方配置不被修改", func(t *testing.T) {
		cfg := &QuotaConfig{Providers: map[string]Limit{"p": {Quota: 1}}}
		_, err := NewQuota(newMemCounter(), cfg)
		require.NoError(t, err)
		assert.Zero(t, cfg.Providers["p"].Window)
	})
}

func TestQuotaWithCacheStore(t *testing.T) {
	ctx := context.Background()
	store, err := cache.New(&cache.Config{Driver: cache.DriverMemory})
	require.NoError(t, err)
	defer store.Close()

	q, err := NewQuota(store, &QuotaConfig{Default: Limit{Quota: 2, Window: 100 * time.Millisecond}})
	require.NoError(t, err)

	q.Record(ctx, "p1")
	q.Record(ctx, "p1")
	assert.True(t, q.Exhausted(ctx, "p1"))

	// 窗口过期后计数器消失，配额恢复
	time.Sleep(150 * time.Millisecond)
	assert.False(t, q.Exhausted(ctx, "p1"))
	assert.Zero(t, q.Used(ctx, "p1"))
}

func TestStandalone(t *testing.T) {
	ctx := context.Background()
	l, err := NewStandalone(&StandaloneConfig{CleanupInterval: 10 * time.Millisecond, IdleTimeout: 20 * time.Millisecond})
	require.NoError(t, err)
	defer l.Close()

	t.Run("突发容量", func(t *testing.T) {
		r := Rate{PerSecond: 1, Burst: 2}
		ok, err := l.Allow(ctx, "email", r)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, _ = l.Allow(ctx, "email", r)
		assert.True(t, ok)
		ok, _ = l.Allow(ctx, "email", r)
		assert.False(t, ok)

		ok, _ = l.Allow(ctx, "whatsapp", r)
		assert.True(t, ok, "不同 key 互不影响")
	})

	t.Run("参数校验", func(t *testing.T) {
		_, err := l.Allow(ctx, "", Rate{PerSecond: 1, Burst: 1})
		assert.ErrorIs(t, err, ErrKeyEmpty)
		_, err = l.Allow(ctx, "k", Rate{})
		assert.ErrorIs(t, err, ErrInvalidRate)
	})

	t.Run("Wait 在令牌补充后返回", func(t *testing.T) {
		r := Rate{PerSecond: 20, Burst: 1}
		require.NoError(t, l.Wait(ctx, "pace", r))
		start := time.Now()
		require.NoError(t, l.Wait(ctx, "pace", r))
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	})

	t.Run("Wait 响应取消", func(t *testing.T) {
		r := Rate{PerSecond: 0.01, Burst: 1}
		require.NoError(t, l.Wait(ctx, "slow", r))
		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		assert.Error(t, l.Wait(cctx, "slow", r))
	})

	t.Run("关闭后拒绝", func(t *testing.T) {
		l2, err := NewStandalone(nil)
		require.NoError(t, err)
		require.NoError(t, l2.Close())
		require.NoError(t, l2.Close())
		_, err = l2.Allow(ctx, "k", Rate{PerSecond: 1, Burst: 1})
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, err := NewStandalone(nil)
	require.NoError(t, err)
	defer l.Close()

	r := gin.New()
	r.Use(GinMiddleware(l, nil, Rate{PerSecond: 0.001, Burst: 2}))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	codes := make([]int, 0, 3)
	for range 3 {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, "其他客户端不受影响")
}
