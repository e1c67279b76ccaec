package idem

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/bulwark/testkit"
)

func newMemory(t *testing.T, cfg *Config) Idempotency {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Driver = DriverMemory
	id, err := New(cfg, WithLogger(testkit.NewLogger()), WithMeter(testkit.NewMeter()))
	require.NoError(t, err)
	return id
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrConfigNil)

	_, err = New(&Config{Driver: "etcd"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(&Config{Driver: DriverRedis})
	assert.ErrorIs(t, err, ErrRedisConnectorRequired)
}

// runContract 两种后端共用的行为
func runContract(t *testing.T, id Idempotency) {
	ctx := context.Background()

	t.Run("结果被复用", func(t *testing.T) {
		key := "exec:" + testkit.NewID()
		var calls atomic.Int32
		fn := func(context.Context) ([]byte, error) {
			calls.Add(1)
			return []byte(`{"n":1}`), nil
		}
		first, err := id.Execute(ctx, key, fn)
		require.NoError(t, err)
		second, err := id.Execute(ctx, key, fn)
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("失败不保存", func(t *testing.T) {
		key := "fail:" + testkit.NewID()
		boom := errors.New("boom")
		_, err := id.Execute(ctx, key, func(context.Context) ([]byte, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)

		got, err := id.Execute(ctx, key, func(context.Context) ([]byte, error) { return []byte("ok"), nil })
		require.NoError(t, err)
		assert.Equal(t, "ok", string(got), "锁已释放，重新执行")
	})

	t.Run("空键", func(t *testing.T) {
		_, err := id.Execute(ctx, "", func(context.Context) ([]byte, error) { return nil, nil })
		assert.ErrorIs(t, err, ErrKeyEmpty)
		_, err = id.Consume(ctx, "", 0, func(context.Context) error { return nil })
		assert.ErrorIs(t, err, ErrKeyEmpty)
	})

	t.Run("消费只执行一次", func(t *testing.T) {
		key := "consume:" + testkit.NewID()
		var calls atomic.Int32
		fn := func(context.Context) error { calls.Add(1); return nil }

		executed, err := id.Consume(ctx, key, time.Minute, fn)
		require.NoError(t, err)
		assert.True(t, executed)
		executed, err = id.Consume(ctx, key, time.Minute, fn)
		require.NoError(t, err)
		assert.False(t, executed)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("并发请求等待首个结果", func(t *testing.T) {
		key := "concurrent:" + testkit.NewID()
		var calls atomic.Int32
		var wg sync.WaitGroup
		results := make([][]byte, 5)
		for n := range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[n], _ = id.Execute(ctx, key, func(context.Context) ([]byte, error) {
					calls.Add(1)
					time.Sleep(100 * time.Millisecond)
					return []byte("done"), nil
				})
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), calls.Load())
		for _, r := range results {
			assert.Equal(t, "done", string(r))
		}
	})
}

func TestMemory(t *testing.T) {
	runContract(t, newMemory(t, nil))
}

func TestRedis(t *testing.T) {
	conn := testkit.NewRedisContainerConnector(t)
	id, err := New(&Config{Driver: DriverRedis, Prefix: "test:idem:" + testkit.NewID() + ":"},
		WithRedisConnector(conn), WithLogger(testkit.NewLogger()))
	require.NoError(t, err)
	runContract(t, id)
}

func TestWaitTimeout(t *testing.T) {
	id := newMemory(t, &Config{WaitTimeout: 50 * time.Millisecond, WaitInterval: 10 * time.Millisecond})
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = id.Execute(ctx, "slow", func(context.Context) ([]byte, error) {
			close(started)
			<-release
			return []byte("late"), nil
		})
	}()
	<-started
	defer close(release)

	_, err := id.Execute(ctx, "slow", func(context.Context) ([]byte, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrConcurrentRequest)
}

func TestLockRefresh(t *testing.T) {
	id := newMemory(t, &Config{LockTTL: 60 * time.Millisecond, WaitTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = id.Execute(ctx, "long", func(context.Context) ([]byte, error) {
			time.Sleep(200 * time.Millisecond)
			return []byte("v"), nil
		})
	}()

	// 执行时间超过 LockTTL，续期保证锁不被抢走
	time.Sleep(120 * time.Millisecond)
	_, err := id.Execute(ctx, "long", func(context.Context) ([]byte, error) { return []byte("other"), nil })
	assert.ErrorIs(t, err, ErrConcurrentRequest)
	<-done

	got, err := id.Execute(ctx, "long", func(context.Context) ([]byte, error) { return []byte("other"), nil })
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	id := newMemory(t, nil)

	var calls atomic.Int32
	r := gin.New()
	r.POST("/orders", id.GinMiddleware(), func(c *gin.Context) {
		n := calls.Add(1)
		c.Header("X-Order", "o-1")
		c.JSON(http.StatusAccepted, gin.H{"call": n})
	})
	r.POST("/fail", id.GinMiddleware(), func(c *gin.Context) {
		calls.Add(1)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "x"})
	})

	do := func(path, key string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		r.ServeHTTP(w, req)
		return w
	}

	t.Run("相同键重放响应", func(t *testing.T) {
		calls.Store(0)
		first := do("/orders", "k1")
		second := do("/orders", "k1")
		assert.Equal(t, http.StatusAccepted, second.Code)
		assert.JSONEq(t, first.Body.String(), second.Body.String())
		assert.Equal(t, "o-1", second.Header().Get("X-Order"))
		assert.Equal(t, "true", second.Header().Get(ReplayHeader))
		assert.Empty(t, first.Header().Get(ReplayHeader))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("没有幂等键时每次执行", func(t *testing.T) {
		calls.Store(0)
		do("/orders", "")
		do("/orders", "")
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("错误响应不缓存", func(t *testing.T) {
		calls.Store(0)
		assert.Equal(t, http.StatusInternalServerError, do("/fail", "k2").Code)
		assert.Equal(t, http.StatusInternalServerError, do("/fail", "k2").Code)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("不同路由的相同键互不影响", func(t *testing.T) {
		calls.Store(0)
		do("/orders", "k3")
		do("/fail", "k3")
		assert.Equal(t, int32(2), calls.Load())
	})
}
