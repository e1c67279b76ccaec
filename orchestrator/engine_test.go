package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/bulwark/breaker"
	"github.com/ceyewan/bulwark/cache"
	"github.com/ceyewan/bulwark/provider"
	"github.com/ceyewan/bulwark/ratelimit"
	"github.com/ceyewan/bulwark/testkit"
)

const (
	cnpjA = "12345678000195"
	cnpjB = "11222333000181"
	cpf   = "52998224725"
)

// fake 同时实现三种能力，行为可在测试中切换
type fake struct {
	desc  provider.Descriptor
	calls atomic.Int32

	mu      sync.Mutex
	err     error
	delay   time.Duration
	down    bool
	panics  bool
	lastMsg *provider.Message
}

func newFake(name string, c provider.Capability, priority int) *fake {
	return &fake{desc: provider.Descriptor{Name: name, Capability: c, Priority: priority}}
}

func newSender(name, channel string, priority int) *fake {
	f := newFake(name, provider.CapabilitySendNotification, priority)
	f.desc.Channel = channel
	return f
}

func (f *fake) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fake) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *fake) Descriptor() provider.Descriptor { return f.desc }

func (f *fake) IsAvailable(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.down
}

func (f *fake) do(ctx context.Context) error {
	f.calls.Add(1)
	f.mu.Lock()
	err, delay, panics := f.err, f.delay, f.panics
	f.mu.Unlock()
	if panics {
		panic("adapter bug")
	}
	if delay > 0 {
		// 故意忽略 ctx，模拟不守规矩的适配器
		time.Sleep(delay)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (f *fake) Validate(ctx context.Context, subject string) (*provider.Validation, error) {
	if err := f.do(ctx); err != nil {
		return nil, err
	}
	return &provider.Validation{IsValid: true, Identifier: subject, LegalName: "ACME via " + f.desc.Name, Status: "ATIVA"}, nil
}

func (f *fake) Analyze(ctx context.Context, subject string) (*provider.RiskReport, error) {
	if err := f.do(ctx); err != nil {
		return nil, err
	}
	return &provider.RiskReport{Subject: subject, Score: 720, RiskLevel: provider.RiskLow}, nil
}

func (f *fake) Send(ctx context.Context, msg *provider.Message) (*provider.Receipt, error) {
	f.mu.Lock()
	f.lastMsg = msg
	f.mu.Unlock()
	if err := f.do(ctx); err != nil {
		return nil, err
	}
	return &provider.Receipt{Success: true, MessageID: "m-" + f.desc.Name, Provider: f.desc.Name, Timestamp: time.Now()}, nil
}

// recordingStore 记录写入与计数调用
type recordingStore struct {
	cache.Store
	mu   sync.Mutex
	sets []string
	ttls map[string][]time.Duration
}

func (r *recordingStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	r.mu.Lock()
	r.sets = append(r.sets, key)
	r.mu.Unlock()
	return r.Store.Set(ctx, key, value, ttl)
}

func (r *recordingStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	r.mu.Lock()
	r.ttls[key] = append(r.ttls[key], ttl)
	r.mu.Unlock()
	return r.Store.Incr(ctx, key, ttl)
}

func (r *recordingStore) setKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sets...)
}

func newStore(t *testing.T) *recordingStore {
	t.Helper()
	s, err := cache.New(&cache.Config{Driver: cache.DriverMemory})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return &recordingStore{Store: s, ttls: map[string][]time.Duration{}}
}

func newEngine(t *testing.T, cfg *Config, providers ...provider.Provider) (*Engine, *recordingStore) {
	t.Helper()
	store := newStore(t)
	e, err := New(providers, store, cfg, WithLogger(testkit.NewLogger()), WithMeter(testkit.NewMeter()))
	require.NoError(t, err)
	return e, store
}

var errDown = provider.Unavailable("test", "503 service unavailable", nil)

func TestNew(t *testing.T) {
	store := newStore(t)

	t.Run("缺少缓存", func(t *testing.T) {
		_, err := New(nil, nil, nil)
		assert.ErrorIs(t, err, ErrStoreRequired)
	})

	t.Run("重复名称", func(t *testing.T) {
		_, err := New([]provider.Provider{
			newFake("p", provider.CapabilityValidateIdentifier, 0),
			newFake("p", provider.CapabilityAnalyzeRisk, 0),
		}, store, nil)
		assert.ErrorIs(t, err, ErrDuplicateProvider)
	})

	t.Run("链中引用未知 provider", func(t *testing.T) {
		_, err := New([]provider.Provider{newFake("p", provider.CapabilityValidateIdentifier, 0)}, store,
			&Config{Chains: ChainConfig{ValidateIdentifier: []string{"p", "ghost"}}})
		assert.ErrorIs(t, err, ErrUnknownProvider)
	})

	t.Run("链中引用其他能力的 provider", func(t *testing.T) {
		_, err := New([]provider.Provider{newFake("risk", provider.CapabilityAnalyzeRisk, 0)}, store,
			&Config{Chains: ChainConfig{ValidateIdentifier: []string{"risk"}}})
		assert.ErrorIs(t, err, ErrUnknownProvider)
	})

	t.Run("通知渠道缺失", func(t *testing.T) {
		_, err := New([]provider.Provider{newSender("s", "fax", 0)}, store, nil)
		assert.ErrorIs(t, err, ErrInvalidProvider)
	})

	t.Run("未实现能力接口", func(t *testing.T) {
		_, err := New([]provider.Provider{bare{}}, store, nil)
		assert.ErrorIs(t, err, ErrInvalidProvider)
	})

	t.Run("负数缓存时长", func(t *testing.T) {
		_, err := New(nil, store, &Config{CacheTTL: TTLConfig{AnalyzeRisk: -time.Second}})
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("默认值", func(t *testing.T) {
		e, err := New(nil, store, nil)
		require.NoError(t, err)
		assert.Equal(t, 15*time.Second, e.cfg.CallTimeout)
		assert.Equal(t, 720*time.Hour, e.cfg.CacheTTL.ValidateIdentifier)
		assert.Equal(t, 24*time.Hour, e.cfg.CacheTTL.AnalyzeRisk)
	})
}

type bare struct{}

func (bare) Descriptor() provider.Descriptor {
	return provider.Descriptor{Name: "bare", Capability: provider.CapabilityValidateIdentifier}
}
func (bare) IsAvailable(context.Context) bool { return true }

func TestChainOrder(t *testing.T) {
	a := newFake("a", provider.CapabilityValidateIdentifier, 2)
	b := newFake("b", provider.CapabilityValidateIdentifier, 1)
	c := newFake("c", provider.CapabilityValidateIdentifier, 1)
	mail := newSender("mail", provider.ChannelEmail, 0)
	wa := newSender("wa", provider.ChannelWhatsApp, 0)

	t.Run("按优先级排序且相同优先级保持注册顺序", func(t *testing.T) {
		e, _ := newEngine(t, nil, a, b, c, wa, mail)
		names := func(ds []provider.Descriptor) []string {
			var out []string
			for _, d := range ds {
				out = append(out, d.Name)
			}
			return out
		}
		assert.Equal(t, []string{"b", "c", "a"}, names(e.Providers(provider.CapabilityValidateIdentifier)))
		assert.Equal(t, []string{"mail", "wa"}, names(e.Providers(provider.CapabilitySendNotification)))
		assert.Empty(t, e.Providers(provider.CapabilityAnalyzeRisk))
	})

	t.Run("显式配置覆盖优先级并排除未列出的", func(t *testing.T) {
		e, _ := newEngine(t, &Config{Chains: ChainConfig{ValidateIdentifier: []string{"a", "c"}}}, a, b, c)
		ds := e.Providers(provider.CapabilityValidateIdentifier)
		require.Len(t, ds, 2)
		assert.Equal(t, "a", ds[0].Name)
		assert.Equal(t, "c", ds[1].Name)
	})
}

// 缓存命中直接返回，不调用任何 provider
func TestCacheShortCircuit(t *testing.T) {
	ctx := context.Background()

	t.Run("成功结果被缓存", func(t *testing.T) {
		p1 := newFake("p1", provider.CapabilityValidateIdentifier, 0)
		e, store := newEngine(t, nil, p1)

		env, err := e.ValidateIdentifier(ctx, "12.345.678/0001-95", false)
		require.NoError(t, err)
		assert.True(t, env.Success)
		assert.Equal(t, "p1", env.Source)
		assert.Equal(t, []string{"validate-identifier:" + cnpjA}, store.setKeys())

		env, err = e.ValidateIdentifier(ctx, cnpjA, false)
		require.NoError(t, err)
		assert.Equal(t, "p1_CACHED", env.Source)
		assert.True(t, env.Cached())
		assert.Equal(t, "p1", env.Provider())
		assert.Equal(t, "ACME via p1", env.Data.LegalName)
		assert.Equal(t, int32(1), p1.calls.Load(), "缓存命中不应调用 provider")

		env, err = e.ValidateIdentifier(ctx, cnpjA, true)
		require.NoError(t, err)
		assert.Equal(t, "p1", env.Source, "强制刷新绕过缓存")
		assert.Equal(t, int32(2), p1.calls.Load())
	})

	t.Run("预置缓存直接返回", func(t *testing.T) {
		p1 := newFake("p1", provider.CapabilityValidateIdentifier, 0)
		e, store := newEngine(t, nil, p1)
		seeded := &Envelope[provider.Validation]{
			Success:   true,
			Data:      &provider.Validation{IsValid: true, Identifier: cnpjA, LegalName: "SEEDED"},
			Source:    "brasilapi",
			Timestamp: time.Now(),
		}
		require.NoError(t, store.Set(ctx, "validate-identifier:"+cnpjA, seeded, time.Hour))

		env, err := e.ValidateIdentifier(ctx, cnpjA, false)
		require.NoError(t, err)
		assert.Equal(t, "brasilapi_CACHED", env.Source)
		assert.Equal(t, "SEEDED", env.Data.LegalName)
		assert.Zero(t, p1.calls.Load())
	})

	t.Run("风险评估按 subject 区分缓存", func(t *testing.T) {
		r := newFake("serasa", provider.CapabilityAnalyzeRisk, 0)
		e, _ := newEngine(t, nil, r)
		_, err := e.AnalyzeRisk(ctx, cnpjA, false)
		require.NoError(t, err)
		env, err := e.AnalyzeRisk(ctx, cpf, false)
		require.NoError(t, err)
		assert.Equal(t, "serasa", env.Source)
		env, err = e.AnalyzeRisk(ctx, cpf, false)
		require.NoError(t, err)
		assert.Equal(t, "serasa_CACHED", env.Source)
		assert.Equal(t, int32(2), r.calls.Load())
	})
}

// brokenStore 所有操作都失败，模拟缓存后端不可用
type brokenStore struct {
	calls atomic.Int32
}

var errCacheDown = errors.New("redis: connection refused")

func (b *brokenStore) Get(context.Context, string, any) (bool, error) {
	b.calls.Add(1)
	return false, errCacheDown
}

func (b *brokenStore) Set(context.Context, string, any, time.Duration) error {
	b.calls.Add(1)
	return errCacheDown
}

func (b *brokenStore) Del(context.Context, string) error {
	b.calls.Add(1)
	return errCacheDown
}

func (b *brokenStore) DelByPrefix(context.Context, string) (int64, error) {
	b.calls.Add(1)
	return 0, errCacheDown
}

func (b *brokenStore) Incr(context.Context, string, time.Duration) (int64, error) {
	b.calls.Add(1)
	return 0, errCacheDown
}

func (b *brokenStore) Count(context.Context, string) (int64, error) {
	b.calls.Add(1)
	return 0, errCacheDown
}

func (b *brokenStore) Close() error { return nil }

func TestCacheUnavailable(t *testing.T) {
	ctx := context.Background()
	store := &brokenStore{}
	p1 := newFake("p1", provider.CapabilityValidateIdentifier, 0)
	risk := newFake("bureau", provider.CapabilityAnalyzeRisk, 0)
	e, err := New([]provider.Provider{p1, risk}, store, &Config{
		RateLimit: ratelimit.QuotaConfig{Default: ratelimit.Limit{Quota: 1, Window: time.Hour}},
	}, WithLogger(testkit.NewLogger()))
	require.NoError(t, err)

	t.Run("缓存故障时仍调用 provider", func(t *testing.T) {
		for i := 1; i <= 3; i++ {
			env, err := e.ValidateIdentifier(ctx, cnpjA, false)
			require.NoError(t, err)
			assert.True(t, env.Success)
			assert.Equal(t, "p1", env.Source, "无法读取缓存时不会返回缓存结果")
			assert.Equal(t, "ACME via p1", env.Data.LegalName)
			assert.Equal(t, int32(i), p1.calls.Load(), "计数读取失败不触发配额跳过")
		}

		env, err := e.AnalyzeRisk(ctx, cpf, false)
		require.NoError(t, err)
		assert.True(t, env.Success)
		assert.Equal(t, "bureau", env.Source)
		assert.False(t, env.Data.Mock)
	})

	t.Run("失效操作不返回缓存错误", func(t *testing.T) {
		require.NoError(t, e.Invalidate(ctx, provider.CapabilityValidateIdentifier, cnpjA))
		n, err := e.InvalidateCapability(ctx, provider.CapabilityAnalyzeRisk)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	assert.Positive(t, store.calls.Load())
	for _, snap := range e.Breakers() {
		assert.Equal(t, breaker.StateClosed, snap.State, "缓存故障不计入熔断")
	}
}

func TestDefinitiveStop(t *testing.T) {
	ctx := context.Background()
	p1 := newFake("p1", provider.CapabilityValidateIdentifier, 0)
	p2 := newFake("p2", provider.CapabilityValidateIdentifier, 1)
	p3 := newFake("p3", provider.CapabilityValidateIdentifier, 2)
	p1.setErr(provider.NotFound("p1", "cnpj not registered"))
	e, store := newEngine(t, nil, p1, p2, p3)

	for range 6 {
		env, err := e.ValidateIdentifier(ctx, cnpjA, false)
		require.NoError(t, err)
		assert.False(t, env.Success)
		assert.Equal(t, "p1", env.Source)
		assert.Equal(t, "not_found: cnpj not registered", env.Error)
		assert.False(t, env.Degraded())
	}
	assert.Zero(t, p2.calls.Load())
	assert.Zero(t, p3.calls.Load())
	assert.Empty(t, store.setKeys(), "确定性否定结果不缓存")

	snap := breakerOf(e, "p1")
	assert.Equal(t, breaker.StateClosed, snap.State, "确定性结果说明服务健康，不计入熔断")
	assert.Zero(t, snap.ConsecutiveFailures)
}

func breakerOf(e *Engine, name string) breaker.Snapshot {
	for _, s := range e.Breakers() {
		if s.Name == name {
			return s
		}
	}
	return breaker.Snapshot{Name: name}
}

// 连续失败达到阈值后熔断打开
func TestBreakerTrip(t *testing.T) {
	ctx := context.Background()
	primary := newFake("primary", provider.CapabilityValidateIdentifier, 0)
	secondary := newFake("secondary", provider.CapabilityValidateIdentifier, 1)
	primary.setErr(errDown)
	e, _ := newEngine(t, &Config{Breaker: breaker.Config{Threshold: 5, Cooldown: time.Minute}}, primary, secondary)

	for i := 1; i <= 5; i++ {
		env, err := e.ValidateIdentifier(ctx, cnpjA, true)
		require.NoError(t, err)
		assert.Equal(t, "secondary", env.Source)
		assert.Equal(t, int32(i), primary.calls.Load())
	}
	assert.Equal(t, breaker.StateOpen, breakerOf(e, "primary").State)

	env, err := e.ValidateIdentifier(ctx, cnpjA, true)
	require.NoError(t, err)
	assert.Equal(t, "secondary", env.Source)
	assert.Equal(t, int32(5), primary.calls.Load(), "第 6 次请求不应调用已熔断的 provider")
	assert.Equal(t, int32(6), secondary.calls.Load())
}

func TestBreakerReset(t *testing.T) {
	ctx := context.Background()
	p1 := newFake("p1", provider.CapabilityValidateIdentifier, 0)
	p2 := newFake("p2", provider.CapabilityValidateIdentifier, 1)
	e, _ := newEngine(t, nil, p1, p2)

	p1.setErr(errDown)
	for range 4 {
		_, _ = e.ValidateIdentifier(ctx, cnpjA, true)
	}
	assert.Equal(t, uint32(4), breakerOf(e, "p1").ConsecutiveFailures)

	p1.setErr(nil)
	env, _ := e.ValidateIdentifier(ctx, cnpjA, true)
	assert.Equal(t, "p1", env.Source)
	assert.Zero(t, breakerOf(e, "p1").ConsecutiveFailures)

	p1.setErr(errDown)
	for range 4 {
		_, _ = e.ValidateIdentifier(ctx, cnpjA, true)
	}
	assert.Equal(t, breaker.StateClosed, breakerOf(e, "p1").State)

	before := p1.calls.Load()
	_, _ = e.ValidateIdentifier(ctx, cnpjA, true)
	assert.Equal(t, before+1, p1.calls.Load(), "第五次新的连续失败之前仍会调用")
	assert.Equal(t, breaker.StateOpen, breakerOf(e, "p1").State)
}

func TestHalfOpenRecovery(t *testing.T) {
	ctx := context.Background()
	cooldown := 50 * time.Millisecond
	p1 := newFake("p1", provider.CapabilityValidateIdentifier, 0)
	p2 := newFake("p2", provider.CapabilityValidateIdentifier, 1)
	e, _ := newEngine(t, &Config{Breaker: breaker.Config{Threshold: 2, Cooldown: cooldown}}, p1, p2)

	p1.setErr(errDown)
	_, _ = e.ValidateIdentifier(ctx, cnpjA, true)
	_, _ = e.ValidateIdentifier(ctx, cnpjA, true)
	snap := breakerOf(e, "p1")
	require.Equal(t, breaker.StateOpen, snap.State)
	assert.False(t, snap.OpenUntil.IsZero())

	env, _ := e.ValidateIdentifier(ctx, cnpjA, true)
	assert.Equal(t, "p2", env.Source)
	assert.Equal(t, int32(2), p1.calls.Load())

	time.Sleep(cooldown + 30*time.Millisecond)
	p1.setErr(nil)
	env, _ = e.ValidateIdentifier(ctx, cnpjA, true)
	assert.Equal(t, "p1", env.Source, "冷却结束后重新尝试")

	snap = breakerOf(e, "p1")
	assert.Equal(t, breaker.StateClosed, snap.State)
	assert.Zero(t, snap.ConsecutiveFailures)
	assert.True(t, snap.OpenUntil.IsZero())
}

func TestQuotaSkip(t *testing.T) {
	ctx := context.Background()
	p1 := newFake("p1", provider.CapabilityAnalyzeRisk, 0)
	p2 := newFake("p2", provider.CapabilityAnalyzeRisk, 1)
	e, _ := newEngine(t, &Config{RateLimit: ratelimit.QuotaConfig{
		Providers: map[string]ratelimit.Limit{"p1": {Quota: 2, Window: time.Hour}},
	}}, p1, p2)

	for range 2 {
		env, _ := e.AnalyzeRisk(ctx, cnpjA, true)
		assert.Equal(t, "p1", env.Source)
	}
	env, _ := e.AnalyzeRisk(ctx, cnpjA, true)
	assert.Equal(t, "p2", env.Source)
	assert.Equal(t, int32(2), p1.calls.Load())

	snap := breakerOf(e, "p1")
	assert.Equal(t, breaker.StateClosed, snap.State, "配额跳过不影响熔断")
	assert.Zero(t, snap.ConsecutiveFailures)
}

func TestTotalExhaustion(t *testing.T) {
	ctx := context.Background()

	t.Run("登记校验", func(t *testing.T) {
		p1 := newFake("p1", provider.CapabilityValidateIdentifier, 0)
		p2 := newFake("p2", provider.CapabilityValidateIdentifier, 1)
		p1.setErr(errDown)
		p2.setDown(true)
		e, store := newEngine(t, nil, p1, p2)

		env, err := e.ValidateIdentifier(ctx, cnpjA, false)
		require.NoError(t, err)
		assert.Equal(t, SourceFallback, env.Source)
		assert.True(t, env.Degraded())
		assert.False(t, env.Success)
		assert.Equal(t, "no validation service available", env.Error)
		assert.Empty(t, env.Provider())
		assert.False(t, env.Timestamp.IsZero())

		_, _ = e.ValidateIdentifier(ctx, cnpjA, false)
		assert.Equal(t, int32(2), p1.calls.Load(), "降级结果不缓存，后续请求仍调用 provider")
		assert.Zero(t, p2.calls.Load(), "不可用的 provider 直接跳过")
		assert.Empty(t, store.setKeys())
	})

	t.Run("风险评估返回占位评分", func(t *testing.T) {
		e, store := newEngine(t, nil)
		env, err := e.AnalyzeRisk(ctx, cnpjA, false)
		require.NoError(t, err)
		assert.Equal(t, SourceFallback, env.Source)
		assert.True(t, env.Success)
		require.NotNil(t, env.Data)
		assert.True(t, env.Data.Mock)
		assert.Equal(t, MockRiskReport(cnpjA).Score, env.Data.Score)
		assert.NotEmpty(t, env.Data.Recommendations)
		assert.Empty(t, store.setKeys())
	})

	t.Run("通知发送", func(t *testing.T) {
		mail := newSender("mail", provider.ChannelEmail, 0)
		mail.setErr(errDown)
		e, _ := newEngine(t, nil, mail)
		env, err := e.Send(ctx, &provider.Message{Channel: provider.ChannelEmail, To: "ops@example.com"})
		require.NoError(t, err)
		assert.Equal(t, SourceFallback, env.Source)
		assert.False(t, env.Success)
		assert.Equal(t, "no delivery provider available", env.Error)
	})
}

// 所有配额耗尽场景
func TestAllQuotasExhausted(t *testing.T) {
	ctx := context.Background()
	p1 := newFake("p1", provider.CapabilityValidateIdentifier, 0)
	p2 := newFake("p2", provider.CapabilityValidateIdentifier, 1)
	e, store := newEngine(t, &Config{RateLimit: ratelimit.QuotaConfig{Default: ratelimit.Limit{Quota: 3, Window: time.Hour}}}, p1, p2)

	for _, name := range []string{"p1", "p2"} {
		for range 3 {
			_, err := store.Incr(ctx, ratelimit.KeyPrefix+name, time.Hour)
			require.NoError(t, err)
		}
	}

	env, err := e.ValidateIdentifier(ctx, cnpjA, false)
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, env.Source)
	assert.Zero(t, p1.calls.Load())
	assert.Zero(t, p2.calls.Load())
}

func TestCounterIncrements(t *testing.T) {
	ctx := context.Background()
	p1 := newFake("p1", provider.CapabilityValidateIdentifier, 0)
	p2 := newFake("p2", provider.CapabilityValidateIdentifier, 1)
	p3 := newFake("p3", provider.CapabilityValidateIdentifier, 2)
	p1.setErr(errDown)
	p3.setDown(true)
	window := 10 * time.Minute
	e, store := newEngine(t, &Config{RateLimit: ratelimit.QuotaConfig{Default: ratelimit.Limit{Quota: 100, Window: window}}}, p1, p2, p3)

	for range 3 {
		_, _ = e.ValidateIdentifier(ctx, cnpjA, true)
	}

	count := func(name string) int64 {
		n, err := store.Count(ctx, ratelimit.KeyPrefix+name)
		require.NoError(t, err)
		return n
	}
	assert.Equal(t, int64(3), count("p1"), "失败的调用同样计数")
	assert.Equal(t, int64(3), count("p2"))
	assert.Zero(t, count("p3"), "跳过的 provider 不计数")
	assert.Equal(t, []time.Duration{window, window, window}, store.ttls[ratelimit.KeyPrefix+"p1"])

	// 缓存命中不计数
	_, _ = e.ValidateIdentifier(ctx, cnpjA, false)
	assert.Equal(t, int64(3), count("p2"))
}

func TestCallTimeout(t *testing.T) {
	ctx := context.Background()
	slow := newFake("slow", provider.CapabilityValidateIdentifier, 0)
	slow.delay = 300 * time.Millisecond
	fast := newFake("fast", provider.CapabilityValidateIdentifier, 1)
	e, _ := newEngine(t, &Config{CallTimeout: 30 * time.Millisecond}, slow, fast)

	start := time.Now()
	env, err := e.ValidateIdentifier(ctx, cnpjA, false)
	require.NoError(t, err)
	assert.Equal(t, "fast", env.Source)
	assert.Less(t, time.Since(start), 250*time.Millisecond, "不等待忽略 ctx 的适配器")
	assert.Equal(t, uint32(1), breakerOf(e, "slow").ConsecutiveFailures, "超时计为熔断失败")
}

func TestCallerCancellationDetached(t *testing.T) {
	p1 := newFake("p1", provider.CapabilityValidateIdentifier, 0)
	e, _ := newEngine(t, nil, p1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env, err := e.ValidateIdentifier(ctx, cnpjA, false)
	require.NoError(t, err)
	assert.Equal(t, "p1", env.Source, "调用方取消不影响进行中的调用")
}

func TestProviderPanic(t *testing.T) {
	p1 := newFake("p1", provider.CapabilityValidateIdentifier, 0)
	p1.panics = true
	p2 := newFake("p2", provider.CapabilityValidateIdentifier, 1)
	e, _ := newEngine(t, nil, p1, p2)

	env, err := e.ValidateIdentifier(context.Background(), cnpjA, false)
	require.NoError(t, err)
	assert.Equal(t, "p2", env.Source)
	assert.Equal(t, uint32(1), breakerOf(e, "p1").ConsecutiveFailures)
}

func TestInvalidInput(t *testing.T) {
	ctx := context.Background()
	p1 := newFake("p1", provider.CapabilityValidateIdentifier, 0)
	r := newFake("r", provider.CapabilityAnalyzeRisk, 0)
	mail := newSender("mail", provider.ChannelEmail, 0)
	e, _ := newEngine(t, nil, p1, r, mail)

	_, err := e.ValidateIdentifier(ctx, "123", false)
	assert.ErrorIs(t, err, ErrInvalidSubject)
	assert.ErrorIs(t, err, provider.ErrInvalidDocument)

	_, err = e.ValidateIdentifier(ctx, cpf, false)
	assert.ErrorIs(t, err, ErrInvalidSubject, "登记校验只接受 CNPJ")

	_, err = e.AnalyzeRisk(ctx, "12345678000196", false)
	assert.ErrorIs(t, err, ErrInvalidSubject)

	_, err = e.Send(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidMessage)
	_, err = e.Send(ctx, &provider.Message{Channel: "sms", To: "x"})
	assert.ErrorIs(t, err, ErrInvalidMessage)
	_, err = e.Send(ctx, &provider.Message{Channel: provider.ChannelEmail, To: " "})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	assert.Zero(t, p1.calls.Load()+r.calls.Load()+mail.calls.Load(), "编程错误在调用 provider 之前返回")
}

func TestSend(t *testing.T) {
	ctx := context.Background()
	m1 := newSender("m1", provider.ChannelEmail, 0)
	m2 := newSender("m2", provider.ChannelEmail, 1)
	wa := newSender("wa", provider.ChannelWhatsApp, 0)
	m1.setErr(errDown)
	e, store := newEngine(t, nil, m1, m2, wa)

	msg := &provider.Message{Channel: provider.ChannelEmail, To: "ops@example.com", Subject: "s", Body: "b"}
	env, err := e.Send(ctx, msg)
	require.NoError(t, err)
	assert.True(t, env.Success)
	assert.Equal(t, "m2", env.Source)
	assert.Equal(t, "m-m2", env.Data.MessageID)
	assert.Empty(t, msg.ID, "调用方的消息不被修改")
	require.NotNil(t, m2.lastMsg)
	assert.NotEmpty(t, m2.lastMsg.ID)
	assert.Zero(t, wa.calls.Load(), "渠道之间互不影响")

	env, err = e.Send(ctx, &provider.Message{ID: "fixed", Channel: provider.ChannelWhatsApp, To: "5511987654321"})
	require.NoError(t, err)
	assert.Equal(t, "wa", env.Source)
	assert.Equal(t, "fixed", wa.lastMsg.ID)

	t.Run("拒绝收件人是确定性结果", func(t *testing.T) {
		m2.setErr(provider.Rejected("m2", "invalid recipient"))
		m1.setErr(nil)
		m1.setDown(true)
		env, err := e.Send(ctx, &provider.Message{Channel: provider.ChannelEmail, To: "bad"})
		require.NoError(t, err)
		assert.False(t, env.Success)
		assert.Equal(t, "m2", env.Source)
	})

	assert.Empty(t, store.setKeys(), "发送结果不缓存")
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	v := newFake("v", provider.CapabilityValidateIdentifier, 0)
	r := newFake("r", provider.CapabilityAnalyzeRisk, 0)
	e, _ := newEngine(t, nil, v, r)

	for _, s := range []string{cnpjA, cnpjB} {
		_, _ = e.ValidateIdentifier(ctx, s, false)
	}
	_, _ = e.AnalyzeRisk(ctx, cnpjA, false)

	require.NoError(t, e.Invalidate(ctx, provider.CapabilityValidateIdentifier, "12.345.678/0001-95"))
	env, _ := e.ValidateIdentifier(ctx, cnpjA, false)
	assert.Equal(t, "v", env.Source)
	env, _ = e.ValidateIdentifier(ctx, cnpjB, false)
	assert.Equal(t, "v_CACHED", env.Source)

	n, err := e.InvalidateCapability(ctx, provider.CapabilityValidateIdentifier)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	renv, _ := e.AnalyzeRisk(ctx, cnpjA, false)
	assert.Equal(t, "r_CACHED", renv.Source, "其他能力的缓存不受影响")

	assert.ErrorIs(t, e.Invalidate(ctx, provider.CapabilitySendNotification, "x"), ErrUnknownCapability)
	_, err = e.InvalidateCapability(ctx, "bogus")
	assert.ErrorIs(t, err, ErrUnknownCapability)
	assert.ErrorIs(t, e.Invalidate(ctx, provider.CapabilityAnalyzeRisk, "nope"), ErrInvalidSubject)
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	v := newFake("v", provider.CapabilityValidateIdentifier, 0)
	mail := newSender("mail", provider.ChannelEmail, 0)
	mail.setDown(true)
	e, _ := newEngine(t, &Config{RateLimit: ratelimit.QuotaConfig{
		Providers: map[string]ratelimit.Limit{"v": {Quota: 10, Window: time.Minute}},
	}}, v, mail)

	_, _ = e.ValidateIdentifier(ctx, cnpjA, true)
	_, _ = e.ValidateIdentifier(ctx, cnpjA, true)

	st := e.Status(ctx)
	require.Len(t, st, 2)
	assert.Equal(t, "v", st[0].Name)
	assert.True(t, st[0].Available)
	assert.Equal(t, int64(2), st[0].QuotaUsed)
	assert.Equal(t, ratelimit.Limit{Quota: 10, Window: time.Minute}, st[0].Quota)
	assert.Equal(t, "mail", st[1].Name)
	assert.False(t, st[1].Available)
	assert.Equal(t, breaker.StateClosed, st[1].Breaker.State)
}

func TestMockRiskReport(t *testing.T) {
	seen := map[int]bool{}
	for _, s := range []string{cnpjA, cnpjB, cpf, "00000000000191", "99999999000191"} {
		r := MockRiskReport(s)
		assert.GreaterOrEqual(t, r.Score, 300)
		assert.LessOrEqual(t, r.Score, 850)
		assert.Equal(t, provider.LevelFor(r.Score), r.RiskLevel)
		assert.True(t, r.Mock)
		assert.Equal(t, r, MockRiskReport(s), "同一 subject 结果恒定")
		seen[r.Score] = true
	}
	assert.Greater(t, len(seen), 1)
}
