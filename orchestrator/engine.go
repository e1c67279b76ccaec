// Package orchestrator 在多个外部 provider 之间编排调用：缓存、降级链、熔断与配额。
//
// 每次请求按以下顺序处理：
//  1. 非强制刷新时先读缓存，命中则直接返回，Source 标记为 <provider>_CACHED；
//  2. 依次尝试候选 provider，跳过不可用、熔断打开或配额耗尽的 provider；
//  3. 在熔断器保护下带超时调用，成功即缓存并返回；确定性否定结果立即返回且不缓存；
//     其他失败计入熔断并继续下一个；
//  4. 全部失败时返回 FALLBACK_INLINE 降级结果，降级结果永不缓存。
//
// 只有编程错误（非法 subject、未知能力）会以 error 返回，且一定发生在调用任何 provider 之前。
//
//	eng, err := orchestrator.New([]provider.Provider{brasil, receita, serasa}, store, cfg,
//		orchestrator.WithLogger(logger), orchestrator.WithMeter(meter))
//	env, err := eng.ValidateIdentifier(ctx, "12.345.678/0001-95", false)
package orchestrator

import (
	"cmp"
	"context"
	"slices"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/bulwark/breaker"
	"github.com/ceyewan/bulwark/cache"
	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/metrics"
	"github.com/ceyewan/bulwark/provider"
	"github.com/ceyewan/bulwark/ratelimit"
	"github.com/ceyewan/bulwark/xerrors"
)

// chainKey 候选链的标识：能力名，通知按渠道细分
type chainKey string

const (
	chainValidate chainKey = chainKey(provider.CapabilityValidateIdentifier)
	chainRisk     chainKey = chainKey(provider.CapabilityAnalyzeRisk)
	chainEmail    chainKey = chainKey(provider.CapabilitySendNotification) + "/" + provider.ChannelEmail
	chainWhatsApp chainKey = chainKey(provider.CapabilitySendNotification) + "/" + provider.ChannelWhatsApp
)

func keyFor(d provider.Descriptor) (chainKey, bool) {
	switch d.Capability {
	case provider.CapabilityValidateIdentifier:
		return chainValidate, true
	case provider.CapabilityAnalyzeRisk:
		return chainRisk, true
	case provider.CapabilitySendNotification:
		switch d.Channel {
		case provider.ChannelEmail:
			return chainEmail, true
		case provider.ChannelWhatsApp:
			return chainWhatsApp, true
		}
	}
	return "", false
}

// Engine 降级编排引擎，熔断器与配额状态归引擎实例所有
type Engine struct {
	cfg      Config
	store    *cache.SafeStore
	breakers *breaker.Registry
	quota    *ratelimit.Quota
	chains   map[chainKey][]provider.Provider

	logger clog.Logger
	tracer trace.Tracer
	now    func() time.Time

	requests metrics.Counter
	attempts metrics.Counter
	skips    metrics.Counter
	latency  metrics.Histogram
}

// New 创建引擎。providers 的名称必须唯一，且实现与其能力对应的接口。
func New(providers []provider.Provider, store cache.Store, cfg *Config, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts)

	chains, err := buildChains(providers, c.Chains)
	if err != nil {
		return nil, err
	}

	breakers, err := breaker.New(&c.Breaker,
		breaker.WithLogger(o.root),
		breaker.WithMeter(o.meter),
		breaker.WithSuccessClassifier(func(err error) bool {
			return err == nil || provider.IsDefinitive(err)
		}))
	if err != nil {
		return nil, xerrors.Wrap(err, "create breaker registry")
	}

	safe := cache.Safe(store, cache.WithLogger(o.root), cache.WithMeter(o.meter))
	quota, err := ratelimit.NewQuota(safe, &c.RateLimit, ratelimit.WithLogger(o.root), ratelimit.WithMeter(o.meter))
	if err != nil {
		return nil, xerrors.Wrap(err, "create quota")
	}

	e := &Engine{
		cfg:      c,
		store:    safe,
		breakers: breakers,
		quota:    quota,
		chains:   chains,
		logger:   o.logger,
		tracer:   o.tp.Tracer("github.com/ceyewan/bulwark/orchestrator"),
		now:      time.Now,
	}
	if err := e.initMetrics(o.meter); err != nil {
		return nil, err
	}

	for _, k := range []chainKey{chainValidate, chainRisk, chainEmail, chainWhatsApp} {
		names := make([]string, 0, len(chains[k]))
		for _, p := range chains[k] {
			names = append(names, p.Descriptor().Name)
		}
		e.logger.Info("provider chain configured", clog.String("chain", string(k)), clog.Any("providers", names))
	}
	return e, nil
}

func (e *Engine) initMetrics(m metrics.Meter) error {
	var err error
	if e.requests, err = m.Counter("bulwark_orchestrator_requests_total", "capability requests by outcome"); err != nil {
		return xerrors.Wrap(err, "create requests counter")
	}
	if e.attempts, err = m.Counter("bulwark_orchestrator_attempts_total", "provider calls by result"); err != nil {
		return xerrors.Wrap(err, "create attempts counter")
	}
	if e.skips, err = m.Counter("bulwark_orchestrator_skips_total", "providers skipped before calling, by reason"); err != nil {
		return xerrors.Wrap(err, "create skips counter")
	}
	if e.latency, err = m.Histogram("bulwark_orchestrator_call_duration_seconds", "provider call latency",
		metrics.WithUnit("s"), metrics.WithBuckets(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15)); err != nil {
		return xerrors.Wrap(err, "create latency histogram")
	}
	return nil
}

// buildChains 校验 provider 并固定每条链的候选顺序
func buildChains(providers []provider.Provider, cc ChainConfig) (map[chainKey][]provider.Provider, error) {
	byName := make(map[string]provider.Provider, len(providers))
	grouped := make(map[chainKey][]provider.Provider)

	for _, p := range providers {
		if p == nil {
			return nil, xerrors.Wrap(ErrInvalidProvider, "nil provider")
		}
		d := p.Descriptor()
		if d.Name == "" {
			return nil, xerrors.Wrap(ErrInvalidProvider, "empty provider name")
		}
		if _, dup := byName[d.Name]; dup {
			return nil, xerrors.Wrapf(ErrDuplicateProvider, "%s", d.Name)
		}
		k, ok := keyFor(d)
		if !ok {
			return nil, xerrors.Wrapf(ErrInvalidProvider, "%s: capability %q channel %q", d.Name, d.Capability, d.Channel)
		}
		if !implements(p, d.Capability) {
			return nil, xerrors.Wrapf(ErrInvalidProvider, "%s: %s", d.Name, d.Capability)
		}
		byName[d.Name] = p
		grouped[k] = append(grouped[k], p)
	}

	configured := map[chainKey][]string{
		chainValidate: cc.ValidateIdentifier,
		chainRisk:     cc.AnalyzeRisk,
		chainEmail:    cc.Email,
		chainWhatsApp: cc.WhatsApp,
	}

	chains := make(map[chainKey][]provider.Provider, len(configured))
	for k, names := range configured {
		if len(names) == 0 {
			ps := slices.Clone(grouped[k])
			slices.SortStableFunc(ps, func(a, b provider.Provider) int {
				return cmp.Compare(a.Descriptor().Priority, b.Descriptor().Priority)
			})
			chains[k] = ps
			continue
		}
		ps := make([]provider.Provider, 0, len(names))
		for _, name := range names {
			p, ok := byName[name]
			if !ok {
				return nil, xerrors.Wrapf(ErrUnknownProvider, "%s: %s", k, name)
			}
			if pk, _ := keyFor(p.Descriptor()); pk != k {
				return nil, xerrors.Wrapf(ErrUnknownProvider, "%s: %s serves %s", k, name, pk)
			}
			ps = append(ps, p)
		}
		chains[k] = ps
	}
	return chains, nil
}

func implements(p provider.Provider, c provider.Capability) bool {
	switch c {
	case provider.CapabilityValidateIdentifier:
		_, ok := p.(provider.Validator)
		return ok
	case provider.CapabilityAnalyzeRisk:
		_, ok := p.(provider.Analyzer)
		return ok
	case provider.CapabilitySendNotification:
		_, ok := p.(provider.Sender)
		return ok
	}
	return false
}

// Providers 返回某种能力的候选 provider，按尝试顺序；通知先 email 后 whatsapp
func (e *Engine) Providers(c provider.Capability) []provider.Descriptor {
	var keys []chainKey
	switch c {
	case provider.CapabilityValidateIdentifier:
		keys = []chainKey{chainValidate}
	case provider.CapabilityAnalyzeRisk:
		keys = []chainKey{chainRisk}
	case provider.CapabilitySendNotification:
		keys = []chainKey{chainEmail, chainWhatsApp}
	}
	var out []provider.Descriptor
	for _, k := range keys {
		for _, p := range e.chains[k] {
			out = append(out, p.Descriptor())
		}
	}
	return out
}

// Breakers 返回所有已使用过的熔断器快照
func (e *Engine) Breakers() []breaker.Snapshot {
	return e.breakers.Snapshots()
}

// ProviderStatus 单个 provider 的运行状态
type ProviderStatus struct {
	provider.Descriptor
	Available bool             `json:"available"`
	Breaker   breaker.Snapshot `json:"breaker"`
	QuotaUsed int64            `json:"quota_used"`
	Quota     ratelimit.Limit  `json:"quota"`
}

// Status 汇总所有候选 provider 的可用性、熔断与配额使用情况
func (e *Engine) Status(ctx context.Context) []ProviderStatus {
	var out []ProviderStatus
	for _, c := range provider.Capabilities() {
		for _, d := range e.Providers(c) {
			p := e.lookup(d.Name)
			out = append(out, ProviderStatus{
				Descriptor: d,
				Available:  p != nil && p.IsAvailable(ctx),
				Breaker:    e.breakers.Snapshot(d.Name),
				QuotaUsed:  e.quota.Used(ctx, d.Name),
				Quota:      e.quota.LimitFor(d.Name),
			})
		}
	}
	return out
}

func (e *Engine) lookup(name string) provider.Provider {
	for _, ps := range e.chains {
		for _, p := range ps {
			if p.Descriptor().Name == name {
				return p
			}
		}
	}
	return nil
}
