package breaker

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/metrics"
	"github.com/ceyewan/bulwark/xerrors"
)

// Registry 按名称懒创建熔断器。各熔断器自带互斥锁，互不阻塞。
type Registry struct {
	cfg          Config
	logger       clog.Logger
	isSuccessful func(error) bool

	breakers sync.Map // map[string]*entry

	stateChanges metrics.Counter
	rejections   metrics.Counter
	stateGauge   metrics.Gauge
}

type entry struct {
	cb *gobreaker.CircuitBreaker[struct{}]
	// openUntil Unix 纳秒，0 表示未打开
	openUntil atomic.Int64
}

// New 创建熔断器注册表
func New(cfg *Config, opts ...Option) (*Registry, error) {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	o := &options{
		logger:       clog.Discard(),
		meter:        metrics.Discard(),
		isSuccessful: func(err error) bool { return err == nil },
	}
	for _, opt := range opts {
		opt(o)
	}

	r := &Registry{cfg: c, logger: o.logger, isSuccessful: o.isSuccessful}

	var err error
	if r.stateChanges, err = o.meter.Counter("bulwark_breaker_state_changes_total", "circuit breaker state transitions"); err != nil {
		return nil, xerrors.Wrap(err, "create state change counter")
	}
	if r.rejections, err = o.meter.Counter("bulwark_breaker_rejections_total", "calls rejected by an open or probing breaker"); err != nil {
		return nil, xerrors.Wrap(err, "create rejection counter")
	}
	if r.stateGauge, err = o.meter.Gauge("bulwark_breaker_state", "current breaker state: 0 closed, 1 half-open, 2 open"); err != nil {
		return nil, xerrors.Wrap(err, "create state gauge")
	}

	r.logger.Info("circuit breaker registry created",
		clog.Int("threshold", int(c.Threshold)),
		clog.Duration("cooldown", c.Cooldown))
	return r, nil
}

// Allow 报告 name 当前是否可以尝试调用。
// 仅在 Open 且冷却未结束时返回 false；冷却结束后的读取会把状态推进到 HalfOpen。
func (r *Registry) Allow(name string) bool {
	e, ok := r.load(name)
	if !ok {
		return true
	}
	return e.cb.State() != gobreaker.StateOpen
}

// Execute 在熔断保护下执行 fn，返回 fn 的原始错误。
// 熔断器拒绝时 fn 不会被调用，返回 ErrOpen 或 ErrProbeInFlight。
func (r *Registry) Execute(name string, fn func() error) error {
	e := r.getOrCreate(name)
	_, err := e.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})

	switch {
	case xerrors.Is(err, gobreaker.ErrOpenState):
		r.rejections.Inc(context.Background(), metrics.L("provider", name), metrics.L("reason", "open"))
		return ErrOpen
	case xerrors.Is(err, gobreaker.ErrTooManyRequests):
		r.rejections.Inc(context.Background(), metrics.L("provider", name), metrics.L("reason", "probe_in_flight"))
		return ErrProbeInFlight
	}
	return err
}

// Snapshot 返回 name 的状态快照，未使用过的名称视为 Closed
func (r *Registry) Snapshot(name string) Snapshot {
	e, ok := r.load(name)
	if !ok {
		return Snapshot{Name: name, State: StateClosed}
	}
	return e.snapshot(name)
}

// Snapshots 返回所有已创建熔断器的快照，按名称排序
func (r *Registry) Snapshots() []Snapshot {
	var out []Snapshot
	r.breakers.Range(func(key, value any) bool {
		out = append(out, value.(*entry).snapshot(key.(string)))
		return true
	})
	slices.SortFunc(out, func(a, b Snapshot) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

func (e *entry) snapshot(name string) Snapshot {
	// State 必须先于 Counts 读取：它可能触发 Open -> HalfOpen 并清空计数
	state := fromGobreaker(e.cb.State())
	counts := e.cb.Counts()
	s := Snapshot{
		Name:                name,
		State:               state,
		ConsecutiveFailures: counts.ConsecutiveFailures,
		Requests:            counts.Requests,
		TotalFailures:       counts.TotalFailures,
	}
	if state == StateOpen {
		if ns := e.openUntil.Load(); ns > 0 {
			s.OpenUntil = time.Unix(0, ns)
		}
	}
	return s
}

func (r *Registry) load(name string) (*entry, bool) {
	v, ok := r.breakers.Load(name)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

func (r *Registry) getOrCreate(name string) *entry {
	if e, ok := r.load(name); ok {
		return e
	}

	e := &entry{}
	e.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     r.cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.cfg.Threshold
		},
		IsSuccessful: r.isSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			// 回调在 gobreaker 持锁期间执行，这里不能再读 cb.State()
			if to == gobreaker.StateOpen {
				e.openUntil.Store(time.Now().Add(r.cfg.Cooldown).UnixNano())
			} else {
				e.openUntil.Store(0)
			}
			r.onStateChange(name, fromGobreaker(from), fromGobreaker(to))
		},
	})

	actual, _ := r.breakers.LoadOrStore(name, e)
	return actual.(*entry)
}

func (r *Registry) onStateChange(name string, from, to State) {
	ctx := context.Background()
	r.stateChanges.Inc(ctx, metrics.L("provider", name), metrics.L("from", from.String()), metrics.L("to", to.String()))
	r.stateGauge.Set(ctx, float64(to), metrics.L("provider", name))

	fields := []clog.Field{
		clog.String("provider", name),
		clog.String("from", from.String()),
		clog.String("to", to.String()),
	}
	if to == StateOpen {
		fields = append(fields, clog.Duration("cooldown", r.cfg.Cooldown))
		r.logger.Warn("circuit breaker state changed", fields...)
		return
	}
	r.logger.Info("circuit breaker state changed", fields...)
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
