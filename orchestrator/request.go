package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/bulwark/breaker"
	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/metrics"
	"github.com/ceyewan/bulwark/provider"
	"github.com/ceyewan/bulwark/xerrors"
)

// 跳过原因
const (
	skipUnavailable = "unavailable"
	skipBreakerOpen = "breaker_open"
	skipQuota       = "quota_exhausted"
)

// 请求结果
const (
	outcomeSuccess    = "success"
	outcomeCached     = "cached"
	outcomeDefinitive = "definitive"
	outcomeFallback   = "fallback"
)

// request 一次能力调用的全部参数
type request[T any] struct {
	capability provider.Capability
	chain      chainKey
	subject    string
	// cacheKey 为空表示结果不缓存
	cacheKey string
	ttl      time.Duration
	force    bool
	invoke   func(ctx context.Context, p provider.Provider) (*T, error)
	fallback func() *Envelope[T]
}

// run 执行缓存 → 候选链 → 降级的完整流程。
// 整个请求与调用方的取消解耦，只受每次调用的超时约束。
func run[T any](ctx context.Context, e *Engine, req request[T]) *Envelope[T] {
	ctx = context.WithoutCancel(ctx)
	ctx, span := e.tracer.Start(ctx, "orchestrator."+string(req.capability),
		trace.WithAttributes(
			attribute.String("bulwark.chain", string(req.chain)),
			attribute.String("bulwark.subject", req.subject),
			attribute.Bool("bulwark.force_refresh", req.force),
		))
	defer span.End()

	capLabel := metrics.L("capability", string(req.capability))
	logger := e.logger.With(clog.String("capability", string(req.capability)), clog.String("subject", req.subject))

	if req.cacheKey != "" && !req.force {
		var cached Envelope[T]
		if hit, _ := e.store.Get(ctx, req.cacheKey, &cached); hit && cached.Source != "" {
			cached.Source += cachedSuffix
			e.requests.Inc(ctx, capLabel, metrics.L("outcome", outcomeCached))
			span.SetAttributes(attribute.String("bulwark.source", cached.Source))
			logger.DebugContext(ctx, "served from cache", clog.String("source", cached.Source))
			return &cached
		}
	}

	for _, p := range e.chains[req.chain] {
		name := p.Descriptor().Name
		provLabel := metrics.L("provider", name)

		if reason := e.skipReason(ctx, p, name); reason != "" {
			e.skipped(ctx, logger, span, name, reason, capLabel, provLabel)
			continue
		}

		var result *T
		start := e.now()
		err := e.breakers.Execute(name, func() error {
			e.quota.Record(ctx, name)
			var err error
			result, err = invokeWithTimeout(ctx, e.cfg.CallTimeout, name, func(cctx context.Context) (*T, error) {
				return req.invoke(cctx, p)
			})
			return err
		})
		if breaker.IsRejected(err) {
			// Allow 与 Execute 之间半开探测名额被其他请求占用
			e.skipped(ctx, logger, span, name, skipBreakerOpen, capLabel, provLabel)
			continue
		}
		e.latency.Record(ctx, e.now().Sub(start).Seconds(), capLabel, provLabel)

		switch {
		case err == nil:
			e.attempts.Inc(ctx, capLabel, provLabel, metrics.L("result", "success"))
			env := &Envelope[T]{Success: true, Data: result, Source: name, Timestamp: e.now()}
			if req.cacheKey != "" {
				_ = e.store.Set(ctx, req.cacheKey, env, req.ttl)
			}
			e.requests.Inc(ctx, capLabel, metrics.L("outcome", outcomeSuccess))
			span.SetAttributes(attribute.String("bulwark.source", name))
			logger.InfoContext(ctx, "provider call succeeded", clog.String("provider", name))
			return env

		case provider.IsDefinitive(err):
			e.attempts.Inc(ctx, capLabel, provLabel, metrics.L("result", "definitive"))
			e.requests.Inc(ctx, capLabel, metrics.L("outcome", outcomeDefinitive))
			span.SetAttributes(attribute.String("bulwark.source", name))
			logger.InfoContext(ctx, "provider returned a definitive answer",
				clog.String("provider", name), clog.Error(err))
			return &Envelope[T]{Success: false, Error: describe(err), Source: name, Timestamp: e.now()}

		default:
			e.attempts.Inc(ctx, capLabel, provLabel, metrics.L("result", "failure"))
			span.AddEvent("provider failed", trace.WithAttributes(
				attribute.String("provider", name),
				attribute.String("kind", string(provider.KindOf(err))),
			))
			logger.WarnContext(ctx, "provider call failed, trying next",
				clog.String("provider", name),
				clog.String("kind", string(provider.KindOf(err))),
				clog.Error(err))
		}
	}

	env := req.fallback()
	env.Source = SourceFallback
	env.Timestamp = e.now()
	e.requests.Inc(ctx, capLabel, metrics.L("outcome", outcomeFallback))
	span.SetAttributes(attribute.String("bulwark.source", SourceFallback))
	span.SetStatus(codes.Error, "all providers exhausted")
	logger.WarnContext(ctx, "all providers exhausted, returning inline fallback",
		clog.Int("candidates", len(e.chains[req.chain])))
	return env
}

// skipReason 返回调用前需要跳过的原因，空串表示可以调用
func (e *Engine) skipReason(ctx context.Context, p provider.Provider, name string) string {
	switch {
	case !p.IsAvailable(ctx):
		return skipUnavailable
	case !e.breakers.Allow(name):
		return skipBreakerOpen
	case e.quota.Exhausted(ctx, name):
		return skipQuota
	}
	return ""
}

func (e *Engine) skipped(ctx context.Context, logger clog.Logger, span trace.Span, name, reason string, labels ...metrics.Label) {
	e.skips.Inc(ctx, append(labels, metrics.L("reason", reason))...)
	span.AddEvent("provider skipped", trace.WithAttributes(
		attribute.String("provider", name),
		attribute.String("reason", reason),
	))
	logger.DebugContext(ctx, "provider skipped", clog.String("provider", name), clog.String("reason", reason))
}

// invokeWithTimeout 在独立协程中调用，超时后立即返回，不等待忽略 ctx 的实现
func invokeWithTimeout[T any](ctx context.Context, d time.Duration, name string, fn func(context.Context) (*T, error)) (*T, error) {
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   *T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: provider.Unavailable(name, "provider panicked", fmt.Errorf("%v", r))}
			}
		}()
		v, err := fn(cctx)
		if err == nil && v == nil {
			err = provider.BadResponse(name, "empty result", nil)
		}
		ch <- result{v: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-cctx.Done():
		return nil, provider.NewError(provider.KindTimeout, name, "call timed out", cctx.Err())
	}
}

// describe 确定性结果的错误描述
func describe(err error) string {
	var pe *provider.Error
	if xerrors.As(err, &pe) {
		return fmt.Sprintf("%s: %s", pe.Kind, pe.Message)
	}
	return err.Error()
}
