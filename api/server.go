// Package api 以 HTTP 暴露编排引擎与通知投递，供进程外的调用方使用。
//
// 除 subject 格式错误返回 400 外，编排结果（包括降级与确定性否定）一律以 200 返回信封，
// 调用方通过 success、source 字段判断。
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/bulwark/breaker"
	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/metrics"
	"github.com/ceyewan/bulwark/notify"
	"github.com/ceyewan/bulwark/orchestrator"
	"github.com/ceyewan/bulwark/provider"
	"github.com/ceyewan/bulwark/ratelimit"
	"github.com/ceyewan/bulwark/trace"
	"github.com/ceyewan/bulwark/xerrors"
)

// Engine api 使用的编排能力，*orchestrator.Engine 满足该接口
type Engine interface {
	ValidateIdentifier(ctx context.Context, subject string, forceRefresh bool) (*orchestrator.Envelope[provider.Validation], error)
	AnalyzeRisk(ctx context.Context, subject string, forceRefresh bool) (*orchestrator.Envelope[provider.RiskReport], error)
	Invalidate(ctx context.Context, c provider.Capability, subject string) error
	InvalidateCapability(ctx context.Context, c provider.Capability) (int64, error)
	Breakers() []breaker.Snapshot
	Status(ctx context.Context) []orchestrator.ProviderStatus
}

// Dispatcher *notify.Dispatcher 满足该接口
type Dispatcher interface {
	Dispatch(ctx context.Context, r *notify.Recipient, n *notify.Notification) (*notify.Report, error)
	Deliveries(ctx context.Context, notificationID string) ([]notify.Delivery, error)
}

// Streamer *notify.Hub 满足该接口
type Streamer interface {
	Subscribe(recipientID string) (<-chan *notify.Notification, func(), error)
}

var (
	_ Engine     = (*orchestrator.Engine)(nil)
	_ Dispatcher = (*notify.Dispatcher)(nil)
	_ Streamer   = (*notify.Hub)(nil)
)

// Server HTTP 服务
type Server struct {
	cfg    Config
	logger clog.Logger
	router *gin.Engine
	srv    *http.Server
}

// New 创建 HTTP 服务并注册路由
func New(engine Engine, dispatcher Dispatcher, streamer Streamer, cfg *Config, opts ...Option) (*Server, error) {
	if engine == nil || dispatcher == nil || streamer == nil {
		return nil, xerrors.Wrap(ErrInvalidConfig, "engine, dispatcher and streamer are required")
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

	router := gin.New()
	router.Use(gin.Recovery(), trace.GinMiddleware(c.ServiceName))
	mw, err := metrics.GinMiddleware(o.meter)
	if err != nil {
		return nil, xerrors.Wrap(err, "create http metrics middleware")
	}
	router.Use(mw, accessLog(o.logger))

	h := &handlers{
		engine:     engine,
		dispatcher: dispatcher,
		streamer:   streamer,
		checks:     o.checks,
		heartbeat:  c.Heartbeat,
		logger:     o.logger,
	}
	router.GET("/healthz", h.health)

	v1 := router.Group("/v1")
	if o.limiter != nil && c.ClientRate.PerSecond > 0 {
		v1.Use(ratelimit.GinMiddleware(o.limiter, nil, c.ClientRate))
	}
	v1.GET("/identifiers/:subject", h.validateIdentifier)
	v1.GET("/risk/:subject", h.analyzeRisk)
	v1.DELETE("/cache/:capability", h.invalidateCapability)
	v1.DELETE("/cache/:capability/:subject", h.invalidate)
	v1.GET("/breakers", h.breakers)
	v1.GET("/providers", h.providers)
	if o.idem != nil {
		v1.POST("/notifications", o.idem.GinMiddleware(), h.dispatch)
	} else {
		v1.POST("/notifications", h.dispatch)
	}
	// SSE 长连接不参与限流
	router.GET("/v1/notifications/stream/:recipient", h.stream)
	v1.GET("/notifications/:id", h.deliveries)

	return &Server{
		cfg:    c,
		logger: o.logger,
		router: router,
		srv: &http.Server{
			Addr:              c.Addr,
			Handler:           router,
			ReadHeaderTimeout: c.ReadHeaderTimeout,
		},
	}, nil
}

// Handler 返回路由，便于测试或挂载到其他服务
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run 阻塞监听，ctx 取消后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", clog.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return xerrors.Wrap(err, "shutdown http server")
	}
	return nil
}

func accessLog(logger clog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		status := c.Writer.Status()
		if status < http.StatusInternalServerError {
			return
		}
		logger.WarnContext(c.Request.Context(), "request failed",
			clog.String("method", c.Request.Method),
			clog.String("route", c.FullPath()),
			clog.Int("status", status))
	}
}
