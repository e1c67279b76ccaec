// Package app 按配置装配 bulwark 进程：可观测性、外部连接、缓存、编排引擎、
// 通知投递与 HTTP 接口，并负责按相反顺序释放。
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/ceyewan/bulwark/api"
	"github.com/ceyewan/bulwark/cache"
	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/config"
	"github.com/ceyewan/bulwark/connector"
	"github.com/ceyewan/bulwark/idem"
	"github.com/ceyewan/bulwark/metrics"
	"github.com/ceyewan/bulwark/mq"
	"github.com/ceyewan/bulwark/notify"
	"github.com/ceyewan/bulwark/orchestrator"
	"github.com/ceyewan/bulwark/provider"
	"github.com/ceyewan/bulwark/provider/bureau"
	"github.com/ceyewan/bulwark/provider/gateway"
	"github.com/ceyewan/bulwark/provider/registry"
	"github.com/ceyewan/bulwark/ratelimit"
	"github.com/ceyewan/bulwark/trace"
	"github.com/ceyewan/bulwark/xerrors"
)

// Option 装配选项
type Option func(*App)

// WithLoader 运行期监听 log.level 变化并调整日志级别
func WithLoader(l config.Loader) Option {
	return func(a *App) {
		a.loader = l
	}
}

// WithLogger 使用外部 Logger，跳过按配置创建
func WithLogger(l clog.Logger) Option {
	return func(a *App) {
		a.logger = l
	}
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// App 装配完成的进程
type App struct {
	cfg    Config
	loader config.Loader
	logger clog.Logger
	meter  metrics.Meter

	redis connector.RedisConnector
	nats  connector.NATSConnector
	kafka connector.KafkaConnector
	conns []connector.Connector

	idem       idem.Idempotency
	engine     *orchestrator.Engine
	queue      mq.MQ
	hub        *notify.Hub
	dispatcher *notify.Dispatcher
	worker     *notify.Worker
	server     *api.Server

	ready     chan struct{}
	readyOnce sync.Once
	closers   []closer
}

// New 按配置创建全部组件，任一步失败时释放已创建的部分
func New(ctx context.Context, cfg *Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(ErrInvalidConfig, "config is nil")
	}
	a := &App{cfg: *cfg, ready: make(chan struct{})}
	for _, opt := range opts {
		opt(a)
	}
	a.cfg.setDefaults()
	if err := a.cfg.validate(); err != nil {
		return nil, err
	}

	if err := a.build(ctx); err != nil {
		_ = a.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"observability", a.initObservability},
		{"engine", a.initEngine},
		{"idem", a.initIdem},
		{"notify", a.initNotify},
		{"api", a.initAPI},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return xerrors.Wrapf(err, "init %s", s.name)
		}
	}
	a.logger.Info("bulwark assembled",
		clog.String("cache", string(a.cfg.Cache.Driver)),
		clog.String("mq", string(a.cfg.MQ.Driver)),
		clog.String("database", a.cfg.Database.Driver),
		clog.Int("connectors", len(a.conns)))
	return nil
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) initObservability(ctx context.Context) error {
	shutdown, err := trace.Init(ctx, &a.cfg.Trace)
	if err != nil {
		return xerrors.Wrap(err, "init trace")
	}
	a.onClose("trace", shutdown)

	if a.logger == nil {
		logger, err := clog.New(&a.cfg.Log, clog.WithNamespace(a.cfg.API.ServiceName), clog.WithTraceContext())
		if err != nil {
			return xerrors.Wrap(err, "create logger")
		}
		a.logger = logger
	}
	a.onClose("logger", func(context.Context) error {
		a.logger.Flush()
		return nil
	})

	meter, err := metrics.New(&a.cfg.Metrics, metrics.WithLogger(a.logger))
	if err != nil {
		return xerrors.Wrap(err, "create meter")
	}
	a.meter = meter
	a.onClose("metrics", meter.Shutdown)
	return nil
}

func (a *App) connectorOpts() []connector.Option {
	return []connector.Option{
		connector.WithLogger(a.logger),
		connector.WithMeter(a.meter),
		connector.WithTracing(),
	}
}

// connect 建立连接并登记到健康检查与关闭列表
func (a *App) connect(ctx context.Context, conn connector.Connector) error {
	if err := conn.Connect(ctx); err != nil {
		_ = conn.Close()
		return err
	}
	a.conns = append(a.conns, conn)
	a.onClose("connector "+conn.Name(), func(context.Context) error { return conn.Close() })
	return nil
}

func (a *App) redisConn(ctx context.Context) (connector.RedisConnector, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	conn, err := connector.NewRedis(&a.cfg.Redis, a.connectorOpts()...)
	if err != nil {
		return nil, err
	}
	if err := a.connect(ctx, conn); err != nil {
		return nil, err
	}
	a.redis = conn
	return conn, nil
}

func (a *App) natsConn(ctx context.Context) (connector.NATSConnector, error) {
	if a.nats != nil {
		return a.nats, nil
	}
	conn, err := connector.NewNATS(&a.cfg.NATS, a.connectorOpts()...)
	if err != nil {
		return nil, err
	}
	if err := a.connect(ctx, conn); err != nil {
		return nil, err
	}
	a.nats = conn
	return conn, nil
}

func (a *App) kafkaConn(ctx context.Context) (connector.KafkaConnector, error) {
	if a.kafka != nil {
		return a.kafka, nil
	}
	conn, err := connector.NewKafka(&a.cfg.Kafka, a.connectorOpts()...)
	if err != nil {
		return nil, err
	}
	if err := a.connect(ctx, conn); err != nil {
		return nil, err
	}
	a.kafka = conn
	return conn, nil
}

func (a *App) initEngine(ctx context.Context) error {
	cacheOpts := []cache.Option{cache.WithLogger(a.logger), cache.WithMeter(a.meter)}
	if a.cfg.Cache.Driver == cache.DriverRedis {
		conn, err := a.redisConn(ctx)
		if err != nil {
			return err
		}
		cacheOpts = append(cacheOpts, cache.WithRedisConnector(conn))
	}
	store, err := cache.New(&a.cfg.Cache, cacheOpts...)
	if err != nil {
		return xerrors.Wrap(err, "create cache")
	}
	a.onClose("cache", func(context.Context) error { return store.Close() })

	providers, err := a.buildProviders()
	if err != nil {
		return err
	}

	engine, err := orchestrator.New(providers, store, &a.cfg.Engine,
		orchestrator.WithLogger(a.logger),
		orchestrator.WithMeter(a.meter))
	if err != nil {
		return xerrors.Wrap(err, "create engine")
	}
	a.engine = engine
	return nil
}

func (a *App) initIdem(ctx context.Context) error {
	opts := []idem.Option{idem.WithLogger(a.logger), idem.WithMeter(a.meter)}
	if a.cfg.Idem.Driver == idem.DriverRedis {
		conn, err := a.redisConn(ctx)
		if err != nil {
			return err
		}
		opts = append(opts, idem.WithRedisConnector(conn))
	}
	id, err := idem.New(&a.cfg.Idem, opts...)
	if err != nil {
		return xerrors.Wrap(err, "create idempotency")
	}
	a.idem = id
	return nil
}

func (a *App) buildProviders() ([]provider.Provider, error) {
	opts := []provider.Option{
		provider.WithLogger(a.logger),
		provider.WithTracing(),
		provider.WithTimeout(a.cfg.Providers.Timeout),
	}
	pc := a.cfg.Providers
	var out []provider.Provider

	for i := range pc.Registries {
		r := &pc.Registries[i]
		var (
			p   provider.Provider
			err error
		)
		switch r.Kind {
		case RegistryBrasilAPI:
			p, err = registry.NewBrasilAPI(&r.Config, opts...)
		case RegistryReceitaWS:
			p, err = registry.NewReceitaWS(&r.Config, opts...)
		default:
			err = xerrors.Wrapf(ErrInvalidConfig, "unsupported registry kind %q", r.Kind)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	for i := range pc.Bureaus {
		p, err := bureau.New(&pc.Bureaus[i], opts...)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	for i := range pc.Email {
		p, err := gateway.NewEmail(&pc.Email[i], opts...)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	for i := range pc.WhatsApp {
		p, err := gateway.NewWhatsApp(&pc.WhatsApp[i], opts...)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (a *App) initNotify(ctx context.Context) error {
	mqOpts := []mq.Option{mq.WithLogger(a.logger), mq.WithMeter(a.meter)}
	switch a.cfg.MQ.Driver {
	case mq.DriverRedisStream:
		conn, err := a.redisConn(ctx)
		if err != nil {
			return err
		}
		mqOpts = append(mqOpts, mq.WithRedisConnector(conn))
	case mq.DriverNATSCore:
		conn, err := a.natsConn(ctx)
		if err != nil {
			return err
		}
		mqOpts = append(mqOpts, mq.WithNATSConnector(conn))
	case mq.DriverKafka:
		conn, err := a.kafkaConn(ctx)
		if err != nil {
			return err
		}
		mqOpts = append(mqOpts, mq.WithKafkaConnector(conn))
	}
	queue, err := mq.New(&a.cfg.MQ, mqOpts...)
	if err != nil {
		return xerrors.Wrap(err, "create mq")
	}
	a.queue = queue
	a.onClose("mq", func(context.Context) error { return queue.Close() })

	store, err := a.statusStore(ctx)
	if err != nil {
		return err
	}

	notifyOpts := []notify.Option{
		notify.WithLogger(a.logger),
		notify.WithMeter(a.meter),
		notify.WithDeduplicator(a.idem),
	}
	a.hub = notify.NewHub(a.cfg.HubBuffer, notifyOpts...)
	a.onClose("hub", func(context.Context) error { return a.hub.Close() })

	dispatcher, err := notify.NewDispatcher(store, queue, a.hub, &a.cfg.Notify, notifyOpts...)
	if err != nil {
		return xerrors.Wrap(err, "create dispatcher")
	}

	limiter, err := ratelimit.NewStandalone(&a.cfg.Pace, ratelimit.WithLogger(a.logger), ratelimit.WithMeter(a.meter))
	if err != nil {
		return xerrors.Wrap(err, "create pace limiter")
	}
	a.onClose("pace limiter", func(context.Context) error { return limiter.Close() })

	worker, err := notify.NewWorker(queue, store, a.engine, limiter, &a.cfg.Notify, notifyOpts...)
	if err != nil {
		return xerrors.Wrap(err, "create worker")
	}
	a.worker = worker
	a.dispatcher = dispatcher
	return nil
}

func (a *App) statusStore(ctx context.Context) (notify.StatusStore, error) {
	var conn connector.TypedConnector[*gorm.DB]
	switch a.cfg.Database.Driver {
	case DatabaseSQLite:
		c, err := connector.NewSQLite(&a.cfg.Database.SQLite, a.connectorOpts()...)
		if err != nil {
			return nil, err
		}
		conn = c
	case DatabaseMySQL:
		c, err := connector.NewMySQL(&a.cfg.Database.MySQL, a.connectorOpts()...)
		if err != nil {
			return nil, err
		}
		conn = c
	default:
		return notify.NewMemoryStore(), nil
	}
	if err := a.connect(ctx, conn); err != nil {
		return nil, err
	}
	store, err := notify.NewGormStore(ctx, conn.GetClient())
	if err != nil {
		return nil, xerrors.Wrap(err, "create delivery store")
	}
	return store, nil
}

func (a *App) initAPI(context.Context) error {
	limiter, err := ratelimit.NewStandalone(&a.cfg.Pace, ratelimit.WithLogger(a.logger), ratelimit.WithMeter(a.meter))
	if err != nil {
		return xerrors.Wrap(err, "create client limiter")
	}
	a.onClose("client limiter", func(context.Context) error { return limiter.Close() })

	server, err := api.New(a.engine, a.dispatcher, a.hub, &a.cfg.API,
		api.WithLogger(a.logger),
		api.WithMeter(a.meter),
		api.WithLimiter(limiter),
		api.WithIdempotency(a.idem),
		api.WithHealthChecks(a.conns...))
	if err != nil {
		return xerrors.Wrap(err, "create api server")
	}
	a.server = server
	return nil
}

// Logger 返回进程根 Logger
func (a *App) Logger() clog.Logger {
	return a.logger
}

// Handler 返回 HTTP 路由
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Ready 在 Run 完成通知队列订阅后关闭
func (a *App) Ready() <-chan struct{} {
	return a.ready
}

// Run 启动通知 Worker 与 HTTP 服务，阻塞到 ctx 取消或任一组件出错
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	sub, err := a.worker.Start(gctx)
	if err != nil {
		return err
	}
	a.readyOnce.Do(func() { close(a.ready) })

	g.Go(func() error {
		return a.server.Run(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return sub.Unsubscribe()
		case <-sub.Done():
			if gctx.Err() != nil {
				return nil
			}
			return xerrors.New("notification worker stopped unexpectedly")
		}
	})
	if a.loader != nil {
		g.Go(func() error {
			return a.watchLogLevel(gctx)
		})
	}

	a.logger.Info("bulwark running", clog.String("addr", a.cfg.API.Addr))
	err = g.Wait()
	<-sub.Done()
	return err
}

func (a *App) watchLogLevel(ctx context.Context) error {
	events, err := a.loader.Watch(ctx, "log.level")
	if err != nil {
		return xerrors.Wrap(err, "watch log.level")
	}
	for ev := range events {
		level, err := clog.ParseLevel(fmt.Sprint(ev.Value))
		if err != nil {
			a.logger.Warn("ignoring invalid log level", clog.Any("value", ev.Value), clog.Error(err))
			continue
		}
		if err := a.logger.SetLevel(level); err != nil {
			a.logger.Warn("failed to change log level", clog.Error(err))
			continue
		}
		a.logger.Info("log level changed", clog.String("level", level.String()))
	}
	return nil
}

// Close 按创建的相反顺序释放资源，返回第一个错误
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			errs = append(errs, xerrors.Wrapf(err, "close %s", c.name))
		}
	}
	a.closers = nil
	return xerrors.Combine(errs...)
}
