package connector

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/metrics"
	"github.com/ceyewan/bulwark/xerrors"

	"github.com/twmb/franz-go/pkg/kgo"
)

type kafkaConnector struct {
	cfg      *KafkaConfig
	logger   clog.Logger
	attempts metrics.Counter

	mu      sync.RWMutex
	client  *kgo.Client
	healthy atomic.Bool
}

// NewKafka 创建 Kafka 连接器。
//
// 连接器持有的客户端只用于生产与健康检查；消费者组需要独立的客户端，
// 由 mq 包根据 Seed 自行创建。
func NewKafka(cfg *KafkaConfig, opts ...Option) (KafkaConnector, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(ErrConfig, "kafka config is nil")
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opt := applyOptions(opts)
	attempts, err := opt.meter.Counter("bulwark_connector_connect_total", "connector connect attempts")
	if err != nil {
		return nil, xerrors.Wrap(err, "create connect counter")
	}

	return &kafkaConnector{
		cfg:      cfg,
		logger:   opt.logger.With(clog.String("connector", "kafka"), clog.String("name", cfg.Name)),
		attempts: attempts,
	}, nil
}

func (c *kafkaConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	c.logger.Info("attempting to connect to kafka", clog.Any("seeds", c.cfg.Seed))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(c.cfg.Seed...),
		kgo.ClientID(c.cfg.ClientID),
		kgo.RequestTimeoutOverhead(c.cfg.RequestTimeout),
		kgo.AllowAutoTopicCreation(),
		kgo.WithLogger(&kgoLogger{logger: c.logger}),
	)
	if err == nil {
		if err = client.Ping(ctx); err != nil {
			client.Close()
		}
	}
	if err != nil {
		c.attempts.Inc(ctx, metrics.L("connector", "kafka"), metrics.L("outcome", "failure"))
		c.logger.Error("failed to connect to kafka", clog.Error(err))
		return xerrors.Wrapf(ErrConnection, "kafka connector[%s]: %v", c.cfg.Name, err)
	}

	c.client = client
	c.healthy.Store(true)
	c.attempts.Inc(ctx, metrics.L("connector", "kafka"), metrics.L("outcome", "success"))
	c.logger.Info("successfully connected to kafka")
	return nil
}

func (c *kafkaConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.healthy.Store(false)
	if c.client != nil {
		c.client.Close()
		c.client = nil
		c.logger.Info("kafka connection closed")
	}
	return nil
}

func (c *kafkaConnector) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil {
		c.healthy.Store(false)
		return xerrors.Wrapf(ErrNotConnected, "kafka connector[%s]", c.cfg.Name)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		c.healthy.Store(false)
		c.logger.Warn("kafka health check failed", clog.Error(err))
		return xerrors.Wrapf(ErrHealthCheck, "kafka connector[%s]: %v", c.cfg.Name, err)
	}
	c.healthy.Store(true)
	return nil
}

func (c *kafkaConnector) IsHealthy() bool {
	return c.healthy.Load()
}

func (c *kafkaConnector) Name() string {
	return c.cfg.Name
}

// GetClient 返回 kgo 客户端，未连接时为 nil
func (c *kafkaConnector) GetClient() *kgo.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

func (c *kafkaConnector) Seeds() []string {
	return c.cfg.Seed
}

// kgoLogger 把 franz-go 的日志转到 clog
type kgoLogger struct {
	logger clog.Logger
}

func (l *kgoLogger) Level() kgo.LogLevel {
	return kgo.LogLevelWarn
}

func (l *kgoLogger) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	fields := make([]clog.Field, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		if key, ok := keyvals[i].(string); ok {
			fields = append(fields, clog.Any(key, keyvals[i+1]))
		}
	}

	switch level {
	case kgo.LogLevelError:
		l.logger.Error(msg, fields...)
	case kgo.LogLevelWarn:
		l.logger.Warn(msg, fields...)
	case kgo.LogLevelInfo:
		l.logger.Info(msg, fields...)
	default:
		l.logger.Debug(msg, fields...)
	}
}
