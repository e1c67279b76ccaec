// Package mq 提供统一的发布-订阅抽象，通知投递通过它在进程间排队。
//
// 支持的后端：进程内通道 (memory)、Redis Stream、NATS Core、Kafka。
// Publish 会把当前链路信息写入消息头，消费端的 msg.Context() 携带上游 span。
package mq

import (
	"context"
	"time"

	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/metrics"
	"github.com/ceyewan/bulwark/trace"
	"github.com/ceyewan/bulwark/xerrors"
)

// MQ 消息队列核心接口
type MQ interface {
	// Publish 发布消息到指定主题
	Publish(ctx context.Context, topic string, data []byte, opts ...PublishOption) error

	// Subscribe 订阅主题，ctx 取消时自动停止
	Subscribe(ctx context.Context, topic string, handler Handler, opts ...SubscribeOption) (Subscription, error)

	// Capabilities 返回当前驱动的语义
	Capabilities() Capabilities

	// Close 释放 MQ 内部资源，底层连接由 Connector 管理
	Close() error
}

type mq struct {
	transport transport
	driver    Driver
	logger    clog.Logger

	published metrics.Counter
	consumed  metrics.Counter
	duration  metrics.Histogram
}

// New 创建 MQ 实例
//
//	q, err := mq.New(&mq.Config{Driver: mq.DriverRedisStream},
//	    mq.WithRedisConnector(redisConn), mq.WithLogger(logger))
func New(cfg *Config, opts ...Option) (MQ, error) {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts)

	t, err := newTransport(&c, o)
	if err != nil {
		return nil, err
	}

	m := &mq{transport: t, driver: c.Driver, logger: o.logger}
	if m.published, err = o.meter.Counter("bulwark_mq_publish_total", "messages published"); err != nil {
		return nil, xerrors.Wrap(err, "create publish counter")
	}
	if m.consumed, err = o.meter.Counter("bulwark_mq_consume_total", "messages handled by subscribers"); err != nil {
		return nil, xerrors.Wrap(err, "create consume counter")
	}
	if m.duration, err = o.meter.Histogram("bulwark_mq_handle_duration_seconds", "message handler latency",
		metrics.WithUnit("s")); err != nil {
		return nil, xerrors.Wrap(err, "create handle histogram")
	}

	m.logger.Info("mq created", clog.String("driver", string(c.Driver)))
	return m, nil
}

func newTransport(cfg *Config, o *options) (transport, error) {
	switch cfg.Driver {
	case DriverMemory:
		return newMemoryTransport(cfg.Memory, o.logger), nil
	case DriverRedisStream:
		if o.redisConnector == nil {
			return nil, xerrors.Wrap(ErrConnectorRequired, "use WithRedisConnector")
		}
		return newRedisStreamTransport(o.redisConnector, cfg.RedisStream, o.logger), nil
	case DriverNATSCore:
		if o.natsConnector == nil {
			return nil, xerrors.Wrap(ErrConnectorRequired, "use WithNATSConnector")
		}
		return newNATSCoreTransport(o.natsConnector, o.logger), nil
	case DriverKafka:
		if o.kafkaConnector == nil {
			return nil, xerrors.Wrap(ErrConnectorRequired, "use WithKafkaConnector")
		}
		return newKafkaTransport(o.kafkaConnector, o.logger), nil
	default:
		return nil, xerrors.Wrapf(ErrInvalidConfig, "unsupported driver %q", cfg.Driver)
	}
}

func (m *mq) Publish(ctx context.Context, topic string, data []byte, opts ...PublishOption) error {
	if topic == "" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "topic is empty")
	}
	o := publishOptions{Headers: Headers{}}
	for _, opt := range opts {
		opt(&o)
	}
	trace.Inject(ctx, o.Headers)

	err := m.transport.Publish(ctx, topic, data, o)
	status := "ok"
	if err != nil {
		status = "error"
		m.logger.ErrorContext(ctx, "publish failed", clog.String("topic", topic), clog.Error(err))
	}
	m.published.Inc(ctx, metrics.L("topic", topic), metrics.L("status", status))
	if err != nil {
		return xerrors.Wrapf(err, "publish to %s", topic)
	}
	return nil
}

func (m *mq) Subscribe(ctx context.Context, topic string, handler Handler, opts ...SubscribeOption) (Subscription, error) {
	if topic == "" {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "topic is empty")
	}
	if handler == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "handler is nil")
	}
	o := defaultSubscribeOptions()
	for _, opt := range opts {
		opt(&o)
	}

	sub, err := m.transport.Subscribe(ctx, topic, m.wrapHandler(topic, handler, o), o)
	if err != nil {
		return nil, err
	}
	m.logger.Info("subscribed",
		clog.String("topic", topic),
		clog.String("queue_group", o.QueueGroup),
		clog.Bool("auto_ack", o.AutoAck))
	return sub, nil
}

// wrapHandler 恢复链路上下文、记录指标并按配置自动确认
func (m *mq) wrapHandler(topic string, handler Handler, o subscribeOptions) Handler {
	return func(msg Message) error {
		ctx := trace.Extract(msg.Context(), msg.Headers())
		msg = WithContext(msg, ctx)

		start := time.Now()
		err := handler(msg)
		m.duration.Record(ctx, time.Since(start).Seconds(), metrics.L("topic", topic))

		status := "ok"
		if err != nil {
			status = "error"
		}
		m.consumed.Inc(ctx, metrics.L("topic", topic), metrics.L("status", status))

		if !o.AutoAck {
			return err
		}
		if err == nil {
			if ackErr := msg.Ack(); ackErr != nil {
				m.logger.WarnContext(ctx, "ack failed", clog.String("topic", topic), clog.String("msg_id", msg.ID()), clog.Error(ackErr))
			}
			return nil
		}
		if nakErr := msg.Nak(); nakErr != nil {
			m.logger.WarnContext(ctx, "nak failed", clog.String("topic", topic), clog.String("msg_id", msg.ID()), clog.Error(nakErr))
		}
		return err
	}
}

func (m *mq) Capabilities() Capabilities {
	return m.transport.Capabilities()
}

func (m *mq) Close() error {
	return m.transport.Close()
}
