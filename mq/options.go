package mq

import (
	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/connector"
	"github.com/ceyewan/bulwark/metrics"
)

// Option MQ 组件选项
type Option func(*options)

type options struct {
	logger         clog.Logger
	meter          metrics.Meter
	redisConnector connector.RedisConnector
	natsConnector  connector.NATSConnector
	kafkaConnector connector.KafkaConnector
}

// WithLogger 注入日志记录器，内部追加命名空间 "mq"
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("mq")
		}
	}
}

// WithMeter 注入指标 Meter
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithRedisConnector 注入 Redis 连接器 (redis_stream)
func WithRedisConnector(conn connector.RedisConnector) Option {
	return func(o *options) {
		o.redisConnector = conn
	}
}

// WithNATSConnector 注入 NATS 连接器 (nats_core)
func WithNATSConnector(conn connector.NATSConnector) Option {
	return func(o *options) {
		o.natsConnector = conn
	}
}

// WithKafkaConnector 注入 Kafka 连接器 (kafka)
func WithKafkaConnector(conn connector.KafkaConnector) Option {
	return func(o *options) {
		o.kafkaConnector = conn
	}
}

func applyOptions(opts []Option) *options {
	o := &options{logger: clog.Discard(), meter: metrics.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PublishOption 发布选项
type PublishOption func(*publishOptions)

type publishOptions struct {
	Headers Headers
	// Key Kafka 分区路由
	Key string
}

// WithHeaders 设置消息头
func WithHeaders(h Headers) PublishOption {
	return func(o *publishOptions) {
		for k, v := range h {
			o.Headers[k] = v
		}
	}
}

// WithKey 设置消息 Key，Kafka 按 Key 路由分区，其他后端忽略
func WithKey(key string) PublishOption {
	return func(o *publishOptions) {
		o.Key = key
	}
}

// SubscribeOption 订阅选项
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	// QueueGroup 同组消费者竞争消费，为空时广播
	QueueGroup string
	// AutoAck Handler 返回 nil 时自动 Ack
	AutoAck bool
	// ConsumerName Redis Stream 消费者名称
	ConsumerName string
	// BatchSize 批量拉取大小
	BatchSize int
}

func defaultSubscribeOptions() subscribeOptions {
	return subscribeOptions{AutoAck: true, BatchSize: 10}
}

// WithQueueGroup 设置队列组（NATS queue / Redis 与 Kafka 消费组）
func WithQueueGroup(name string) SubscribeOption {
	return func(o *subscribeOptions) {
		o.QueueGroup = name
	}
}

// WithManualAck 关闭自动确认，由 Handler 调用 msg.Ack()
func WithManualAck() SubscribeOption {
	return func(o *subscribeOptions) {
		o.AutoAck = false
	}
}

// WithConsumerName 指定 Redis Stream 消费者名称，重启后可继续处理自己的 Pending 消息
func WithConsumerName(name string) SubscribeOption {
	return func(o *subscribeOptions) {
		o.ConsumerName = name
	}
}

// WithBatchSize 设置批量拉取大小
func WithBatchSize(n int) SubscribeOption {
	return func(o *subscribeOptions) {
		if n > 0 {
			o.BatchSize = n
		}
	}
}
