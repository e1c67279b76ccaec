package mq

import "context"

// transport 底层驱动需要实现的能力
type transport interface {
	Publish(ctx context.Context, topic string, data []byte, opts publishOptions) error
	Subscribe(ctx context.Context, topic string, handler Handler, opts subscribeOptions) (Subscription, error)
	Close() error
	Capabilities() Capabilities
}

// Capabilities 描述驱动支持的语义
type Capabilities struct {
	// Persistent 消息落盘，订阅者离线期间的消息不丢失
	Persistent bool
	// Ack 支持确认，未确认的消息会重新投递
	Ack bool
	// QueueGroup 支持竞争消费
	QueueGroup bool
}

var (
	capabilitiesMemory      = Capabilities{QueueGroup: true}
	capabilitiesNATSCore    = Capabilities{QueueGroup: true}
	capabilitiesRedisStream = Capabilities{Persistent: true, Ack: true, QueueGroup: true}
	capabilitiesKafka       = Capabilities{Persistent: true, Ack: true, QueueGroup: true}
)
