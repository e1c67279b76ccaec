package mq

import (
	"context"
	"maps"
)

// Headers 消息元数据（键值对），Publish 时自动写入链路信息
type Headers map[string]string

// Clone 返回 Headers 的深拷贝
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	clone := make(Headers, len(h))
	maps.Copy(clone, h)
	return clone
}

// Get 获取指定 key 的值，不存在返回空字符串
func (h Headers) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[key]
}

// Message 消息接口
//
// 不同后端的 Ack/Nak 行为：
//   - memory / NATS Core: 均为空操作（无持久化语义）
//   - Redis Stream: 消费组模式下 Ack 执行 XACK，Nak 无操作，消息留在 Pending 列表等待认领
//   - Kafka: 消费组模式下 Ack 提交 offset，Nak 无操作
type Message interface {
	// Context 订阅上下文，经 WithTracing 包装后携带上游链路
	Context() context.Context
	Topic() string
	Data() []byte
	// Headers 返回副本
	Headers() Headers
	Ack() error
	Nak() error
	// ID 后端消息标识，NATS Core 为空
	ID() string
}

// Handler 消息处理函数，通过 msg.Context() 获取上下文。
// 返回 nil 时自动确认（WithManualAck 除外）。
type Handler func(msg Message) error

// Subscription 订阅句柄
type Subscription interface {
	// Unsubscribe 停止接收新消息，不等待正在执行的 Handler
	Unsubscribe() error
	// Done 订阅完全停止时关闭
	Done() <-chan struct{}
}

// ctxMessage 替换 Context 的消息包装
type ctxMessage struct {
	Message
	ctx context.Context
}

func (m *ctxMessage) Context() context.Context { return m.ctx }

// WithContext 返回使用 ctx 的消息副本
func WithContext(msg Message, ctx context.Context) Message {
	return &ctxMessage{Message: msg, ctx: ctx}
}
