package mq

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/bulwark/testkit"
)

func newMemoryMQ(t *testing.T) MQ {
	t.Helper()
	q, err := New(&Config{Driver: DriverMemory}, WithLogger(testkit.NewLogger()), WithMeter(testkit.NewMeter()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

// collector 收集 Handler 收到的消息
type collector struct {
	mu   sync.Mutex
	msgs []Message
	ch   chan struct{}
}

func newCollector() *collector {
	return &collector{ch: make(chan struct{}, 128)}
}

func (c *collector) handle(msg Message) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	c.ch <- struct{}{}
	return nil
}

func (c *collector) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d/%d", i+1, n)
		}
	}
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestNew(t *testing.T) {
	t.Run("默认使用内存驱动", func(t *testing.T) {
		q, err := New(nil)
		require.NoError(t, err)
		defer q.Close()
		assert.Equal(t, capabilitiesMemory, q.Capabilities())
	})

	t.Run("未知驱动", func(t *testing.T) {
		_, err := New(&Config{Driver: "rabbitmq"})
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("缺少连接器", func(t *testing.T) {
		for _, d := range []Driver{DriverRedisStream, DriverNATSCore, DriverKafka} {
			_, err := New(&Config{Driver: d})
			assert.ErrorIs(t, err, ErrConnectorRequired, string(d))
		}
	})

	t.Run("负数 MaxLen", func(t *testing.T) {
		_, err := New(&Config{Driver: DriverRedisStream, RedisStream: RedisStreamConfig{MaxLen: -1}})
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestMemoryPubSub(t *testing.T) {
	ctx := context.Background()

	t.Run("广播到所有订阅者", func(t *testing.T) {
		q := newMemoryMQ(t)
		a, b := newCollector(), newCollector()
		_, err := q.Subscribe(ctx, "events", a.handle)
		require.NoError(t, err)
		_, err = q.Subscribe(ctx, "events", b.handle)
		require.NoError(t, err)

		require.NoError(t, q.Publish(ctx, "events", []byte("hello"), WithHeaders(Headers{"x-kind": "test"})))
		a.wait(t, 1)
		b.wait(t, 1)

		msg := a.msgs[0]
		assert.Equal(t, "events", msg.Topic())
		assert.Equal(t, []byte("hello"), msg.Data())
		assert.Equal(t, "test", msg.Headers().Get("x-kind"))
		assert.NotEmpty(t, msg.ID())
	})

	t.Run("队列组内竞争消费", func(t *testing.T) {
		q := newMemoryMQ(t)
		all := newCollector()
		var a, b atomic.Int32
		for _, n := range []*atomic.Int32{&a, &b} {
			n := n
			_, err := q.Subscribe(ctx, "jobs", func(msg Message) error {
				n.Add(1)
				return all.handle(msg)
			}, WithQueueGroup("workers"))
			require.NoError(t, err)
		}

		for range 10 {
			require.NoError(t, q.Publish(ctx, "jobs", []byte("x")))
		}
		all.wait(t, 10)
		assert.Equal(t, int32(10), a.Load()+b.Load())
		assert.Equal(t, int32(5), a.Load(), "轮询分发")
	})

	t.Run("其他主题不受影响", func(t *testing.T) {
		q := newMemoryMQ(t)
		c := newCollector()
		_, err := q.Subscribe(ctx, "a", c.handle)
		require.NoError(t, err)
		require.NoError(t, q.Publish(ctx, "b", []byte("x")))
		require.NoError(t, q.Publish(ctx, "a", []byte("y")))
		c.wait(t, 1)
		assert.Equal(t, 1, c.count())
	})

	t.Run("取消订阅", func(t *testing.T) {
		q := newMemoryMQ(t)
		c := newCollector()
		sub, err := q.Subscribe(ctx, "t", c.handle)
		require.NoError(t, err)
		require.NoError(t, sub.Unsubscribe())
		select {
		case <-sub.Done():
		case <-time.After(time.Second):
			t.Fatal("subscription did not stop")
		}
		require.NoError(t, q.Publish(ctx, "t", []byte("x")))
		time.Sleep(20 * time.Millisecond)
		assert.Zero(t, c.count())
	})

	t.Run("ctx 取消时停止订阅", func(t *testing.T) {
		q := newMemoryMQ(t)
		subCtx, cancel := context.WithCancel(ctx)
		sub, err := q.Subscribe(subCtx, "t", newCollector().handle)
		require.NoError(t, err)
		cancel()
		select {
		case <-sub.Done():
		case <-time.After(time.Second):
			t.Fatal("subscription did not stop")
		}
	})

	t.Run("关闭后拒绝", func(t *testing.T) {
		q, err := New(nil)
		require.NoError(t, err)
		require.NoError(t, q.Close())
		require.NoError(t, q.Close())
		assert.ErrorIs(t, q.Publish(ctx, "t", nil), ErrClosed)
		_, err = q.Subscribe(ctx, "t", newCollector().handle)
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("订阅前发布的消息由首个订阅者接收", func(t *testing.T) {
		q := newMemoryMQ(t)
		require.NoError(t, q.Publish(ctx, "jobs", []byte("early-1")))
		require.NoError(t, q.Publish(ctx, "jobs", []byte("early-2")))

		c := newCollector()
		_, err := q.Subscribe(ctx, "jobs", c.handle, WithQueueGroup("workers"))
		require.NoError(t, err)
		c.wait(t, 2)

		c.mu.Lock()
		defer c.mu.Unlock()
		assert.Equal(t, []byte("early-1"), c.msgs[0].Data())
		assert.Equal(t, []byte("early-2"), c.msgs[1].Data())
	})

	t.Run("积压满后返回无订阅者错误", func(t *testing.T) {
		q, err := New(&Config{Driver: DriverMemory, Memory: MemoryConfig{Buffer: 2}}, WithLogger(testkit.NewLogger()))
		require.NoError(t, err)
		defer q.Close()

		require.NoError(t, q.Publish(ctx, "jobs", []byte("1")))
		require.NoError(t, q.Publish(ctx, "jobs", []byte("2")))
		assert.ErrorIs(t, q.Publish(ctx, "jobs", []byte("3")), ErrNoSubscriber)

		c := newCollector()
		_, err = q.Subscribe(ctx, "jobs", c.handle)
		require.NoError(t, err)
		c.wait(t, 2)
		require.NoError(t, q.Publish(ctx, "jobs", []byte("4")), "有订阅者后恢复正常")
		c.wait(t, 1)
		assert.Equal(t, 3, c.count())
	})

	t.Run("参数校验", func(t *testing.T) {
		q := newMemoryMQ(t)
		assert.Error(t, q.Publish(ctx, "", nil))
		_, err := q.Subscribe(ctx, "t", nil)
		assert.Error(t, err)
	})
}

func TestTracePropagation(t *testing.T) {
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	q := newMemoryMQ(t)
	c := newCollector()
	_, err := q.Subscribe(context.Background(), "traced", c.handle)
	require.NoError(t, err)

	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	require.NoError(t, q.Publish(ctx, "traced", []byte("x")))
	span.End()
	c.wait(t, 1)

	msg := c.msgs[0]
	assert.NotEmpty(t, msg.Headers().Get("traceparent"))
	got := oteltrace.SpanContextFromContext(msg.Context())
	assert.Equal(t, span.SpanContext().TraceID(), got.TraceID())
}

// ackMessage 记录 Ack/Nak 调用
type ackMessage struct {
	memoryMessage
	acks, naks atomic.Int32
}

func (m *ackMessage) Ack() error { m.acks.Add(1); return nil }
func (m *ackMessage) Nak() error { m.naks.Add(1); return nil }

func TestAutoAck(t *testing.T) {
	q := newMemoryMQ(t).(*mq)
	errHandle := errors.New("handle failed")

	t.Run("成功自动确认", func(t *testing.T) {
		msg := &ackMessage{memoryMessage: memoryMessage{topic: "t"}}
		h := q.wrapHandler("t", func(Message) error { return nil }, defaultSubscribeOptions())
		require.NoError(t, h(msg))
		assert.Equal(t, int32(1), msg.acks.Load())
		assert.Zero(t, msg.naks.Load())
	})

	t.Run("失败拒绝", func(t *testing.T) {
		msg := &ackMessage{memoryMessage: memoryMessage{topic: "t"}}
		h := q.wrapHandler("t", func(Message) error { return errHandle }, defaultSubscribeOptions())
		assert.ErrorIs(t, h(msg), errHandle)
		assert.Equal(t, int32(1), msg.naks.Load())
	})

	t.Run("手动确认", func(t *testing.T) {
		o := defaultSubscribeOptions()
		WithManualAck()(&o)
		msg := &ackMessage{memoryMessage: memoryMessage{topic: "t"}}
		h := q.wrapHandler("t", func(Message) error { return nil }, o)
		require.NoError(t, h(msg))
		assert.Zero(t, msg.acks.Load())
	})
}
