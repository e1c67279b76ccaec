package mq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/bulwark/testkit"
)

// roundTrip 订阅后发布一条消息，断言收到的内容与消息头
func roundTrip(t *testing.T, q MQ, topic string, opts ...SubscribeOption) {
	t.Helper()
	ctx := testkit.NewContext(t, 30*time.Second)

	c := newCollector()
	sub, err := q.Subscribe(ctx, topic, c.handle, opts...)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	// 等待订阅就绪，广播模式只接收订阅之后的消息
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, q.Publish(ctx, topic, []byte(`{"id":"n-1"}`), WithHeaders(Headers{"x-channel": "email"}), WithKey("n-1")))

	select {
	case <-c.ch:
	case <-time.After(20 * time.Second):
		t.Fatal("message not received")
	}
	msg := c.msgs[0]
	assert.Equal(t, topic, msg.Topic())
	assert.JSONEq(t, `{"id":"n-1"}`, string(msg.Data()))
	assert.Equal(t, "email", msg.Headers().Get("x-channel"))
}

func TestRedisStream(t *testing.T) {
	conn := testkit.NewRedisContainerConnector(t)
	q, err := New(&Config{Driver: DriverRedisStream, RedisStream: RedisStreamConfig{MaxLen: 1000, Approximate: true}},
		WithRedisConnector(conn), WithLogger(testkit.NewLogger()))
	require.NoError(t, err)
	defer q.Close()

	t.Run("广播", func(t *testing.T) {
		roundTrip(t, q, "stream-"+testkit.NewID())
	})

	t.Run("消费组确认", func(t *testing.T) {
		topic := "stream-" + testkit.NewID()
		roundTrip(t, q, topic, WithQueueGroup("workers"), WithConsumerName("w1"))

		assert.Eventually(t, func() bool {
			pending, err := conn.GetClient().XPending(context.Background(), topic, "workers").Result()
			return err == nil && pending.Count == 0
		}, 5*time.Second, 50*time.Millisecond, "自动确认后不应留在 Pending 列表")
	})
}

func TestNATSCore(t *testing.T) {
	conn := testkit.NewNATSContainerConnector(t)
	q, err := New(&Config{Driver: DriverNATSCore}, WithNATSConnector(conn), WithLogger(testkit.NewLogger()))
	require.NoError(t, err)
	defer q.Close()

	roundTrip(t, q, "nats."+testkit.NewID(), WithQueueGroup("workers"))
}

func TestKafka(t *testing.T) {
	conn := testkit.NewKafkaContainerConnector(t)
	q, err := New(&Config{Driver: DriverKafka}, WithKafkaConnector(conn), WithLogger(testkit.NewLogger()))
	require.NoError(t, err)
	defer q.Close()

	roundTrip(t, q, "kafka-"+testkit.NewID(), WithQueueGroup("workers"))
}
