package mq

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/connector"
	"github.com/ceyewan/bulwark/xerrors"
)

// kafkaTransport 生产复用连接器的共享客户端；每个订阅独立创建消费客户端，
// 以便使用不同的消费组。
type kafkaTransport struct {
	conn   connector.KafkaConnector
	logger clog.Logger
}

func newKafkaTransport(conn connector.KafkaConnector, logger clog.Logger) *kafkaTransport {
	return &kafkaTransport{conn: conn, logger: logger}
}

func (t *kafkaTransport) Publish(ctx context.Context, topic string, data []byte, opts publishOptions) error {
	client := t.conn.GetClient()
	if client == nil {
		return xerrors.Wrap(xerrors.ErrUnavailable, "kafka connector not connected")
	}

	record := &kgo.Record{Topic: topic, Value: data}
	if opts.Key != "" {
		record.Key = []byte(opts.Key)
	}
	for k, v := range opts.Headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	return client.ProduceSync(ctx, record).FirstErr()
}

func (t *kafkaTransport) Subscribe(ctx context.Context, topic string, handler Handler, opts subscribeOptions) (Subscription, error) {
	kopts := []kgo.Opt{
		kgo.SeedBrokers(t.conn.Seeds()...),
		kgo.ConsumeTopics(topic),
		kgo.AllowAutoTopicCreation(),
		kgo.FetchMaxPartitionBytes(1 << 20),
	}
	// 无消费组时直接消费全部分区，每个实例都收到消息
	if opts.QueueGroup != "" {
		kopts = append(kopts, kgo.ConsumerGroup(opts.QueueGroup), kgo.DisableAutoCommit())
	}

	client, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "create kafka consumer client")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSubscription{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer sub.once.Do(func() { close(sub.done) })
		defer client.Close()

		for {
			fetches := client.PollRecords(subCtx, opts.BatchSize)
			if fetches.IsClientClosed() || subCtx.Err() != nil {
				return
			}
			if errs := fetches.Errors(); len(errs) > 0 {
				for _, fe := range errs {
					t.logger.Error("kafka poll error", clog.String("topic", fe.Topic), clog.Error(fe.Err))
				}
				sleepCtx(subCtx, time.Second)
				continue
			}

			iter := fetches.RecordIter()
			for !iter.Done() {
				record := iter.Next()
				_ = handler(&kafkaMessage{
					ctx:    subCtx,
					record: record,
					client: client,
					group:  opts.QueueGroup,
				})
			}
		}
	}()
	return sub, nil
}

func (t *kafkaTransport) Close() error {
	return nil
}

func (t *kafkaTransport) Capabilities() Capabilities {
	return capabilitiesKafka
}

type kafkaMessage struct {
	ctx    context.Context
	record *kgo.Record
	client *kgo.Client
	group  string
}

func (m *kafkaMessage) Context() context.Context { return m.ctx }
func (m *kafkaMessage) Topic() string            { return m.record.Topic }
func (m *kafkaMessage) Data() []byte             { return m.record.Value }

// ID 分区与 offset，如 "3-1024"
func (m *kafkaMessage) ID() string {
	return strconv.FormatInt(int64(m.record.Partition), 10) + "-" + strconv.FormatInt(m.record.Offset, 10)
}

func (m *kafkaMessage) Headers() Headers {
	if len(m.record.Headers) == 0 {
		return nil
	}
	h := make(Headers, len(m.record.Headers))
	for _, rh := range m.record.Headers {
		h[rh.Key] = string(rh.Value)
	}
	return h
}

// Ack 提交 offset，非消费组模式为空操作
func (m *kafkaMessage) Ack() error {
	if m.group == "" {
		return nil
	}
	return m.client.CommitRecords(context.WithoutCancel(m.ctx), m.record)
}

func (m *kafkaMessage) Nak() error {
	return nil
}

type kafkaSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *kafkaSubscription) Unsubscribe() error {
	s.cancel()
	return nil
}

func (s *kafkaSubscription) Done() <-chan struct{} {
	return s.done
}
