package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/connector"
	"github.com/ceyewan/bulwark/xerrors"
)

const (
	redisFieldPayload = "payload"
	redisFieldHeaders = "headers"

	// 空闲超过 pendingIdleTime 的 Pending 消息可被其他消费者认领
	pendingIdleTime   = 30 * time.Second
	pendingClaimCount = 10
	pendingCheckRatio = 5
)

type redisStreamTransport struct {
	client *redis.Client
	cfg    RedisStreamConfig
	logger clog.Logger
}

func newRedisStreamTransport(conn connector.RedisConnector, cfg RedisStreamConfig, logger clog.Logger) *redisStreamTransport {
	return &redisStreamTransport{
		client: conn.GetClient(),
		cfg:    cfg,
		logger: logger,
	}
}

func (t *redisStreamTransport) Publish(ctx context.Context, topic string, data []byte, opts publishOptions) error {
	values := map[string]any{
		redisFieldPayload: data,
	}
	if len(opts.Headers) > 0 {
		raw, err := json.Marshal(opts.Headers)
		if err != nil {
			return xerrors.Wrap(err, "marshal headers")
		}
		values[redisFieldHeaders] = raw
	}

	args := &redis.XAddArgs{Stream: topic, Values: values}
	if t.cfg.MaxLen > 0 {
		args.MaxLen = t.cfg.MaxLen
		args.Approx = t.cfg.Approximate
	}
	return t.client.XAdd(ctx, args).Err()
}

func (t *redisStreamTransport) Subscribe(ctx context.Context, topic string, handler Handler, opts subscribeOptions) (Subscription, error) {
	if opts.QueueGroup != "" {
		err := t.client.XGroupCreateMkStream(ctx, topic, opts.QueueGroup, "0").Err()
		if err != nil && !isBusyGroup(err) {
			return nil, xerrors.Wrapf(err, "create consumer group %s", opts.QueueGroup)
		}
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &redisStreamSubscription{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer sub.once.Do(func() { close(sub.done) })
		if opts.QueueGroup != "" {
			t.consumeWithGroup(subCtx, topic, opts, handler)
		} else {
			t.consumeBroadcast(subCtx, topic, opts, handler)
		}
	}()
	return sub, nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// consumeWithGroup 消费组模式：读新消息，并定期认领其他消费者遗留的 Pending 消息
func (t *redisStreamTransport) consumeWithGroup(ctx context.Context, topic string, opts subscribeOptions, handler Handler) {
	group := opts.QueueGroup
	consumer := opts.ConsumerName
	if consumer == "" {
		consumer = fmt.Sprintf("%s-%d", group, time.Now().UnixNano())
	}

	loop := 0
	cursor := "0-0"
	for ctx.Err() == nil {
		loop++
		if loop%pendingCheckRatio == 0 {
			cursor = t.claimPending(ctx, topic, group, consumer, cursor, handler)
		}

		streams, err := t.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{topic, ">"},
			Count:    int64(opts.BatchSize),
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			t.logger.Error("XReadGroup failed", clog.String("topic", topic), clog.Error(err))
			sleepCtx(ctx, time.Second)
			continue
		}

		for _, stream := range streams {
			for _, m := range stream.Messages {
				t.process(ctx, topic, group, m, handler)
			}
		}
	}
}

// claimPending 返回下次扫描的游标，扫描完一轮后为 "0-0"
func (t *redisStreamTransport) claimPending(ctx context.Context, topic, group, consumer, cursor string, handler Handler) string {
	messages, next, err := t.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   topic,
		Group:    group,
		Consumer: consumer,
		MinIdle:  pendingIdleTime,
		Start:    cursor,
		Count:    pendingClaimCount,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			t.logger.Warn("XAutoClaim failed", clog.String("topic", topic), clog.Error(err))
		}
		return "0-0"
	}

	if len(messages) > 0 {
		t.logger.Info("claimed pending messages",
			clog.String("topic", topic),
			clog.String("group", group),
			clog.Int("count", len(messages)))
	}
	for _, m := range messages {
		t.process(ctx, topic, group, m, handler)
	}
	return next
}

func (t *redisStreamTransport) consumeBroadcast(ctx context.Context, topic string, opts subscribeOptions, handler Handler) {
	lastID := "$"
	for ctx.Err() == nil {
		streams, err := t.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{topic, lastID},
			Count:   int64(opts.BatchSize),
			Block:   2 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			t.logger.Error("XRead failed", clog.String("topic", topic), clog.Error(err))
			sleepCtx(ctx, time.Second)
			continue
		}

		for _, stream := range streams {
			for _, m := range stream.Messages {
				t.process(ctx, topic, "", m, handler)
				lastID = m.ID
			}
		}
	}
}

func (t *redisStreamTransport) process(ctx context.Context, topic, group string, raw redis.XMessage, handler Handler) {
	msg := &redisStreamMessage{
		ctx:     ctx,
		id:      raw.ID,
		topic:   topic,
		data:    fieldBytes(raw.Values[redisFieldPayload]),
		headers: t.decodeHeaders(raw.Values[redisFieldHeaders]),
		client:  t.client,
		group:   group,
	}
	_ = handler(msg)
}

func (t *redisStreamTransport) decodeHeaders(v any) Headers {
	raw := fieldBytes(v)
	if len(raw) == 0 {
		return nil
	}
	var h Headers
	if err := json.Unmarshal(raw, &h); err != nil {
		t.logger.Warn("decode headers failed", clog.Error(err))
		return nil
	}
	return h
}

func fieldBytes(v any) []byte {
	switch val := v.(type) {
	case string:
		return []byte(val)
	case []byte:
		return val
	default:
		return nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (t *redisStreamTransport) Close() error {
	return nil
}

func (t *redisStreamTransport) Capabilities() Capabilities {
	return capabilitiesRedisStream
}

type redisStreamMessage struct {
	ctx     context.Context
	id      string
	topic   string
	data    []byte
	headers Headers
	client  *redis.Client
	group   string
}

func (m *redisStreamMessage) Context() context.Context { return m.ctx }
func (m *redisStreamMessage) Topic() string            { return m.topic }
func (m *redisStreamMessage) Data() []byte             { return m.data }
func (m *redisStreamMessage) Headers() Headers         { return m.headers.Clone() }
func (m *redisStreamMessage) ID() string               { return m.id }

func (m *redisStreamMessage) Ack() error {
	if m.group == "" {
		return nil
	}
	return m.client.XAck(context.WithoutCancel(m.ctx), m.topic, m.group, m.id).Err()
}

// Nak 无原生语义，消息留在 Pending 列表等待 XAUTOCLAIM
func (m *redisStreamMessage) Nak() error {
	return nil
}

type redisStreamSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *redisStreamSubscription) Unsubscribe() error {
	s.cancel()
	return nil
}

func (s *redisStreamSubscription) Done() <-chan struct{} {
	return s.done
}
