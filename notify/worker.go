package notify

import (
	"context"
	"time"

	"github.com/ceyewan/bulwark/cache/serializer"
	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/metrics"
	"github.com/ceyewan/bulwark/mq"
	"github.com/ceyewan/bulwark/orchestrator"
	"github.com/ceyewan/bulwark/provider"
	"github.com/ceyewan/bulwark/ratelimit"
	"github.com/ceyewan/bulwark/xerrors"
)

// Sender 发送链，*orchestrator.Engine 满足该接口
type Sender interface {
	Send(ctx context.Context, msg *provider.Message) (*orchestrator.Envelope[provider.Receipt], error)
}

// Deduplicator 按键只执行一次，idem.Idempotency 满足该接口
type Deduplicator interface {
	Consume(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error)
}

// Worker 消费投递任务，按渠道限速后交给发送链，并记录终态
type Worker struct {
	queue   mq.MQ
	store   StatusStore
	sender  Sender
	limiter ratelimit.Limiter
	cfg     Config
	codec   serializer.Serializer
	logger  clog.Logger
	dedup   Deduplicator

	deliveries metrics.Counter
	latency    metrics.Histogram
}

// NewWorker 创建投递 Worker
func NewWorker(queue mq.MQ, store StatusStore, sender Sender, limiter ratelimit.Limiter, cfg *Config, opts ...Option) (*Worker, error) {
	if queue == nil || store == nil || sender == nil || limiter == nil {
		return nil, xerrors.Wrap(ErrInvalidConfig, "queue, store, sender and limiter are required")
	}
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	codec, _ := serializer.New(c.Codec)
	o := applyOptions(opts)

	w := &Worker{
		queue:   queue,
		store:   store,
		sender:  sender,
		limiter: limiter,
		cfg:     c,
		codec:   codec,
		logger:  o.logger.WithNamespace("worker"),
		dedup:   o.dedup,
	}
	var err error
	if w.deliveries, err = o.meter.Counter("bulwark_notify_deliveries_total", "notification deliveries by channel and resulting status"); err != nil {
		return nil, xerrors.Wrap(err, "create deliveries counter")
	}
	if w.latency, err = o.meter.Histogram("bulwark_notify_send_duration_seconds", "time from dequeue to recorded outcome",
		metrics.WithUnit("s")); err != nil {
		return nil, xerrors.Wrap(err, "create send histogram")
	}
	return w, nil
}

// Start 订阅任务主题，ctx 取消或调用 Unsubscribe 后停止
func (w *Worker) Start(ctx context.Context) (mq.Subscription, error) {
	middlewares := []mq.Middleware{mq.WithRecover(w.logger), mq.WithLogging(w.logger)}
	if w.cfg.Retry > 0 {
		retry := mq.DefaultRetryConfig
		retry.MaxRetries = w.cfg.Retry
		middlewares = append(middlewares, mq.WithRetry(retry, w.logger, nil))
	}

	sub, err := w.queue.Subscribe(ctx, w.cfg.Topic, mq.Chain(middlewares...)(w.handle), mq.WithQueueGroup(w.cfg.QueueGroup))
	if err != nil {
		return nil, xerrors.Wrap(err, "subscribe notification topic")
	}
	w.logger.Info("notification worker started",
		clog.String("topic", w.cfg.Topic),
		clog.String("queue_group", w.cfg.QueueGroup))
	return sub, nil
}

// handle 返回 error 时消息不确认，由 mq 后端重新投递
func (w *Worker) handle(msg mq.Message) error {
	ctx := msg.Context()
	start := time.Now()

	var j job
	if err := w.codec.Unmarshal(msg.Data(), &j); err != nil {
		// 无法解码的消息重投也不会成功，确认后丢弃
		w.logger.ErrorContext(ctx, "discarding undecodable delivery job", clog.String("msg_id", msg.ID()), clog.Error(err))
		return nil
	}
	logger := w.logger.With(
		clog.String("delivery_id", j.DeliveryID),
		clog.String("notification_id", j.NotificationID),
		clog.String("channel", string(j.Channel)))

	if w.dedup == nil {
		return w.process(ctx, logger, &j, start)
	}
	executed, err := w.dedup.Consume(ctx, "notify:delivery:"+j.DeliveryID, 0, func(ctx context.Context) error {
		return w.process(ctx, logger, &j, start)
	})
	if err != nil {
		return err
	}
	if !executed {
		logger.InfoContext(ctx, "delivery job already processed, skipping redelivery")
	}
	return nil
}

func (w *Worker) process(ctx context.Context, logger clog.Logger, j *job, start time.Time) error {
	if err := w.limiter.Wait(ctx, "notify:"+string(j.Channel), w.cfg.Pace.For(j.Channel)); err != nil {
		return xerrors.Wrap(err, "wait for send pace")
	}

	out := w.send(ctx, j)
	if _, err := w.store.Update(ctx, j.DeliveryID, out); err != nil {
		if xerrors.Is(err, ErrInvalidTransition) || xerrors.Is(err, ErrDeliveryNotFound) {
			logger.WarnContext(ctx, "delivery already settled, ignoring redelivery", clog.Error(err))
			return nil
		}
		return xerrors.Wrap(err, "record delivery outcome")
	}

	w.deliveries.Inc(ctx, metrics.L("channel", string(j.Channel)), metrics.L("status", string(out.Status)))
	w.latency.Record(ctx, time.Since(start).Seconds(), metrics.L("channel", string(j.Channel)))
	if out.Status == StatusFailed {
		logger.WarnContext(ctx, "delivery failed", clog.String("provider", out.Provider), clog.String("error", out.Error))
	} else {
		logger.InfoContext(ctx, "delivery sent", clog.String("provider", out.Provider), clog.String("message_id", out.MessageID))
	}
	return nil
}

func (w *Worker) send(ctx context.Context, j *job) Outcome {
	env, err := w.sender.Send(ctx, &provider.Message{
		ID:      j.DeliveryID,
		Channel: string(j.Channel),
		To:      j.To,
		Subject: j.Subject,
		Body:    j.Body,
	})
	if err != nil {
		return Outcome{Status: StatusFailed, Error: err.Error()}
	}
	if !env.Success {
		return Outcome{Status: StatusFailed, Provider: env.Source, Error: env.Error}
	}
	out := Outcome{Status: StatusSent, Provider: env.Source}
	if env.Data != nil {
		out.MessageID = env.Data.MessageID
		if env.Data.Provider != "" {
			out.Provider = env.Data.Provider
		}
	}
	return out
}
