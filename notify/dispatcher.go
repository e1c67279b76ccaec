package notify

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ceyewan/bulwark/cache/serializer"
	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/metrics"
	"github.com/ceyewan/bulwark/mq"
	"github.com/ceyewan/bulwark/xerrors"
)

// Dispatcher 为一次通知创建各渠道的投递记录并触发投递
type Dispatcher struct {
	store    StatusStore
	queue    mq.MQ
	realtime Realtime
	cfg      Config
	codec    serializer.Serializer
	logger   clog.Logger

	deliveries metrics.Counter
}

// NewDispatcher 创建分发器。realtime 为 nil 时 realtime 渠道一律 SKIPPED。
func NewDispatcher(store StatusStore, queue mq.MQ, realtime Realtime, cfg *Config, opts ...Option) (*Dispatcher, error) {
	if store == nil {
		return nil, xerrors.Wrap(ErrInvalidConfig, "status store is nil")
	}
	if queue == nil {
		return nil, xerrors.Wrap(ErrInvalidConfig, "queue is nil")
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

	deliveries, err := o.meter.Counter("bulwark_notify_deliveries_total", "notification deliveries by channel and resulting status")
	if err != nil {
		return nil, xerrors.Wrap(err, "create deliveries counter")
	}

	return &Dispatcher{
		store:      store,
		queue:      queue,
		realtime:   realtime,
		cfg:        c,
		codec:      codec,
		logger:     o.logger,
		deliveries: deliveries,
	}, nil
}

// Dispatch 为每个渠道写入 PENDING 记录，realtime 同步推送，email 与 whatsapp 入队后立即返回。
// 只有参数错误或状态存储写入失败时返回 error，渠道自身的失败记录在 Report 中。
func (d *Dispatcher) Dispatch(ctx context.Context, r *Recipient, n *Notification) (*Report, error) {
	if r == nil || strings.TrimSpace(r.ID) == "" {
		return nil, xerrors.Wrap(ErrInvalidRecipient, "recipient id is empty")
	}
	if n == nil || (strings.TrimSpace(n.Title) == "" && strings.TrimSpace(n.Body) == "") {
		return nil, xerrors.Wrap(ErrInvalidNotification, "title and body are both empty")
	}

	note := *n
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	now := time.Now()
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}

	channels := Channels()
	deliveries := make([]*Delivery, 0, len(channels))
	for _, ch := range channels {
		deliveries = append(deliveries, &Delivery{
			ID:             uuid.NewString(),
			NotificationID: note.ID,
			RecipientID:    r.ID,
			Channel:        ch,
			Status:         StatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	if err := d.store.Create(ctx, deliveries...); err != nil {
		return nil, xerrors.Wrap(err, "persist deliveries")
	}

	logger := d.logger.With(clog.String("notification_id", note.ID), clog.String("recipient", r.ID))
	report := &Report{NotificationID: note.ID, Deliveries: make([]Delivery, 0, len(deliveries))}
	for _, del := range deliveries {
		d.deliver(ctx, logger, r, &note, del)
		report.Deliveries = append(report.Deliveries, *del)
	}

	logger.InfoContext(ctx, "notification dispatched")
	return report, nil
}

// deliver 处理单个渠道，结果写回 del
func (d *Dispatcher) deliver(ctx context.Context, logger clog.Logger, r *Recipient, n *Notification, del *Delivery) {
	ch := del.Channel
	switch {
	case !r.OptedIn(ch):
		d.finish(ctx, logger, del, Outcome{Status: StatusSkipped, Error: "channel not enabled"})
		return
	case strings.TrimSpace(r.address(ch)) == "":
		d.finish(ctx, logger, del, Outcome{Status: StatusSkipped, Error: "no contact address"})
		return
	}

	if ch == ChannelRealtime {
		d.pushRealtime(ctx, logger, r, n, del)
		return
	}

	data, err := d.codec.Marshal(job{
		DeliveryID:     del.ID,
		NotificationID: n.ID,
		RecipientID:    r.ID,
		Channel:        ch,
		To:             r.address(ch),
		Subject:        n.Title,
		Body:           n.Body,
	})
	if err == nil {
		err = d.queue.Publish(ctx, d.cfg.Topic, data,
			mq.WithKey(r.ID),
			mq.WithHeaders(mq.Headers{headerChannel: string(ch), headerDeliveryID: del.ID}))
	}
	if err != nil {
		logger.ErrorContext(ctx, "failed to enqueue delivery",
			clog.String("channel", string(ch)), clog.String("delivery_id", del.ID), clog.Error(err))
		d.finish(ctx, logger, del, Outcome{Status: StatusFailed, Error: "enqueue failed: " + err.Error()})
		return
	}
	d.deliveries.Inc(ctx, metrics.L("channel", string(ch)), metrics.L("status", string(StatusPending)))
	logger.DebugContext(ctx, "delivery enqueued", clog.String("channel", string(ch)), clog.String("delivery_id", del.ID))
}

func (d *Dispatcher) pushRealtime(ctx context.Context, logger clog.Logger, r *Recipient, n *Notification, del *Delivery) {
	if d.realtime == nil {
		d.finish(ctx, logger, del, Outcome{Status: StatusSkipped, Error: "realtime channel not configured"})
		return
	}
	ok, err := d.realtime.Push(ctx, r.ID, n)
	switch {
	case err != nil:
		logger.WarnContext(ctx, "realtime push failed", clog.Error(err))
		d.finish(ctx, logger, del, Outcome{Status: StatusFailed, Provider: RealtimeProvider, Error: err.Error()})
	case !ok:
		d.finish(ctx, logger, del, Outcome{Status: StatusSkipped, Error: "no active subscriber"})
	default:
		d.finish(ctx, logger, del, Outcome{Status: StatusSent, Provider: RealtimeProvider})
	}
}

// finish 写入终态；存储失败只记录日志，返回给调用方的报告仍反映实际结果
func (d *Dispatcher) finish(ctx context.Context, logger clog.Logger, del *Delivery, out Outcome) {
	del.Status = out.Status
	del.Provider = out.Provider
	del.MessageID = out.MessageID
	del.Error = out.Error
	del.UpdatedAt = time.Now()
	d.deliveries.Inc(ctx, metrics.L("channel", string(del.Channel)), metrics.L("status", string(out.Status)))

	if _, err := d.store.Update(ctx, del.ID, out); err != nil {
		logger.ErrorContext(ctx, "failed to record delivery status",
			clog.String("delivery_id", del.ID),
			clog.String("channel", string(del.Channel)),
			clog.String("status", string(out.Status)),
			clog.Error(err))
	}
}

// Deliveries 返回通知的全部投递记录
func (d *Dispatcher) Deliveries(ctx context.Context, notificationID string) ([]Delivery, error) {
	list, err := d.store.ListByNotification(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, xerrors.Wrapf(ErrDeliveryNotFound, "notification %s", notificationID)
	}
	return list, nil
}
