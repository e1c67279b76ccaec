package mq

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/connector"
	"github.com/ceyewan/bulwark/xerrors"
)

type natsCoreTransport struct {
	conn   *nats.Conn
	logger clog.Logger
}

func newNATSCoreTransport(conn connector.NATSConnector, logger clog.Logger) *natsCoreTransport {
	return &natsCoreTransport{conn: conn.GetClient(), logger: logger}
}

func (t *natsCoreTransport) Publish(ctx context.Context, topic string, data []byte, opts publishOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(opts.Headers) == 0 {
		return t.conn.Publish(topic, data)
	}
	return t.conn.PublishMsg(&nats.Msg{
		Subject: topic,
		Data:    data,
		Header:  headersToNATS(opts.Headers),
	})
}

func (t *natsCoreTransport) Subscribe(ctx context.Context, topic string, handler Handler, opts subscribeOptions) (Subscription, error) {
	cb := func(msg *nats.Msg) {
		_ = handler(&natsCoreMessage{ctx: ctx, msg: msg, headers: headersFromNATS(msg.Header)})
	}

	var (
		sub *nats.Subscription
		err error
	)
	if opts.QueueGroup != "" {
		sub, err = t.conn.QueueSubscribe(topic, opts.QueueGroup, cb)
	} else {
		sub, err = t.conn.Subscribe(topic, cb)
	}
	if err != nil {
		return nil, xerrors.Wrapf(err, "subscribe to %s", topic)
	}
	return newNATSCoreSubscription(ctx, sub), nil
}

func (t *natsCoreTransport) Close() error {
	return nil
}

func (t *natsCoreTransport) Capabilities() Capabilities {
	return capabilitiesNATSCore
}

type natsCoreMessage struct {
	ctx     context.Context
	msg     *nats.Msg
	headers Headers
}

func (m *natsCoreMessage) Context() context.Context { return m.ctx }
func (m *natsCoreMessage) Topic() string            { return m.msg.Subject }
func (m *natsCoreMessage) Data() []byte             { return m.msg.Data }
func (m *natsCoreMessage) Headers() Headers         { return m.headers.Clone() }
func (m *natsCoreMessage) Ack() error               { return nil }
func (m *natsCoreMessage) Nak() error               { return nil }
func (m *natsCoreMessage) ID() string               { return "" }

type natsCoreSubscription struct {
	sub    *nats.Subscription
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newNATSCoreSubscription(parent context.Context, sub *nats.Subscription) *natsCoreSubscription {
	ctx, cancel := context.WithCancel(parent)
	s := &natsCoreSubscription{sub: sub, cancel: cancel, done: make(chan struct{})}
	go func() {
		<-ctx.Done()
		_ = s.sub.Unsubscribe()
		s.once.Do(func() { close(s.done) })
	}()
	return s
}

func (s *natsCoreSubscription) Unsubscribe() error {
	s.cancel()
	return nil
}

func (s *natsCoreSubscription) Done() <-chan struct{} {
	return s.done
}

func headersToNATS(h Headers) nats.Header {
	nh := make(nats.Header, len(h))
	for k, v := range h {
		nh.Set(k, v)
	}
	return nh
}

// headersFromNATS 多值 header 只取第一个
func headersFromNATS(nh nats.Header) Headers {
	if len(nh) == 0 {
		return nil
	}
	h := make(Headers, len(nh))
	for k, v := range nh {
		if len(v) > 0 {
			h[k] = v[0]
		}
	}
	return h
}
