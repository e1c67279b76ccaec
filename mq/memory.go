package mq

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/xerrors"
)

// memoryTransport 进程内驱动。
// 无队列组的订阅各自收到全部消息；同一队列组内按轮询分发。
// 主题尚无订阅时消息暂存在积压中（最多 buffer 条），由第一个订阅者接收；积压满后 Publish 返回 ErrNoSubscriber。
type memoryTransport struct {
	buffer int
	logger clog.Logger

	mu     sync.RWMutex
	topics map[string]*memoryTopic
	closed bool
	seq    atomic.Uint64
}

type memoryTopic struct {
	broadcast map[*memorySubscription]struct{}
	groups    map[string]*memoryGroup
	backlog   []*memoryMessage
}

func newMemoryTopic() *memoryTopic {
	return &memoryTopic{broadcast: map[*memorySubscription]struct{}{}, groups: map[string]*memoryGroup{}}
}

type memoryGroup struct {
	members []*memorySubscription
	next    int
}

func newMemoryTransport(cfg MemoryConfig, logger clog.Logger) *memoryTransport {
	return &memoryTransport{
		buffer: cfg.Buffer,
		logger: logger,
		topics: make(map[string]*memoryTopic),
	}
}

func (t *memoryTransport) Publish(ctx context.Context, topic string, data []byte, opts publishOptions) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	msg := &memoryMessage{
		id:      strconv.FormatUint(t.seq.Add(1), 10),
		topic:   topic,
		data:    append([]byte(nil), data...),
		headers: opts.Headers.Clone(),
	}

	tp, ok := t.topics[topic]
	if !ok {
		tp = newMemoryTopic()
		t.topics[topic] = tp
	}
	var targets []*memorySubscription
	for sub := range tp.broadcast {
		targets = append(targets, sub)
	}
	for _, g := range tp.groups {
		if len(g.members) == 0 {
			continue
		}
		targets = append(targets, g.members[g.next%len(g.members)])
		g.next++
	}
	if len(targets) == 0 {
		if len(tp.backlog) >= t.buffer {
			t.mu.Unlock()
			return xerrors.Wrapf(ErrNoSubscriber, "topic %s backlog full (%d)", topic, t.buffer)
		}
		tp.backlog = append(tp.backlog, msg)
		held := len(tp.backlog)
		t.mu.Unlock()
		t.logger.DebugContext(ctx, "no subscriber yet, message held",
			clog.String("topic", topic), clog.Int("backlog", held))
		return nil
	}
	t.mu.Unlock()

	for _, sub := range targets {
		if err := sub.enqueue(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (t *memoryTransport) Subscribe(ctx context.Context, topic string, handler Handler, opts subscribeOptions) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &memorySubscription{
		ctx:    subCtx,
		cancel: cancel,
		ch:     make(chan *memoryMessage, t.buffer),
		done:   make(chan struct{}),
		group:  opts.QueueGroup,
		topic:  topic,
	}

	tp, ok := t.topics[topic]
	if !ok {
		tp = newMemoryTopic()
		t.topics[topic] = tp
	}
	// 积压不超过 buffer，通道容量足够
	for _, msg := range tp.backlog {
		sub.ch <- msg
	}
	tp.backlog = nil
	if sub.group == "" {
		tp.broadcast[sub] = struct{}{}
	} else {
		g, ok := tp.groups[sub.group]
		if !ok {
			g = &memoryGroup{}
			tp.groups[sub.group] = g
		}
		g.members = append(g.members, sub)
	}

	go sub.consume(handler, func() { t.remove(sub) })
	return sub, nil
}

func (t *memoryTransport) remove(sub *memorySubscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tp, ok := t.topics[sub.topic]
	if !ok {
		return
	}
	if sub.group == "" {
		delete(tp.broadcast, sub)
		return
	}
	g := tp.groups[sub.group]
	if g == nil {
		return
	}
	for i, m := range g.members {
		if m == sub {
			g.members = append(g.members[:i], g.members[i+1:]...)
			break
		}
	}
	if len(g.members) == 0 {
		delete(tp.groups, sub.group)
	}
}

func (t *memoryTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	var subs []*memorySubscription
	for _, tp := range t.topics {
		for sub := range tp.broadcast {
			subs = append(subs, sub)
		}
		for _, g := range tp.groups {
			subs = append(subs, g.members...)
		}
	}
	t.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
	}
	return nil
}

func (t *memoryTransport) Capabilities() Capabilities {
	return capabilitiesMemory
}

type memorySubscription struct {
	ctx    context.Context
	cancel context.CancelFunc
	ch     chan *memoryMessage
	done   chan struct{}
	group  string
	topic  string
}

// enqueue 缓冲区满时阻塞，直到发布方 ctx 结束或订阅停止
func (s *memorySubscription) enqueue(ctx context.Context, msg *memoryMessage) error {
	select {
	case s.ch <- msg:
		return nil
	case <-s.ctx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *memorySubscription) consume(handler Handler, detach func()) {
	defer close(s.done)
	defer detach()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.ch:
			_ = handler(msg.withContext(s.ctx))
		}
	}
}

func (s *memorySubscription) Unsubscribe() error {
	s.cancel()
	return nil
}

func (s *memorySubscription) Done() <-chan struct{} {
	return s.done
}

type memoryMessage struct {
	ctx     context.Context
	id      string
	topic   string
	data    []byte
	headers Headers
}

func (m *memoryMessage) withContext(ctx context.Context) *memoryMessage {
	c := *m
	c.ctx = ctx
	return &c
}

func (m *memoryMessage) Context() context.Context {
	if m.ctx == nil {
		return context.Background()
	}
	return m.ctx
}

func (m *memoryMessage) Topic() string    { return m.topic }
func (m *memoryMessage) Data() []byte     { return m.data }
func (m *memoryMessage) Headers() Headers { return m.headers.Clone() }
func (m *memoryMessage) Ack() error       { return nil }
func (m *memoryMessage) Nak() error       { return nil }
func (m *memoryMessage) ID() string       { return m.id }
