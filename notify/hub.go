package notify

import (
	"context"
	"sync"

	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/xerrors"
)

// RealtimeProvider realtime 渠道成功推送时记录的 provider 名称
const RealtimeProvider = "sse"

// Realtime 实时推送通道
type Realtime interface {
	// Push 推送给收件人当前连接的订阅者。
	// 没有订阅者时返回 false 且不报错。
	Push(ctx context.Context, recipientID string, n *Notification) (bool, error)
}

// Hub 进程内的实时推送中心，api 层把每个 SSE 连接注册为一个订阅者
type Hub struct {
	buffer int
	logger clog.Logger

	mu     sync.Mutex
	subs   map[string]map[*hubSub]struct{}
	closed bool
}

type hubSub struct {
	ch   chan *Notification
	once sync.Once
}

func (s *hubSub) close() {
	s.once.Do(func() { close(s.ch) })
}

// NewHub 创建推送中心，buffer 为每个订阅者的缓冲条数 (默认: 16)
func NewHub(buffer int, opts ...Option) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		buffer: buffer,
		logger: applyOptions(opts).logger,
		subs:   make(map[string]map[*hubSub]struct{}),
	}
}

// Subscribe 注册订阅者，返回的 cancel 必须调用以释放资源。
// Hub 关闭后通道会被关闭。
func (h *Hub) Subscribe(recipientID string) (<-chan *Notification, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, nil, ErrHubClosed
	}

	sub := &hubSub{ch: make(chan *Notification, h.buffer)}
	set, ok := h.subs[recipientID]
	if !ok {
		set = make(map[*hubSub]struct{})
		h.subs[recipientID] = set
	}
	set[sub] = struct{}{}
	h.logger.Debug("realtime subscriber attached", clog.String("recipient", recipientID), clog.Int("subscribers", len(set)))

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[recipientID]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, recipientID)
			}
		}
		h.mu.Unlock()
		sub.close()
	}
	return sub.ch, cancel, nil
}

// Subscribers 返回收件人当前的订阅者数量
func (h *Hub) Subscribers(recipientID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[recipientID])
}

// Push 非阻塞推送，缓冲区已满的订阅者会被跳过。
// 只要有一个订阅者收到即返回 true；全部已满时返回错误。
func (h *Hub) Push(ctx context.Context, recipientID string, n *Notification) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false, ErrHubClosed
	}

	set := h.subs[recipientID]
	if len(set) == 0 {
		return false, nil
	}
	delivered := 0
	for sub := range set {
		select {
		case sub.ch <- n:
			delivered++
		default:
			h.logger.WarnContext(ctx, "realtime subscriber buffer full", clog.String("recipient", recipientID))
		}
	}
	if delivered == 0 {
		return false, xerrors.Wrapf(xerrors.ErrUnavailable, "all %d subscribers of %s are saturated", len(set), recipientID)
	}
	return true, nil
}

// Close 关闭全部订阅通道
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for id, set := range h.subs {
		for sub := range set {
			sub.close()
		}
		delete(h.subs, id)
	}
	return nil
}
