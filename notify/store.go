package notify

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ceyewan/bulwark/xerrors"
)

// StatusStore 持久化每个渠道的投递状态
type StatusStore interface {
	// Create 批量写入新的投递记录
	Create(ctx context.Context, deliveries ...*Delivery) error
	// Update 将 PENDING 记录转到终态，返回更新后的记录。
	// 记录不存在返回 ErrDeliveryNotFound，已是终态返回 ErrInvalidTransition。
	Update(ctx context.Context, id string, out Outcome) (*Delivery, error)
	Get(ctx context.Context, id string) (*Delivery, error)
	// ListByNotification 按渠道顺序返回同一通知的全部记录
	ListByNotification(ctx context.Context, notificationID string) ([]Delivery, error)
}

func checkOutcome(out Outcome) error {
	if !out.Status.Terminal() {
		return xerrors.Wrapf(ErrInvalidTransition, "target status %q is not terminal", out.Status)
	}
	return nil
}

func channelRank(ch Channel) int {
	return slices.Index(Channels(), ch)
}

// MemoryStore 进程内状态存储，单实例部署与测试使用
type MemoryStore struct {
	mu         sync.RWMutex
	deliveries map[string]*Delivery
	byNotify   map[string][]string
}

// NewMemoryStore 创建进程内状态存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		deliveries: make(map[string]*Delivery),
		byNotify:   make(map[string][]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, deliveries ...*Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range deliveries {
		if _, ok := s.deliveries[d.ID]; ok {
			return xerrors.Wrapf(xerrors.ErrInvalidInput, "delivery %s already exists", d.ID)
		}
	}
	for _, d := range deliveries {
		c := *d
		s.deliveries[c.ID] = &c
		s.byNotify[c.NotificationID] = append(s.byNotify[c.NotificationID], c.ID)
	}
	return nil
}

func (s *MemoryStore) Update(_ context.Context, id string, out Outcome) (*Delivery, error) {
	if err := checkOutcome(out); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deliveries[id]
	if !ok {
		return nil, xerrors.Wrapf(ErrDeliveryNotFound, "id %s", id)
	}
	if d.Status != StatusPending {
		return nil, xerrors.Wrapf(ErrInvalidTransition, "delivery %s is %s", id, d.Status)
	}
	d.Status = out.Status
	d.Provider = out.Provider
	d.MessageID = out.MessageID
	d.Error = out.Error
	d.UpdatedAt = time.Now()
	c := *d
	return &c, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, xerrors.Wrapf(ErrDeliveryNotFound, "id %s", id)
	}
	c := *d
	return &c, nil
}

func (s *MemoryStore) ListByNotification(_ context.Context, notificationID string) ([]Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byNotify[notificationID]
	out := make([]Delivery, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.deliveries[id])
	}
	slices.SortStableFunc(out, func(a, b Delivery) int {
		return channelRank(a.Channel) - channelRank(b.Channel)
	})
	return out, nil
}
