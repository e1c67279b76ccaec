package notify

import (
	"context"
	"errors"
	"slices"
	"time"

	"gorm.io/gorm"

	"github.com/ceyewan/bulwark/xerrors"
)

// deliveryRecord 投递记录表
type deliveryRecord struct {
	ID             string `gorm:"primaryKey;size:36"`
	NotificationID string `gorm:"index;size:36;not null"`
	RecipientID    string `gorm:"index;size:128;not null"`
	Channel        string `gorm:"size:16;not null"`
	Status         string `gorm:"size:16;not null"`
	Provider       string `gorm:"size:64"`
	MessageID      string `gorm:"size:128"`
	Error          string `gorm:"size:1024"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (deliveryRecord) TableName() string {
	return "notification_deliveries"
}

func recordFrom(d *Delivery) deliveryRecord {
	return deliveryRecord{
		ID:             d.ID,
		NotificationID: d.NotificationID,
		RecipientID:    d.RecipientID,
		Channel:        string(d.Channel),
		Status:         string(d.Status),
		Provider:       d.Provider,
		MessageID:      d.MessageID,
		Error:          d.Error,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func (r *deliveryRecord) delivery() Delivery {
	return Delivery{
		ID:             r.ID,
		NotificationID: r.NotificationID,
		RecipientID:    r.RecipientID,
		Channel:        Channel(r.Channel),
		Status:         Status(r.Status),
		Provider:       r.Provider,
		MessageID:      r.MessageID,
		Error:          r.Error,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// GormStore 基于 GORM 的状态存储，SQLite 与 MySQL 连接器均可使用
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建状态存储并自动迁移表结构
//
//	conn, _ := connector.NewSQLite(&connector.SQLiteConfig{Path: "bulwark.db"})
//	_ = conn.Connect(ctx)
//	store, err := notify.NewGormStore(ctx, conn.GetClient())
func NewGormStore(ctx context.Context, db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, xerrors.Wrap(ErrInvalidConfig, "gorm db is nil")
	}
	if err := db.WithContext(ctx).AutoMigrate(&deliveryRecord{}); err != nil {
		return nil, xerrors.Wrap(err, "migrate notification_deliveries")
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Create(ctx context.Context, deliveries ...*Delivery) error {
	if len(deliveries) == 0 {
		return nil
	}
	records := make([]deliveryRecord, 0, len(deliveries))
	for _, d := range deliveries {
		records = append(records, recordFrom(d))
	}
	if err := s.db.WithContext(ctx).Create(&records).Error; err != nil {
		return xerrors.Wrap(err, "insert deliveries")
	}
	return nil
}

// Update 以 status = PENDING 为条件更新，并发的重复投递只有一个能成功
func (s *GormStore) Update(ctx context.Context, id string, out Outcome) (*Delivery, error) {
	if err := checkOutcome(out); err != nil {
		return nil, err
	}

	var updated *Delivery
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&deliveryRecord{}).
			Where("id = ? AND status = ?", id, string(StatusPending)).
			Updates(map[string]any{
				"status":     string(out.Status),
				"provider":   out.Provider,
				"message_id": out.MessageID,
				"error":      out.Error,
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return xerrors.Wrap(res.Error, "update delivery")
		}

		var rec deliveryRecord
		if err := tx.Where("id = ?", id).Take(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return xerrors.Wrapf(ErrDeliveryNotFound, "id %s", id)
			}
			return xerrors.Wrap(err, "load delivery")
		}
		if res.RowsAffected == 0 {
			return xerrors.Wrapf(ErrInvalidTransition, "delivery %s is %s", id, rec.Status)
		}
		d := rec.delivery()
		updated = &d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*Delivery, error) {
	var rec deliveryRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerrors.Wrapf(ErrDeliveryNotFound, "id %s", id)
		}
		return nil, xerrors.Wrap(err, "load delivery")
	}
	d := rec.delivery()
	return &d, nil
}

func (s *GormStore) ListByNotification(ctx context.Context, notificationID string) ([]Delivery, error) {
	var records []deliveryRecord
	if err := s.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Order("created_at").
		Find(&records).Error; err != nil {
		return nil, xerrors.Wrap(err, "list deliveries")
	}
	out := make([]Delivery, 0, len(records))
	for i := range records {
		out = append(out, records[i].delivery())
	}
	slices.SortStableFunc(out, func(a, b Delivery) int {
		return channelRank(a.Channel) - channelRank(b.Channel)
	})
	return out, nil
}
