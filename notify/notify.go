// Package notify 按渠道独立投递通知并记录每个渠道的状态。
//
// 一次 Dispatch 为 realtime、email、whatsapp 各生成一条 Delivery：
// realtime 通过进程内 Hub 同步推送；email 与 whatsapp 作为任务写入 mq，
// 由 Worker 限速后调用 orchestrator.Engine.Send 完成投递。
// 任一渠道失败不影响其他渠道。
package notify

import (
	"time"

	"github.com/ceyewan/bulwark/provider"
)

// Channel 投递渠道
type Channel string

const (
	ChannelRealtime Channel = "realtime"
	ChannelEmail    Channel = provider.ChannelEmail
	ChannelWhatsApp Channel = provider.ChannelWhatsApp
)

// Channels 返回全部渠道，顺序固定
func Channels() []Channel {
	return []Channel{ChannelRealtime, ChannelEmail, ChannelWhatsApp}
}

// Status 投递状态，只允许从 PENDING 转到终态
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
	StatusSkipped Status = "SKIPPED"
)

// Terminal 是否为终态
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusSkipped
}

// Recipient 收件人及其渠道偏好
type Recipient struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	// Channels 已开启的渠道，为空表示全部开启
	Channels []Channel `json:"channels,omitempty"`
}

// OptedIn 报告收件人是否开启了渠道
func (r *Recipient) OptedIn(ch Channel) bool {
	if len(r.Channels) == 0 {
		return true
	}
	for _, c := range r.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// address 渠道对应的联系地址，realtime 使用收件人 ID
func (r *Recipient) address(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return r.Email
	case ChannelWhatsApp:
		return r.Phone
	default:
		return r.ID
	}
}

// Notification 已渲染好的通知内容
type Notification struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Delivery 单个渠道的投递记录
type Delivery struct {
	ID             string    `json:"id"`
	NotificationID string    `json:"notification_id"`
	RecipientID    string    `json:"recipient_id"`
	Channel        Channel   `json:"channel"`
	Status         Status    `json:"status"`
	Provider       string    `json:"provider,omitempty"`
	MessageID      string    `json:"message_id,omitempty"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Report Dispatch 返回时各渠道的状态快照，email 与 whatsapp 通常仍为 PENDING
type Report struct {
	NotificationID string     `json:"notification_id"`
	Deliveries     []Delivery `json:"deliveries"`
}

// Delivery 返回指定渠道的记录
func (r *Report) Delivery(ch Channel) (Delivery, bool) {
	for _, d := range r.Deliveries {
		if d.Channel == ch {
			return d, true
		}
	}
	return Delivery{}, false
}

// Outcome 终态更新
type Outcome struct {
	Status    Status
	Provider  string
	MessageID string
	Error     string
}
