package notify

// job 写入 mq 的投递任务
type job struct {
	DeliveryID     string  `json:"delivery_id"`
	NotificationID string  `json:"notification_id"`
	RecipientID    string  `json:"recipient_id"`
	Channel        Channel `json:"channel"`
	To             string  `json:"to"`
	Subject        string  `json:"subject,omitempty"`
	Body           string  `json:"body"`
}

// 消息头，便于在不解码的情况下排查
const (
	headerChannel    = "x-notify-channel"
	headerDeliveryID = "x-notify-delivery-id"
)
