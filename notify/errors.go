package notify

import "github.com/ceyewan/bulwark/xerrors"

var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = xerrors.New("notify: invalid config")
	// ErrInvalidRecipient 收件人缺少 ID
	ErrInvalidRecipient = xerrors.New("notify: invalid recipient")
	// ErrInvalidNotification 通知为空或缺少正文
	ErrInvalidNotification = xerrors.New("notify: invalid notification")
	// ErrDeliveryNotFound 投递记录不存在
	ErrDeliveryNotFound = xerrors.New("notify: delivery not found")
	// ErrInvalidTransition 投递记录已处于终态
	ErrInvalidTransition = xerrors.New("notify: delivery is not pending")
	// ErrHubClosed 实时推送 Hub 已关闭
	ErrHubClosed = xerrors.New("notify: hub closed")
)
