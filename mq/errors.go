package mq

import "github.com/ceyewan/bulwark/xerrors"

var (
	// ErrClosed MQ 已关闭
	ErrClosed = xerrors.New("mq: client closed")
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = xerrors.New("mq: invalid config")
	// ErrConnectorRequired 驱动所需的连接器未注入
	ErrConnectorRequired = xerrors.New("mq: connector required for driver")
	// ErrNoSubscriber 主题没有订阅者且积压已满（内存驱动）
	ErrNoSubscriber = xerrors.New("mq: no subscriber")
	// ErrPanicRecovered Handler panic 已恢复
	ErrPanicRecovered = xerrors.New("mq: handler panic recovered")
)
