package idem

import "github.com/ceyewan/bulwark/xerrors"

var (
	ErrConfigNil              = xerrors.New("idem: config is nil")
	ErrInvalidConfig          = xerrors.New("idem: invalid config")
	ErrRedisConnectorRequired = xerrors.New("idem: redis connector is required")
	ErrKeyEmpty               = xerrors.New("idem: key is empty")
	// ErrConcurrentRequest 同一个键正在被处理，且等待超时
	ErrConcurrentRequest = xerrors.New("idem: concurrent request in progress")
	// ErrResultNotFound 键尚未完成（存储内部使用）
	ErrResultNotFound = xerrors.New("idem: result not found")
	// ErrLockLost 锁已过期或被其他请求持有
	ErrLockLost = xerrors.New("idem: lock lost")
)
