package ratelimit

import "github.com/ceyewan/bulwark/xerrors"

var (
	// ErrCounterNil 未提供计数存储
	ErrCounterNil = xerrors.New("ratelimit: counter store is nil")

	// ErrKeyEmpty 限流键为空
	ErrKeyEmpty = xerrors.New("ratelimit: key is empty")

	// ErrInvalidRate 令牌桶规则无效
	ErrInvalidRate = xerrors.New("ratelimit: invalid rate")

	// ErrClosed 限流器已关闭
	ErrClosed = xerrors.New("ratelimit: limiter closed")
)
