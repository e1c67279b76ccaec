package idem

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store 幂等状态存储。一个键有三种状态：不存在、处理中（持有锁）、已完成（有结果）。
type Store interface {
	// Lock 尝试标记处理中，已被持有时返回 false
	Lock(ctx context.Context, key string, ttl time.Duration) (LockToken, bool, error)
	// Refresh 延长自己持有的锁，锁已丢失时返回 ErrLockLost
	Refresh(ctx context.Context, key string, token LockToken, ttl time.Duration) error
	// Unlock 释放自己持有的锁
	Unlock(ctx context.Context, key string, token LockToken) error
	// SetResult 保存结果并释放锁
	SetResult(ctx context.Context, key string, val []byte, ttl time.Duration, token LockToken) error
	// GetResult 未完成时返回 ErrResultNotFound
	GetResult(ctx context.Context, key string) ([]byte, error)
}

const (
	lockSuffix   = ":lock"
	resultSuffix = ":result"
)

// LockToken 锁持有者标识，防止误释放他人的锁
type LockToken string

func newLockToken() LockToken {
	return LockToken(uuid.NewString())
}
