package idem

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/bulwark/xerrors"
)

// 只有令牌匹配时才操作锁
var (
	unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	setResultScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
redis.call("DEL", KEYS[1])
return 1`)
)

type redisStore struct {
	client *redis.Client
	prefix string
}

func newRedisStore(client *redis.Client, prefix string) *redisStore {
	return &redisStore{client: client, prefix: prefix}
}

func (s *redisStore) lockKey(key string) string   { return s.prefix + key + lockSuffix }
func (s *redisStore) resultKey(key string) string { return s.prefix + key + resultSuffix }

func (s *redisStore) Lock(ctx context.Context, key string, ttl time.Duration) (LockToken, bool, error) {
	token := newLockToken()
	ok, err := s.client.SetNX(ctx, s.lockKey(key), string(token), ttl).Result()
	if err != nil {
		return "", false, xerrors.Wrap(err, "acquire idem lock")
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (s *redisStore) Refresh(ctx context.Context, key string, token LockToken, ttl time.Duration) error {
	n, err := refreshScript.Run(ctx, s.client, []string{s.lockKey(key)}, string(token), ttl.Milliseconds()).Int()
	if err != nil {
		return xerrors.Wrap(err, "refresh idem lock")
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

func (s *redisStore) Unlock(ctx context.Context, key string, token LockToken) error {
	if err := unlockScript.Run(ctx, s.client, []string{s.lockKey(key)}, string(token)).Err(); err != nil {
		return xerrors.Wrap(err, "release idem lock")
	}
	return nil
}

func (s *redisStore) SetResult(ctx context.Context, key string, val []byte, ttl time.Duration, token LockToken) error {
	n, err := setResultScript.Run(ctx, s.client,
		[]string{s.lockKey(key), s.resultKey(key)},
		string(token), val, ttl.Milliseconds()).Int()
	if err != nil {
		return xerrors.Wrap(err, "save idem result")
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

func (s *redisStore) GetResult(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, s.resultKey(key)).Bytes()
	if xerrors.Is(err, redis.Nil) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(err, "get idem result")
	}
	return b, nil
}
