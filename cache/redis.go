package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/bulwark/cache/serializer"
	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/xerrors"
)

// scanBatch SCAN 每批建议返回的 key 数量，同时也是 DEL 的批大小
const scanBatch = 200

type redisStore struct {
	client     redis.UniversalClient
	serializer serializer.Serializer
	prefix     string
	logger     clog.Logger
}

func newRedis(client redis.UniversalClient, cfg *Config, opt *options) (*redisStore, error) {
	if client == nil {
		return nil, ErrRedisConnectorRequired
	}
	s, err := serializer.New(cfg.Serializer)
	if err != nil {
		return nil, err
	}
	return &redisStore{
		client:     client,
		serializer: s,
		prefix:     cfg.Prefix,
		logger:     opt.logger.With(clog.String("driver", string(DriverRedis))),
	}, nil
}

func (s *redisStore) key(k string) string {
	return s.prefix + k
}

func (s *redisStore) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if xerrors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := s.serializer.Unmarshal(data, dest); err != nil {
		return false, xerrors.Wrapf(err, "decode %s", key)
	}
	return true, nil
}

func (s *redisStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := s.serializer.Marshal(value)
	if err != nil {
		return xerrors.Wrapf(err, "encode %s", key)
	}
	if ttl < 0 {
		ttl = 0
	}
	return s.client.Set(ctx, s.key(key), data, ttl).Err()
}

func (s *redisStore) Del(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

// DelByPrefix 用 SCAN 游标遍历匹配的 key 并分批删除，不会像 KEYS 那样阻塞 Redis
func (s *redisStore) DelByPrefix(ctx context.Context, prefix string) (int64, error) {
	pattern := escapeGlob(s.key(prefix)) + "*"

	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := s.client.Del(ctx, keys...).Result()
			deleted += n
			if err != nil {
				return deleted, err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	s.logger.Debug("deleted keys by prefix", clog.String("prefix", prefix), clog.Int64("deleted", deleted))
	return deleted, nil
}

// incrScript 自增后仅在 key 没有过期时间时设置，窗口从首次写入开始计算。
// 不依赖 EXPIRE NX（Redis 7+），Redis 6 同样适用。
var incrScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
local ttl = tonumber(ARGV[1])
if ttl > 0 and redis.call("PTTL", KEYS[1]) == -1 then
	redis.call("PEXPIRE", KEYS[1], ttl)
end
return n
`)

// Incr 原子地自增并在缺少过期时间时补上，之前丢失的过期时间也会在下一次 Incr 时恢复
func (s *redisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl < 0 {
		ttl = 0
	}
	return incrScript.Run(ctx, s.client, []string{s.key(key)}, ttl.Milliseconds()).Int64()
}

func (s *redisStore) Count(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if xerrors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, xerrors.Wrapf(ErrNotCounter, "%s", key)
	}
	return n, nil
}

// Close 不关闭底层客户端，客户端归连接器所有
func (s *redisStore) Close() error {
	return nil
}

// escapeGlob 转义 Redis MATCH 模式中的通配符
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
