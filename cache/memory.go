package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"

	"github.com/ceyewan/bulwark/cache/serializer"
	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/xerrors"
)

// noExpiry otter 的默认写入过期时间，条目真正的期限记录在 entry.expiresAt
const noExpiry = 100 * 365 * 24 * time.Hour

// entry 同时承载序列化值与计数器
type entry struct {
	data      []byte
	counter   int64
	isCounter bool
	expiresAt time.Time // 零值表示不过期
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

type memoryStore struct {
	cache      *otter.Cache[string, *entry]
	serializer serializer.Serializer
	prefix     string
	logger     clog.Logger
	now        func() time.Time

	// incrMu 让计数器的读改写成为原子操作，对多个 key 粗粒度加锁即可
	incrMu sync.Mutex
	closed atomic.Bool
}

func newMemory(cfg *Config, opt *options) (*memoryStore, error) {
	s, err := serializer.New(cfg.Serializer)
	if err != nil {
		return nil, err
	}

	c, err := otter.New(&otter.Options[string, *entry]{
		MaximumSize:      cfg.Capacity,
		StatsRecorder:    stats.NewCounter(),
		ExpiryCalculator: otter.ExpiryWriting[string, *entry](noExpiry),
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "build otter cache")
	}

	return &memoryStore{
		cache:      c,
		serializer: s,
		prefix:     cfg.Prefix,
		logger:     opt.logger.With(clog.String("driver", string(DriverMemory))),
		now:        time.Now,
	}, nil
}

func (s *memoryStore) key(k string) string {
	return s.prefix + k
}

// load 返回未过期的条目，过期条目顺手清理
func (s *memoryStore) load(k string) (*entry, bool) {
	e, ok := s.cache.GetIfPresent(k)
	if !ok {
		return nil, false
	}
	if e.expired(s.now()) {
		s.cache.Invalidate(k)
		return nil, false
	}
	return e, true
}

func (s *memoryStore) store(k string, e *entry) {
	s.cache.Set(k, e)
	if !e.expiresAt.IsZero() {
		if remain := e.expiresAt.Sub(s.now()); remain > 0 {
			s.cache.SetExpiresAfter(k, remain)
		}
	}
}

func (s *memoryStore) Get(_ context.Context, key string, dest any) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	e, ok := s.load(s.key(key))
	if !ok {
		return false, nil
	}
	if e.isCounter {
		return false, xerrors.Wrapf(ErrNotCounter, "%s holds a counter", key)
	}
	if err := s.serializer.Unmarshal(e.data, dest); err != nil {
		return false, xerrors.Wrapf(err, "decode %s", key)
	}
	return true, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	if s.closed.Load() {
		return ErrClosed
	}
	data, err := s.serializer.Marshal(value)
	if err != nil {
		return xerrors.Wrapf(err, "encode %s", key)
	}
	e := &entry{data: data}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.store(s.key(key), e)
	return nil
}

func (s *memoryStore) Del(_ context.Context, key string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.cache.Invalidate(s.key(key))
	return nil
}

func (s *memoryStore) DelByPrefix(_ context.Context, prefix string) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	full := s.key(prefix)

	var keys []string
	for k := range s.cache.All() {
		if strings.HasPrefix(k, full) {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		s.cache.Invalidate(k)
	}

	s.logger.Debug("deleted keys by prefix", clog.String("prefix", prefix), clog.Int("deleted", len(keys)))
	return int64(len(keys)), nil
}

func (s *memoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	k := s.key(key)

	s.incrMu.Lock()
	defer s.incrMu.Unlock()

	next := &entry{isCounter: true, counter: 1}
	if cur, ok := s.load(k); ok {
		if !cur.isCounter {
			return 0, xerrors.Wrapf(ErrNotCounter, "%s", key)
		}
		next.counter = cur.counter + 1
		next.expiresAt = cur.expiresAt
	} else if ttl > 0 {
		next.expiresAt = s.now().Add(ttl)
	}
	s.store(k, next)
	return next.counter, nil
}

func (s *memoryStore) Count(_ context.Context, key string) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	e, ok := s.load(s.key(key))
	if !ok {
		return 0, nil
	}
	if !e.isCounter {
		return 0, xerrors.Wrapf(ErrNotCounter, "%s", key)
	}
	return e.counter, nil
}

func (s *memoryStore) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.cache.StopAllGoroutines()
	}
	return nil
}
