package idem

import (
	"context"
	"sync"
	"time"
)

type memoryLock struct {
	token     LockToken
	expiresAt time.Time
}

type memoryResult struct {
	value     []byte
	expiresAt time.Time
}

// memoryStore 单进程实现，过期条目在访问时清理
type memoryStore struct {
	mu      sync.Mutex
	prefix  string
	locks   map[string]memoryLock
	results map[string]memoryResult
}

func newMemoryStore(prefix string) *memoryStore {
	return &memoryStore{
		prefix:  prefix,
		locks:   make(map[string]memoryLock),
		results: make(map[string]memoryResult),
	}
}

func (s *memoryStore) Lock(ctx context.Context, key string, ttl time.Duration) (LockToken, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	k := s.prefix + key
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[k]; ok && l.expiresAt.After(now) {
		return "", false, nil
	}
	token := newLockToken()
	s.locks[k] = memoryLock{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

// held 调用方需持有 s.mu
func (s *memoryStore) held(k string, token LockToken) bool {
	l, ok := s.locks[k]
	return ok && l.token == token && l.expiresAt.After(time.Now())
}

func (s *memoryStore) Refresh(_ context.Context, key string, token LockToken, ttl time.Duration) error {
	k := s.prefix + key
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.held(k, token) {
		return ErrLockLost
	}
	s.locks[k] = memoryLock{token: token, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *memoryStore) Unlock(_ context.Context, key string, token LockToken) error {
	k := s.prefix + key
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[k]; ok && l.token == token {
		delete(s.locks, k)
	}
	return nil
}

func (s *memoryStore) SetResult(_ context.Context, key string, val []byte, ttl time.Duration, token LockToken) error {
	k := s.prefix + key
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.held(k, token) {
		return ErrLockLost
	}
	s.results[k] = memoryResult{value: append([]byte(nil), val...), expiresAt: time.Now().Add(ttl)}
	delete(s.locks, k)
	return nil
}

func (s *memoryStore) GetResult(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k := s.prefix + key
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[k]
	if !ok {
		return nil, ErrResultNotFound
	}
	if !r.expiresAt.After(time.Now()) {
		delete(s.results, k)
		return nil, ErrResultNotFound
	}
	return append([]byte(nil), r.value...), nil
}
