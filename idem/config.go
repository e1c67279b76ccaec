package idem

import (
	"time"

	"github.com/ceyewan/bulwark/xerrors"
)

// Driver 存储后端
type Driver string

const (
	DriverRedis  Driver = "redis"
	DriverMemory Driver = "memory"
)

// Config 幂等组件配置
type Config struct {
	// Driver redis | memory (默认: memory)
	Driver Driver `mapstructure:"driver"`
	// Prefix key 前缀 (默认: "idem:")
	Prefix string `mapstructure:"prefix"`
	// DefaultTTL 结果保留时长 (默认: 24h)
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	// LockTTL 处理锁的过期时间，执行期间按 LockTTL/3 续期 (默认: 30s)
	LockTTL time.Duration `mapstructure:"lock_ttl"`
	// WaitTimeout 并发请求等待结果的上限，0 表示只受 ctx 限制
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
	// WaitInterval 等待期间的轮询间隔 (默认: 50ms)
	WaitInterval time.Duration `mapstructure:"wait_interval"`
}

func (c *Config) setDefaults() {
	if c.Driver == "" {
		c.Driver = DriverMemory
	}
	if c.Prefix == "" {
		c.Prefix = "idem:"
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 24 * time.Hour
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	if c.WaitInterval <= 0 {
		c.WaitInterval = 50 * time.Millisecond
	}
}

func (c *Config) validate() error {
	switch c.Driver {
	case DriverRedis, DriverMemory:
	default:
		return xerrors.Wrapf(ErrInvalidConfig, "unsupported driver %q", c.Driver)
	}
	if c.WaitTimeout < 0 {
		return xerrors.Wrap(ErrInvalidConfig, "wait_timeout must not be negative")
	}
	return nil
}
