package cache

import (
	"github.com/ceyewan/bulwark/cache/serializer"
	"github.com/ceyewan/bulwark/xerrors"
)

// Driver 缓存后端
type Driver string

const (
	DriverRedis  Driver = "redis"
	DriverMemory Driver = "memory"
)

// Config 缓存配置
type Config struct {
	// Driver 后端类型: "redis" | "memory" (默认 "redis")
	Driver Driver `mapstructure:"driver"`
	// Prefix 全局 key 前缀 (默认 "bulwark:")
	Prefix string `mapstructure:"prefix"`
	// Serializer 值序列化方式: "json" | "msgpack" (默认 "json")
	Serializer string `mapstructure:"serializer"`
	// Capacity memory 后端的最大条目数 (默认 100000)
	Capacity int `mapstructure:"capacity"`
}

func (c *Config) setDefaults() {
	if c.Driver == "" {
		c.Driver = DriverRedis
	}
	if c.Prefix == "" {
		c.Prefix = "bulwark:"
	}
	if c.Serializer == "" {
		c.Serializer = "json"
	}
	if c.Capacity <= 0 {
		c.Capacity = 100000
	}
}

func (c *Config) validate() error {
	switch c.Driver {
	case DriverRedis, DriverMemory:
	default:
		return xerrors.Wrapf(ErrInvalidConfig, "unsupported driver %q", c.Driver)
	}
	if _, err := serializer.New(c.Serializer); err != nil {
		return xerrors.Wrap(ErrInvalidConfig, err.Error())
	}
	return nil
}
