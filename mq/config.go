package mq

import "github.com/ceyewan/bulwark/xerrors"

// Driver 驱动类型
type Driver string

const (
	// DriverMemory 进程内通道，单实例部署与测试使用
	DriverMemory Driver = "memory"
	// DriverRedisStream Redis Stream（持久化，消费组）
	DriverRedisStream Driver = "redis_stream"
	// DriverNATSCore NATS Core（无持久化）
	DriverNATSCore Driver = "nats_core"
	// DriverKafka Kafka（持久化，消费组）
	DriverKafka Driver = "kafka"
)

// Config MQ 配置
type Config struct {
	// Driver 底层驱动 (默认: memory)
	Driver Driver `mapstructure:"driver"`
	// Memory 进程内驱动配置
	Memory MemoryConfig `mapstructure:"memory"`
	// RedisStream Redis Stream 驱动配置
	RedisStream RedisStreamConfig `mapstructure:"redis_stream"`
}

// MemoryConfig 进程内驱动配置
type MemoryConfig struct {
	// Buffer 每个订阅的缓冲条数 (默认: 1024)
	Buffer int `mapstructure:"buffer"`
}

// RedisStreamConfig Redis Stream 特有配置
type RedisStreamConfig struct {
	// MaxLen Stream 最大长度，0 表示不裁剪
	MaxLen int64 `mapstructure:"max_len"`
	// Approximate 使用 MAXLEN ~ 近似裁剪
	Approximate bool `mapstructure:"approximate"`
}

func (c *Config) setDefaults() {
	if c.Driver == "" {
		c.Driver = DriverMemory
	}
	if c.Memory.Buffer <= 0 {
		c.Memory.Buffer = 1024
	}
}

func (c *Config) validate() error {
	switch c.Driver {
	case DriverMemory, DriverRedisStream, DriverNATSCore, DriverKafka:
	default:
		return xerrors.Wrapf(ErrInvalidConfig, "unsupported driver %q", c.Driver)
	}
	if c.RedisStream.MaxLen < 0 {
		return xerrors.Wrap(ErrInvalidConfig, "redis_stream.max_len must not be negative")
	}
	return nil
}
