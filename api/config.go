package api

import (
	"time"

	"github.com/ceyewan/bulwark/ratelimit"
	"github.com/ceyewan/bulwark/xerrors"
)

// ErrInvalidConfig 配置无效
var ErrInvalidConfig = xerrors.New("api: invalid config")

// Config HTTP 服务配置
type Config struct {
	// Addr 监听地址 (默认: ":8080")
	Addr string `mapstructure:"addr"`
	// ServiceName 链路中的服务名 (默认: "bulwark")
	ServiceName string `mapstructure:"service_name"`
	// ReadHeaderTimeout (默认: 5s)
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	// ShutdownTimeout 优雅关闭等待时间 (默认: 10s)
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// Heartbeat SSE 心跳间隔 (默认: 15s)
	Heartbeat time.Duration `mapstructure:"heartbeat"`
	// ClientRate 按客户端 IP 的请求速率，PerSecond 为 0 时不限流 (默认: 20/s，突发 40)
	ClientRate ratelimit.Rate `mapstructure:"client_rate"`
}

func (c *Config) setDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ServiceName == "" {
		c.ServiceName = "bulwark"
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 5 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 15 * time.Second
	}
	if c.ClientRate.PerSecond == 0 && c.ClientRate.Burst == 0 {
		c.ClientRate = ratelimit.Rate{PerSecond: 20, Burst: 40}
	}
}

func (c *Config) validate() error {
	if c.ClientRate.PerSecond < 0 || c.ClientRate.Burst < 0 {
		return xerrors.Wrap(ErrInvalidConfig, "client_rate must not be negative")
	}
	return nil
}
