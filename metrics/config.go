package metrics

// Config 指标配置
//
//	metrics:
//	  enabled: true
//	  service_name: bulwark
//	  port: 9090
//	  path: /metrics
//	  runtime: true
type Config struct {
	// Enabled 为 false 时 New 返回 noop Meter
	Enabled bool `mapstructure:"enabled"`

	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`

	// Port > 0 时启动独立的 Prometheus HTTP 服务
	Port int    `mapstructure:"port"`
	Path string `mapstructure:"path"`

	// Runtime 采集 Go 运行时指标（GC、goroutine、内存）
	Runtime bool `mapstructure:"runtime"`
}

func (c *Config) setDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "bulwark"
	}
	if c.Path == "" {
		c.Path = "/metrics"
	}
}

// NewDevDefaultConfig 开发环境：启用指标但不监听端口
func NewDevDefaultConfig(service string) *Config {
	return &Config{Enabled: true, ServiceName: service}
}
