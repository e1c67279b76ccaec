package config

import (
	"strings"

	"github.com/ceyewan/bulwark/clog"
)

// Config 加载器配置
type Config struct {
	Name      string   // 配置文件名（不含扩展名），默认 "bulwark"
	Paths     []string // 搜索路径，默认 [".", "./config"]
	FileType  string   // 默认 "yaml"
	EnvPrefix string   // 默认 "BULWARK"
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "bulwark"
	}
	if c.Paths == nil {
		c.Paths = []string{".", "./config"}
	}
	if c.FileType == "" {
		c.FileType = "yaml"
	}
	if c.EnvPrefix == "" {
		c.EnvPrefix = "BULWARK"
	}
	c.EnvPrefix = strings.ToUpper(c.EnvPrefix)
}

// Option 加载器选项
type Option func(*options)

type options struct {
	logger   clog.Logger
	defaults map[string]any
}

// WithLogger 注入日志记录器
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("config")
		}
	}
}

// WithDefaults 注册默认值。
// 只有注册过默认值（或出现在配置文件中）的 key 才能被环境变量覆盖后通过 Unmarshal 读到。
func WithDefaults(defaults map[string]any) Option {
	return func(o *options) {
		if o.defaults == nil {
			o.defaults = make(map[string]any, len(defaults))
		}
		for k, v := range defaults {
			o.defaults[k] = v
		}
	}
}

// New 创建加载器，cfg 为 nil 时使用默认配置
func New(cfg *Config, opts ...Option) (Loader, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()

	o := &options{logger: clog.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	return newLoader(cfg, o), nil
}
