package notify

import (
	"github.com/ceyewan/bulwark/cache/serializer"
	"github.com/ceyewan/bulwark/ratelimit"
	"github.com/ceyewan/bulwark/xerrors"
)

// Config 通知投递配置
type Config struct {
	// Topic 投递任务所在的 mq 主题 (默认: "bulwark.notifications")
	Topic string `mapstructure:"topic"`
	// QueueGroup Worker 消费组 (默认: "notify-workers")
	QueueGroup string `mapstructure:"queue_group"`
	// Codec 任务编码，json 或 msgpack (默认: json)
	Codec string `mapstructure:"codec"`
	// Pace 每个渠道调用发送链的速率
	Pace PaceConfig `mapstructure:"pace"`
	// Retry Worker 处理失败时的重试次数 (默认: 0，投递链本身已包含 fallback)
	Retry int `mapstructure:"retry"`
}

// PaceConfig 渠道限速
type PaceConfig struct {
	// Email (默认: 10/s，突发 20)
	Email ratelimit.Rate `mapstructure:"email"`
	// WhatsApp (默认: 5/s，突发 10)
	WhatsApp ratelimit.Rate `mapstructure:"whatsapp"`
}

// For 返回渠道对应的速率
func (p PaceConfig) For(ch Channel) ratelimit.Rate {
	if ch == ChannelWhatsApp {
		return p.WhatsApp
	}
	return p.Email
}

func (c *Config) setDefaults() {
	if c.Topic == "" {
		c.Topic = "bulwark.notifications"
	}
	if c.QueueGroup == "" {
		c.QueueGroup = "notify-workers"
	}
	if c.Codec == "" {
		c.Codec = "json"
	}
	if c.Pace.Email.PerSecond == 0 && c.Pace.Email.Burst == 0 {
		c.Pace.Email = ratelimit.Rate{PerSecond: 10, Burst: 20}
	}
	if c.Pace.WhatsApp.PerSecond == 0 && c.Pace.WhatsApp.Burst == 0 {
		c.Pace.WhatsApp = ratelimit.Rate{PerSecond: 5, Burst: 10}
	}
}

func (c *Config) validate() error {
	if _, err := serializer.New(c.Codec); err != nil {
		return xerrors.Wrapf(ErrInvalidConfig, "codec %q", c.Codec)
	}
	if c.Pace.Email.PerSecond <= 0 || c.Pace.Email.Burst <= 0 ||
		c.Pace.WhatsApp.PerSecond <= 0 || c.Pace.WhatsApp.Burst <= 0 {
		return xerrors.Wrap(ErrInvalidConfig, "pace rate and burst must be positive")
	}
	if c.Retry < 0 {
		return xerrors.Wrap(ErrInvalidConfig, "retry must not be negative")
	}
	return nil
}
