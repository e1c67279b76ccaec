// Package gateway 提供通知网关适配器：邮件与 WhatsApp。
package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/provider"
	"github.com/ceyewan/bulwark/xerrors"
)

// ErrInvalidConfig 配置错误
var ErrInvalidConfig = xerrors.New("gateway: invalid config")

// Config 网关配置
type Config struct {
	Name     string `mapstructure:"name"`
	BaseURL  string `mapstructure:"base_url"`
	APIKey   string `mapstructure:"api_key"`
	Priority int    `mapstructure:"priority"`
	Disabled bool   `mapstructure:"disabled"`
	// From 邮件发件人地址
	From string `mapstructure:"from"`
	// PhoneNumberID WhatsApp 发送号码标识
	PhoneNumberID string `mapstructure:"phone_number_id"`
}

func (c *Config) validate() error {
	if c.Name == "" {
		return xerrors.Wrap(ErrInvalidConfig, "name is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return xerrors.Wrapf(ErrInvalidConfig, "%s: base_url %q", c.Name, c.BaseURL)
	}
	return nil
}

type base struct {
	cfg     Config
	channel string
	client  *http.Client
	logger  clog.Logger
}

func newBase(cfg *Config, channel string, opts []provider.Option) (base, error) {
	if cfg == nil {
		return base{}, xerrors.Wrap(ErrInvalidConfig, "config is nil")
	}
	c := *cfg
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if err := c.validate(); err != nil {
		return base{}, err
	}
	o := provider.ApplyOptions(opts)
	return base{
		cfg:     c,
		channel: channel,
		client:  o.Client,
		logger:  o.Logger.With(clog.String("provider", c.Name), clog.String("channel", channel)),
	}, nil
}

func (b *base) Descriptor() provider.Descriptor {
	return provider.Descriptor{
		Name:       b.cfg.Name,
		Capability: provider.CapabilitySendNotification,
		Priority:   b.cfg.Priority,
		Channel:    b.channel,
	}
}

func (b *base) IsAvailable(context.Context) bool {
	return !b.cfg.Disabled && b.cfg.APIKey != ""
}

func (b *base) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
}
