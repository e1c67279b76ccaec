// Package registry 提供企业登记号 (CNPJ) 查询适配器。
package registry

import (
	"context"
	"net/http"
	"strings"

	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/provider"
	"github.com/ceyewan/bulwark/xerrors"
)

// ErrInvalidConfig 配置错误
var ErrInvalidConfig = xerrors.New("registry: invalid config")

// Config 登记查询服务配置
type Config struct {
	// Name 服务名称，默认取适配器名
	Name string `mapstructure:"name"`
	// BaseURL 服务地址
	BaseURL string `mapstructure:"base_url"`
	// Token 访问令牌，部分服务的免费档位不需要
	Token string `mapstructure:"token"`
	// Priority 越小越先尝试
	Priority int `mapstructure:"priority"`
	// Disabled 为 true 时 IsAvailable 返回 false
	Disabled bool `mapstructure:"disabled"`
}

func (c *Config) setDefaults(name, baseURL string) {
	if c.Name == "" {
		c.Name = name
	}
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
}

func (c *Config) validate() error {
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return xerrors.Wrapf(ErrInvalidConfig, "%s: base_url %q", c.Name, c.BaseURL)
	}
	return nil
}

// base 两个登记服务共用的部分
type base struct {
	cfg    Config
	client *http.Client
	logger clog.Logger
}

func newBase(cfg *Config, name, baseURL string, opts []provider.Option) (base, error) {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults(name, baseURL)
	if err := c.validate(); err != nil {
		return base{}, err
	}
	o := provider.ApplyOptions(opts)
	return base{cfg: c, client: o.Client, logger: o.Logger.With(clog.String("provider", c.Name))}, nil
}

func (b *base) Descriptor() provider.Descriptor {
	return provider.Descriptor{
		Name:       b.cfg.Name,
		Capability: provider.CapabilityValidateIdentifier,
		Priority:   b.cfg.Priority,
	}
}

func (b *base) IsAvailable(context.Context) bool {
	return !b.cfg.Disabled
}

func (b *base) get(ctx context.Context, url string, out any) error {
	req, err := provider.NewJSONRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return provider.BadResponse(b.cfg.Name, "build request", err)
	}
	if b.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.Token)
	}
	return provider.Do(b.client, b.cfg.Name, req, out)
}

// active 登记状态是否为正常经营
func active(status string) bool {
	return strings.EqualFold(strings.TrimSpace(status), "ATIVA")
}
