package orchestrator

import (
	"time"

	"github.com/ceyewan/bulwark/breaker"
	"github.com/ceyewan/bulwark/ratelimit"
	"github.com/ceyewan/bulwark/xerrors"
)

// Config 编排引擎配置，对应配置文件中的 engine 段
type Config struct {
	// Chains 每种能力的显式调用顺序，未配置时按 Priority 升序
	Chains ChainConfig `mapstructure:"chains"`
	// Breaker 熔断参数
	Breaker breaker.Config `mapstructure:"breaker"`
	// RateLimit 每个 provider 的窗口配额
	RateLimit ratelimit.QuotaConfig `mapstructure:"rate_limit"`
	// CacheTTL 成功结果的缓存时长
	CacheTTL TTLConfig `mapstructure:"cache_ttl"`
	// CallTimeout 单次 provider 调用的超时 (默认: 15s)
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// ChainConfig 按能力（通知按渠道）列出 provider 名称
type ChainConfig struct {
	ValidateIdentifier []string `mapstructure:"validate_identifier"`
	AnalyzeRisk        []string `mapstructure:"analyze_risk"`
	Email              []string `mapstructure:"email"`
	WhatsApp           []string `mapstructure:"whatsapp"`
}

// TTLConfig 缓存时长
type TTLConfig struct {
	// ValidateIdentifier 登记信息很少变化 (默认: 720h)
	ValidateIdentifier time.Duration `mapstructure:"validate_identifier"`
	// AnalyzeRisk 风险评分 (默认: 24h)
	AnalyzeRisk time.Duration `mapstructure:"analyze_risk"`
}

func (c *Config) setDefaults() {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 15 * time.Second
	}
	if c.CacheTTL.ValidateIdentifier == 0 {
		c.CacheTTL.ValidateIdentifier = 30 * 24 * time.Hour
	}
	if c.CacheTTL.AnalyzeRisk == 0 {
		c.CacheTTL.AnalyzeRisk = 24 * time.Hour
	}
}

func (c *Config) validate() error {
	if c.CacheTTL.ValidateIdentifier < 0 || c.CacheTTL.AnalyzeRisk < 0 {
		return xerrors.Wrap(ErrInvalidConfig, "cache_ttl must not be negative")
	}
	return nil
}
