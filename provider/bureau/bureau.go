// Package bureau 提供征信机构评分适配器。
//
// 各征信机构的评分接口形态相近：按税号 (CNPJ/CPF) 查询 0~1000 的评分与负面记录，
// 这里用一份配置描述一家机构，同一进程内可以注册多家。
package bureau

import (
	"context"
	"net/http"
	"strings"

	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/provider"
	"github.com/ceyewan/bulwark/xerrors"
)

// ErrInvalidConfig 配置错误
var ErrInvalidConfig = xerrors.New("bureau: invalid config")

// Config 征信机构配置
type Config struct {
	Name     string `mapstructure:"name"`
	BaseURL  string `mapstructure:"base_url"`
	APIKey   string `mapstructure:"api_key"`
	Priority int    `mapstructure:"priority"`
	Disabled bool   `mapstructure:"disabled"`
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

// Bureau 单个征信机构
type Bureau struct {
	cfg    Config
	client *http.Client
	logger clog.Logger
}

type scoreRequest struct {
	Document string `json:"document"`
}

type scoreResponse struct {
	Score           *int     `json:"score"`
	Negatives       int      `json:"negative_count"`
	Protests        int      `json:"protest_count"`
	Recommendations []string `json:"recommendations"`
}

// New 创建征信适配器
func New(cfg *Config, opts ...provider.Option) (*Bureau, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(ErrInvalidConfig, "config is nil")
	}
	c := *cfg
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if err := c.validate(); err != nil {
		return nil, err
	}
	o := provider.ApplyOptions(opts)
	return &Bureau{cfg: c, client: o.Client, logger: o.Logger.With(clog.String("provider", c.Name))}, nil
}

func (b *Bureau) Descriptor() provider.Descriptor {
	return provider.Descriptor{
		Name:       b.cfg.Name,
		Capability: provider.CapabilityAnalyzeRisk,
		Priority:   b.cfg.Priority,
	}
}

// IsAvailable 未配置 api key 的机构视为不可用
func (b *Bureau) IsAvailable(context.Context) bool {
	return !b.cfg.Disabled && b.cfg.APIKey != ""
}

func (b *Bureau) Analyze(ctx context.Context, subject string) (*provider.RiskReport, error) {
	req, err := provider.NewJSONRequest(ctx, http.MethodPost, b.cfg.BaseURL+"/v1/score", scoreRequest{Document: subject})
	if err != nil {
		return nil, provider.BadResponse(b.cfg.Name, "build request", err)
	}
	req.Header.Set("X-API-Key", b.cfg.APIKey)

	var resp scoreResponse
	if err := provider.Do(b.client, b.cfg.Name, req, &resp); err != nil {
		b.logger.DebugContext(ctx, "score request failed", clog.String("subject", subject), clog.Error(err))
		return nil, err
	}
	if resp.Score == nil {
		return nil, provider.BadResponse(b.cfg.Name, "missing score", nil)
	}
	score := *resp.Score
	if score < provider.ScoreMin || score > provider.ScoreMax {
		return nil, provider.BadResponse(b.cfg.Name, "score out of range", nil)
	}

	report := &provider.RiskReport{
		Subject:         subject,
		Score:           score,
		RiskLevel:       provider.LevelFor(score),
		HasNegatives:    resp.Negatives > 0 || resp.Protests > 0,
		Recommendations: resp.Recommendations,
	}
	if len(report.Recommendations) == 0 {
		report.Recommendations = recommend(report)
	}
	return report, nil
}

// recommend 机构未给出建议时按等级补充
func recommend(r *provider.RiskReport) []string {
	var out []string
	switch r.RiskLevel {
	case provider.RiskHigh:
		out = append(out, "require advance payment or collateral")
	case provider.RiskMedium:
		out = append(out, "limit credit exposure and review quarterly")
	default:
		out = append(out, "standard payment terms")
	}
	if r.HasNegatives {
		out = append(out, "review outstanding negative records before onboarding")
	}
	return out
}
