package registry

import (
	"context"

	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/provider"
)

// BrasilAPI 公开的 CNPJ 查询服务，未登记的号码返回 404
type BrasilAPI struct {
	base
}

type brasilAPIResponse struct {
	CNPJ             string  `json:"cnpj"`
	RazaoSocial      string  `json:"razao_social"`
	NomeFantasia     string  `json:"nome_fantasia"`
	Situacao         string  `json:"descricao_situacao_cadastral"`
	DataInicio       string  `json:"data_inicio_atividade"`
	CNAEDescricao    string  `json:"cnae_fiscal_descricao"`
	Municipio        string  `json:"municipio"`
	UF               string  `json:"uf"`
	NaturezaJuridica string  `json:"natureza_juridica"`
	CapitalSocial    float64 `json:"capital_social"`
}

// NewBrasilAPI 创建适配器，默认名称 brasilapi
func NewBrasilAPI(cfg *Config, opts ...provider.Option) (*BrasilAPI, error) {
	b, err := newBase(cfg, "brasilapi", "https://brasilapi.com.br", opts)
	if err != nil {
		return nil, err
	}
	return &BrasilAPI{base: b}, nil
}

func (a *BrasilAPI) Validate(ctx context.Context, subject string) (*provider.Validation, error) {
	var resp brasilAPIResponse
	if err := a.get(ctx, a.cfg.BaseURL+"/api/cnpj/v1/"+subject, &resp); err != nil {
		a.logger.DebugContext(ctx, "cnpj lookup failed", clog.String("subject", subject), clog.Error(err))
		return nil, err
	}
	if resp.RazaoSocial == "" {
		return nil, provider.BadResponse(a.cfg.Name, "missing razao_social", nil)
	}

	return &provider.Validation{
		IsValid:    active(resp.Situacao),
		Identifier: subject,
		LegalName:  resp.RazaoSocial,
		Status:     resp.Situacao,
		Data: map[string]any{
			"trade_name":    resp.NomeFantasia,
			"opened_at":     resp.DataInicio,
			"activity":      resp.CNAEDescricao,
			"city":          resp.Municipio,
			"state":         resp.UF,
			"legal_nature":  resp.NaturezaJuridica,
			"share_capital": resp.CapitalSocial,
		},
	}, nil
}
