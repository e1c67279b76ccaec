package registry

import (
	"context"
	"strings"

	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/provider"
)

// ReceitaWS CNPJ 查询服务。业务错误以 200 + status=ERROR 返回，需要从 message 判断。
type ReceitaWS struct {
	base
}

type receitaWSResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	CNPJ      string `json:"cnpj"`
	Nome      string `json:"nome"`
	Fantasia  string `json:"fantasia"`
	Situacao  string `json:"situacao"`
	Abertura  string `json:"abertura"`
	Tipo      string `json:"tipo"`
	Porte     string `json:"porte"`
	Municipio string `json:"municipio"`
	UF        string `json:"uf"`
	Atividade []struct {
		Code string `json:"code"`
		Text string `json:"text"`
	} `json:"atividade_principal"`
}

// NewReceitaWS 创建适配器，默认名称 receitaws
func NewReceitaWS(cfg *Config, opts ...provider.Option) (*ReceitaWS, error) {
	b, err := newBase(cfg, "receitaws", "https://receitaws.com.br", opts)
	if err != nil {
		return nil, err
	}
	return &ReceitaWS{base: b}, nil
}

func (a *ReceitaWS) Validate(ctx context.Context, subject string) (*provider.Validation, error) {
	var resp receitaWSResponse
	if err := a.get(ctx, a.cfg.BaseURL+"/v1/cnpj/"+subject, &resp); err != nil {
		a.logger.DebugContext(ctx, "cnpj lookup failed", clog.String("subject", subject), clog.Error(err))
		return nil, err
	}

	// ReceitaWS 的业务错误同样以 200 返回，只有 status: ERROR 加一段自由文本，没有错误码，
	// 因此在这里按文本归类，之后只通过 provider.Error 的 Definitive 标记向外传递
	if strings.EqualFold(resp.Status, "ERROR") {
		msg := strings.ToLower(resp.Message)
		switch {
		case strings.Contains(msg, "inválido"), strings.Contains(msg, "invalido"),
			strings.Contains(msg, "não encontrado"), strings.Contains(msg, "nao encontrado"):
			return nil, provider.NotFound(a.cfg.Name, resp.Message)
		case strings.Contains(msg, "too many"), strings.Contains(msg, "limite"):
			return nil, provider.NewError(provider.KindRateLimited, a.cfg.Name, resp.Message, nil)
		default:
			return nil, provider.Unavailable(a.cfg.Name, resp.Message, nil)
		}
	}
	if resp.Nome == "" {
		return nil, provider.BadResponse(a.cfg.Name, "missing nome", nil)
	}

	data := map[string]any{
		"trade_name": resp.Fantasia,
		"opened_at":  resp.Abertura,
		"type":       resp.Tipo,
		"size":       resp.Porte,
		"city":       resp.Municipio,
		"state":      resp.UF,
	}
	if len(resp.Atividade) > 0 {
		data["activity"] = resp.Atividade[0].Text
	}
	return &provider.Validation{
		IsValid:    active(resp.Situacao),
		Identifier: subject,
		LegalName:  resp.Nome,
		Status:     resp.Situacao,
		Data:       data,
	}, nil
}
