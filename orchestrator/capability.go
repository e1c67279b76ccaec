package orchestrator

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/provider"
	"github.com/ceyewan/bulwark/xerrors"
)

// ValidateIdentifier 校验 CNPJ。subject 可带标点，校验位错误时返回 ErrInvalidSubject。
func (e *Engine) ValidateIdentifier(ctx context.Context, subject string, forceRefresh bool) (*Envelope[provider.Validation], error) {
	s, err := normalize(provider.CapabilityValidateIdentifier, subject)
	if err != nil {
		return nil, err
	}
	return run(ctx, e, request[provider.Validation]{
		capability: provider.CapabilityValidateIdentifier,
		chain:      chainValidate,
		subject:    s,
		cacheKey:   cacheKey(provider.CapabilityValidateIdentifier, s),
		ttl:        e.cfg.CacheTTL.ValidateIdentifier,
		force:      forceRefresh,
		invoke: func(ctx context.Context, p provider.Provider) (*provider.Validation, error) {
			return p.(provider.Validator).Validate(ctx, s)
		},
		fallback: func() *Envelope[provider.Validation] {
			return &Envelope[provider.Validation]{Success: false, Error: "no validation service available"}
		},
	}), nil
}

// AnalyzeRisk 评估 CNPJ 或 CPF 的信用风险，所有征信机构都不可用时返回标记为 Mock 的占位评分
func (e *Engine) AnalyzeRisk(ctx context.Context, subject string, forceRefresh bool) (*Envelope[provider.RiskReport], error) {
	s, err := normalize(provider.CapabilityAnalyzeRisk, subject)
	if err != nil {
		return nil, err
	}
	return run(ctx, e, request[provider.RiskReport]{
		capability: provider.CapabilityAnalyzeRisk,
		chain:      chainRisk,
		subject:    s,
		cacheKey:   cacheKey(provider.CapabilityAnalyzeRisk, s),
		ttl:        e.cfg.CacheTTL.AnalyzeRisk,
		force:      forceRefresh,
		invoke: func(ctx context.Context, p provider.Provider) (*provider.RiskReport, error) {
			return p.(provider.Analyzer).Analyze(ctx, s)
		},
		fallback: func() *Envelope[provider.RiskReport] {
			return &Envelope[provider.RiskReport]{Success: true, Data: MockRiskReport(s)}
		},
	}), nil
}

// Send 通过 msg.Channel 对应的发送链投递通知，结果不缓存。msg.ID 为空时自动生成。
func (e *Engine) Send(ctx context.Context, msg *provider.Message) (*Envelope[provider.Receipt], error) {
	if msg == nil {
		return nil, xerrors.Wrap(ErrInvalidMessage, "message is nil")
	}
	var chain chainKey
	switch msg.Channel {
	case provider.ChannelEmail:
		chain = chainEmail
	case provider.ChannelWhatsApp:
		chain = chainWhatsApp
	default:
		return nil, xerrors.Wrapf(ErrInvalidMessage, "channel %q", msg.Channel)
	}
	if strings.TrimSpace(msg.To) == "" {
		return nil, xerrors.Wrap(ErrInvalidMessage, "recipient is empty")
	}
	m := *msg
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	return run(ctx, e, request[provider.Receipt]{
		capability: provider.CapabilitySendNotification,
		chain:      chain,
		subject:    m.ID,
		invoke: func(ctx context.Context, p provider.Provider) (*provider.Receipt, error) {
			return p.(provider.Sender).Send(ctx, &m)
		},
		fallback: func() *Envelope[provider.Receipt] {
			return &Envelope[provider.Receipt]{Success: false, Error: "no delivery provider available"}
		},
	}), nil
}

// Invalidate 删除单个 subject 的缓存结果
func (e *Engine) Invalidate(ctx context.Context, c provider.Capability, subject string) error {
	if !cacheable(c) {
		return xerrors.Wrapf(ErrUnknownCapability, "%q", c)
	}
	s, err := normalize(c, subject)
	if err != nil {
		return err
	}
	_ = e.store.Del(ctx, cacheKey(c, s))
	e.logger.InfoContext(ctx, "cache entry invalidated", clog.String("capability", string(c)), clog.String("subject", s))
	return nil
}

// InvalidateCapability 按前缀删除某种能力的全部缓存结果，返回删除数量
func (e *Engine) InvalidateCapability(ctx context.Context, c provider.Capability) (int64, error) {
	if !cacheable(c) {
		return 0, xerrors.Wrapf(ErrUnknownCapability, "%q", c)
	}
	n, _ := e.store.DelByPrefix(ctx, string(c)+":")
	e.logger.InfoContext(ctx, "cache invalidated by capability", clog.String("capability", string(c)), clog.Int64("deleted", n))
	return n, nil
}

func cacheable(c provider.Capability) bool {
	return c == provider.CapabilityValidateIdentifier || c == provider.CapabilityAnalyzeRisk
}

func cacheKey(c provider.Capability, subject string) string {
	return string(c) + ":" + subject
}

// normalize 按能力规范化 subject：登记校验只接受 CNPJ，风险评估接受 CNPJ 或 CPF
func normalize(c provider.Capability, subject string) (string, error) {
	var (
		s   string
		err error
	)
	switch c {
	case provider.CapabilityValidateIdentifier:
		s, err = provider.NormalizeCNPJ(subject)
	case provider.CapabilityAnalyzeRisk:
		s, err = provider.NormalizeTaxID(subject)
	default:
		return "", xerrors.Wrapf(ErrUnknownCapability, "%q", c)
	}
	if err != nil {
		return "", xerrors.Wrap(xerrors.Join(ErrInvalidSubject, err), string(c))
	}
	return s, nil
}
