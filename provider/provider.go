// Package provider 定义外部服务适配器的统一抽象。
//
// 每个适配器包装一个第三方服务（公司登记查询、征信评分、邮件或 WhatsApp 网关），
// 对外暴露一种能力接口（Validator / Analyzer / Sender）以及 IsAvailable 健康探测。
// 适配器只负责协议转换，重试、熔断、限流、缓存与降级都由 orchestrator 负责。
//
// 失败统一以 *Error 返回，Definitive 标记表示服务给出了确定的否定答案
// （例如登记号不存在），调用链应当停止而不是尝试下一个服务：
//
//	_, err := v.Validate(ctx, "12345678000195")
//	if provider.IsDefinitive(err) {
//		// 确定性结果，直接返回给调用方
//	}
package provider

import (
	"context"
	"strings"
)

// Capability 适配器提供的能力
type Capability string

const (
	CapabilityValidateIdentifier Capability = "validate-identifier"
	CapabilityAnalyzeRisk        Capability = "analyze-risk"
	CapabilitySendNotification   Capability = "send-notification"
)

// Capabilities 返回全部能力，顺序固定
func Capabilities() []Capability {
	return []Capability{CapabilityValidateIdentifier, CapabilityAnalyzeRisk, CapabilitySendNotification}
}

// Valid 报告是否为已知能力
func (c Capability) Valid() bool {
	switch c {
	case CapabilityValidateIdentifier, CapabilityAnalyzeRisk, CapabilitySendNotification:
		return true
	}
	return false
}

// ConfigKey 返回配置文件中使用的下划线形式，如 validate_identifier
func (c Capability) ConfigKey() string {
	return strings.ReplaceAll(string(c), "-", "_")
}

// ParseCapability 同时接受连字符与下划线形式
func ParseCapability(s string) (Capability, bool) {
	c := Capability(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	return c, c.Valid()
}

// 通知渠道
const (
	ChannelEmail    = "email"
	ChannelWhatsApp = "whatsapp"
)

// Descriptor 适配器的静态描述
type Descriptor struct {
	// Name 全局唯一的服务名称，同时作为熔断器、限流计数器和缓存来源的标识
	Name string `json:"name"`
	// Capability 提供的能力
	Capability Capability `json:"capability"`
	// Priority 数值越小越先尝试
	Priority int `json:"priority"`
	// Channel 仅 send-notification 适配器设置 (email / whatsapp)
	Channel string `json:"channel,omitempty"`
}

// Provider 所有适配器的公共部分
type Provider interface {
	Descriptor() Descriptor
	// IsAvailable 轻量健康探测，返回 false 时本次请求跳过该服务，不计入熔断
	IsAvailable(ctx context.Context) bool
}

// Validator 校验企业登记号 (CNPJ)
type Validator interface {
	Provider
	Validate(ctx context.Context, subject string) (*Validation, error)
}

// Analyzer 信用风险评估
type Analyzer interface {
	Provider
	Analyze(ctx context.Context, subject string) (*RiskReport, error)
}

// Sender 发送通知
type Sender interface {
	Provider
	Send(ctx context.Context, msg *Message) (*Receipt, error)
}
