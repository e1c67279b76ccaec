package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/provider"
)

// WhatsApp 通过 Cloud API 风格的接口发送文本消息
type WhatsApp struct {
	base
}

type whatsAppRequest struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

type whatsAppResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// NewWhatsApp 创建 WhatsApp 适配器
func NewWhatsApp(cfg *Config, opts ...provider.Option) (*WhatsApp, error) {
	b, err := newBase(cfg, provider.ChannelWhatsApp, opts)
	if err != nil {
		return nil, err
	}
	return &WhatsApp{base: b}, nil
}

// IsAvailable 还需要配置发送号码
func (w *WhatsApp) IsAvailable(ctx context.Context) bool {
	return w.base.IsAvailable(ctx) && w.cfg.PhoneNumberID != ""
}

func (w *WhatsApp) Send(ctx context.Context, msg *provider.Message) (*provider.Receipt, error) {
	to, ok := e164(msg.To)
	if !ok {
		return nil, provider.Rejected(w.cfg.Name, "invalid recipient phone number")
	}

	body := whatsAppRequest{MessagingProduct: "whatsapp", To: to, Type: "text"}
	body.Text.Body = msg.Body
	if msg.Subject != "" {
		body.Text.Body = "*" + msg.Subject + "*\n" + msg.Body
	}

	req, err := provider.NewJSONRequest(ctx, http.MethodPost, w.cfg.BaseURL+"/"+w.cfg.PhoneNumberID+"/messages", body)
	if err != nil {
		return nil, provider.BadResponse(w.cfg.Name, "build request", err)
	}
	w.authorize(req)

	var resp whatsAppResponse
	if err := provider.Do(w.client, w.cfg.Name, req, &resp); err != nil {
		w.logger.DebugContext(ctx, "whatsapp send failed", clog.String("message_id", msg.ID), clog.Error(err))
		return nil, err
	}
	if len(resp.Messages) == 0 || resp.Messages[0].ID == "" {
		return nil, provider.BadResponse(w.cfg.Name, "missing message id", nil)
	}

	return &provider.Receipt{
		Success:   true,
		MessageID: resp.Messages[0].ID,
		Provider:  w.cfg.Name,
		Timestamp: time.Now(),
	}, nil
}

// e164 去除格式字符，要求 10~15 位数字
func e164(s string) (string, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "+")
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return "", false
		}
	}
	n := b.Len()
	return b.String(), n >= 10 && n <= 15
}
