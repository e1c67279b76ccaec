package gateway

import (
	"context"
	"io"
	"net/http"
	"net/mail"
	"time"

	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/provider"
)

// Email 通过 HTTP 邮件 API 发送，成功时返回 202 与 X-Message-Id 头
type Email struct {
	base
}

type emailAddress struct {
	Email string `json:"email"`
}

type emailPersonalization struct {
	To []emailAddress `json:"to"`
}

type emailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type emailRequest struct {
	Personalizations []emailPersonalization `json:"personalizations"`
	From             emailAddress           `json:"from"`
	Subject          string                 `json:"subject"`
	Content          []emailContent         `json:"content"`
}

// NewEmail 创建邮件适配器
func NewEmail(cfg *Config, opts ...provider.Option) (*Email, error) {
	b, err := newBase(cfg, provider.ChannelEmail, opts)
	if err != nil {
		return nil, err
	}
	return &Email{base: b}, nil
}

func (e *Email) Send(ctx context.Context, msg *provider.Message) (*provider.Receipt, error) {
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return nil, provider.Rejected(e.cfg.Name, "invalid recipient address")
	}

	body := emailRequest{
		Personalizations: []emailPersonalization{{To: []emailAddress{{Email: msg.To}}}},
		From:             emailAddress{Email: e.cfg.From},
		Subject:          msg.Subject,
		Content:          []emailContent{{Type: "text/plain", Value: msg.Body}},
	}

	req, err := provider.NewJSONRequest(ctx, http.MethodPost, e.cfg.BaseURL+"/v3/mail/send", body)
	if err != nil {
		return nil, provider.BadResponse(e.cfg.Name, "build request", err)
	}
	e.authorize(req)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, provider.FromTransport(e.cfg.Name, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := provider.StatusError(e.cfg.Name, resp.StatusCode, raw)
		e.logger.DebugContext(ctx, "email send failed", clog.String("message_id", msg.ID), clog.Error(err))
		return nil, err
	}

	return &provider.Receipt{
		Success:   true,
		MessageID: resp.Header.Get("X-Message-Id"),
		Provider:  e.cfg.Name,
		Timestamp: time.Now(),
	}, nil
}
