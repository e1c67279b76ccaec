package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxBody 响应体读取上限
const maxBody = 1 << 20

// NewJSONRequest 构造 JSON 请求，body 为 nil 时不带请求体
func NewJSONRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "bulwark/1.0")
	return req, nil
}

// Do 发送请求并把 2xx 响应解码到 out（out 可为 nil）。
// 非 2xx 响应按状态码归一化：404 not_found，400/422 rejected，429 rate_limited，其余 unavailable。
func Do(client *http.Client, name string, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return FromTransport(name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return FromTransport(name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return StatusError(name, resp.StatusCode, body)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return BadResponse(name, "decode response", err)
	}
	return nil
}

// StatusError 把非 2xx 状态码映射为 *Error
func StatusError(name string, status int, body []byte) *Error {
	msg := fmt.Sprintf("status %d", status)
	if s := snippet(body); s != "" {
		msg += ": " + s
	}
	switch {
	case status == http.StatusNotFound:
		return NotFound(name, msg)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return Rejected(name, msg)
	case status == http.StatusTooManyRequests:
		return NewError(KindRateLimited, name, msg, nil)
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return NewError(KindTimeout, name, msg, nil)
	default:
		return Unavailable(name, msg, nil)
	}
}

func snippet(body []byte) string {
	const n = 200
	s := string(bytes.TrimSpace(body))
	if len(s) > n {
		return s[:n]
	}
	return s
}
