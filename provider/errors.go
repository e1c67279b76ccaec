package provider

import (
	"context"
	"fmt"
	"net"

	"github.com/ceyewan/bulwark/xerrors"
)

// Kind 归一化的失败类别
type Kind string

const (
	// KindUnavailable 服务不可用（连接失败、5xx）
	KindUnavailable Kind = "unavailable"
	// KindTimeout 调用超时
	KindTimeout Kind = "timeout"
	// KindRateLimited 服务端限流 (429)
	KindRateLimited Kind = "rate_limited"
	// KindBadResponse 响应无法解析或与约定不符
	KindBadResponse Kind = "bad_response"
	// KindNotFound 目标确定不存在
	KindNotFound Kind = "not_found"
	// KindRejected 服务明确拒绝了请求内容（收件人无效、证件被拒等）
	KindRejected Kind = "rejected"
)

// Error 适配器返回的结构化错误
type Error struct {
	Kind     Kind
	Provider string
	Message  string
	// Definitive 表示服务给出了确定的否定答案，换一个服务也不会得到不同结论
	Definitive bool
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s [%s]: %s: %v", e.Provider, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("provider %s [%s]: %s", e.Provider, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError 创建错误，not_found 与 rejected 自动标记为确定性结果
func NewError(kind Kind, providerName, message string, err error) *Error {
	return &Error{
		Kind:       kind,
		Provider:   providerName,
		Message:    message,
		Definitive: kind == KindNotFound || kind == KindRejected,
		Err:        err,
	}
}

// Unavailable 暂时性故障
func Unavailable(providerName, message string, err error) *Error {
	return NewError(KindUnavailable, providerName, message, err)
}

// NotFound 确定不存在
func NotFound(providerName, message string) *Error {
	return NewError(KindNotFound, providerName, message, nil)
}

// Rejected 确定被拒绝
func Rejected(providerName, message string) *Error {
	return NewError(KindRejected, providerName, message, nil)
}

// BadResponse 响应不符合约定
func BadResponse(providerName, message string, err error) *Error {
	return NewError(KindBadResponse, providerName, message, err)
}

// IsDefinitive 报告 err 链上是否存在确定性的 *Error
func IsDefinitive(err error) bool {
	var pe *Error
	if xerrors.As(err, &pe) {
		return pe.Definitive
	}
	return false
}

// KindOf 提取错误类别，非 *Error 的超时归为 timeout，其余归为 unavailable
func KindOf(err error) Kind {
	var pe *Error
	if xerrors.As(err, &pe) {
		return pe.Kind
	}
	if isTimeout(err) {
		return KindTimeout
	}
	return KindUnavailable
}

// FromTransport 把传输层错误归一化为 *Error
func FromTransport(providerName string, err error) *Error {
	if isTimeout(err) {
		return NewError(KindTimeout, providerName, "request timed out", err)
	}
	return Unavailable(providerName, "request failed", err)
}

func isTimeout(err error) bool {
	if xerrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return xerrors.As(err, &ne) && ne.Timeout()
}
