// Package xerrors 提供 bulwark 各组件共用的错误工具：上下文包装与错误聚合。
//
// 组件内部的哨兵错误统一放在各自的 errors.go 中，并通过 xerrors.New 创建，
// 调用方使用 xerrors.Is / xerrors.As 判断。
package xerrors

import (
	"errors"
	"fmt"
)

// 跨组件通用的哨兵错误
var (
	// ErrInvalidInput 参数或配置不合法（编程错误，应在调用外部服务前暴露）
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable 依赖暂时不可用
	ErrUnavailable = errors.New("unavailable")
)

// 标准库函数再导出
var (
	New  = errors.New
	Is   = errors.Is
	As   = errors.As
	Join = errors.Join
)

// Wrap 为 err 追加上下文，保留错误链。err 为 nil 时返回 nil。
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 与 Wrap 相同，但支持格式化上下文。
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Collector 按顺序收集错误，只保留第一个。
// 适合关闭多个资源时"尽量执行、报告首错"的场景。
type Collector struct {
	err error
}

func (c *Collector) Collect(err error) {
	if err != nil && c.err == nil {
		c.err = err
	}
}

func (c *Collector) Err() error {
	return c.err
}

// MultiError 聚合多个错误。
type MultiError struct {
	Errors []error
}

func (m *MultiError) Error() string {
	switch len(m.Errors) {
	case 0:
		return "no errors"
	case 1:
		return m.Errors[0].Error()
	default:
		return fmt.Sprintf("%v (and %d more errors)", m.Errors[0], len(m.Errors)-1)
	}
}

func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Combine 丢弃 nil 后合并错误：全为 nil 返回 nil，只有一个时原样返回。
func Combine(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		return &MultiError{Errors: nonNil}
	}
}
