package orchestrator

import (
	"strings"
	"time"
)

const (
	// SourceFallback 所有 provider 都不可用时的内联降级结果，永远不写入缓存
	SourceFallback = "FALLBACK_INLINE"
	// cachedSuffix 缓存命中时追加在原始来源之后
	cachedSuffix = "_CACHED"
)

// Envelope 所有能力调用的统一返回结构
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Data    *T     `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	// Source provider 名称、FALLBACK_INLINE 或 <provider>_CACHED
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Cached 报告结果是否来自缓存
func (e *Envelope[T]) Cached() bool {
	return strings.HasSuffix(e.Source, cachedSuffix)
}

// Degraded 报告结果是否为内联降级
func (e *Envelope[T]) Degraded() bool {
	return e.Source == SourceFallback
}

// Provider 返回实际给出结果的 provider 名称，降级结果返回空串
func (e *Envelope[T]) Provider() string {
	if e.Degraded() {
		return ""
	}
	return strings.TrimSuffix(e.Source, cachedSuffix)
}
