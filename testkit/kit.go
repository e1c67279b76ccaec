// Package testkit 汇集测试用的依赖：日志、指标、唯一 ID，以及基于 testcontainers 的
// Redis、NATS、Kafka 连接器和 SQLite 内存库。
//
// 依赖容器的辅助函数在 -short 模式或 Docker 不可用时会跳过测试。
package testkit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"

	"github.com/ceyewan/bulwark/clog"
	"github.com/ceyewan/bulwark/metrics"
)

// NewLogger 返回测试用 logger，console 格式，级别 debug
func NewLogger() clog.Logger {
	logger, err := clog.New(clog.NewDevDefaultConfig())
	if err != nil {
		return clog.Discard()
	}
	return logger.WithNamespace("test")
}

// NewMeter 返回 noop meter，避免多个测试重复注册 Prometheus collector
func NewMeter() metrics.Meter {
	return metrics.Discard()
}

// NewContext 返回带超时的上下文
func NewContext(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// NewID 返回 8 位唯一 ID，用于生成互不冲突的 key、topic 或前缀
func NewID() string {
	return uuid.NewString()[:8]
}

// requireDocker 在 -short 或 Docker 不可用时跳过当前测试
func requireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
}
