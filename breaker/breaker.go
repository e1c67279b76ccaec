// Package breaker 按 provider 名称维护互相独立的熔断器，基于 sony/gobreaker。
//
// 熔断规则：
//   - Closed 状态下连续失败达到 Threshold 次即打开，记录 openUntil = now + Cooldown；
//   - Open 期间 Allow 返回 false，Execute 直接返回 ErrOpen；
//   - 冷却结束后首次读取状态即进入 HalfOpen，只放行一个探测请求，
//     探测成功则关闭并清零计数，失败则以新的 openUntil 重新打开；
//   - 任何一次成功都会把连续失败数清零。
//
// 基本使用：
//
//	reg, _ := breaker.New(&breaker.Config{Threshold: 5, Cooldown: 30 * time.Second},
//		breaker.WithLogger(logger),
//		breaker.WithSuccessClassifier(func(err error) bool { return err == nil || provider.IsDefinitive(err) }))
//
//	if !reg.Allow("brasilapi") {
//		// 跳过该 provider
//	}
//	err := reg.Execute("brasilapi", func() error {
//		v, err := adapter.Validate(ctx, subject)
//		result = v
//		return err
//	})
package breaker

import (
	"time"

	"github.com/ceyewan/bulwark/xerrors"
)

// State 熔断器状态
type State int

const (
	// StateClosed 闭合状态（正常）
	StateClosed State = iota
	// StateHalfOpen 半开状态（探测恢复）
	StateHalfOpen
	// StateOpen 打开状态（熔断中）
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText 以字符串形式出现在 JSON 中
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot 某个熔断器的只读快照
type Snapshot struct {
	Name                string `json:"name"`
	State               State  `json:"state"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
	Requests            uint32 `json:"requests"`
	TotalFailures       uint32 `json:"total_failures"`
	// OpenUntil 仅在 Open 状态下非零
	OpenUntil time.Time `json:"open_until,omitzero"`
}

// Config 熔断配置
type Config struct {
	// Threshold 连续失败多少次后打开 (默认: 5)
	Threshold uint32 `mapstructure:"threshold"`
	// Cooldown 打开状态持续时间，结束后允许一次探测 (默认: 30s)
	Cooldown time.Duration `mapstructure:"cooldown"`
}

func (c *Config) setDefaults() {
	if c.Threshold == 0 {
		c.Threshold = 5
	}
	if c.Cooldown == 0 {
		c.Cooldown = 30 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Cooldown < 0 {
		return xerrors.Wrapf(ErrInvalidConfig, "cooldown must be positive, got %s", c.Cooldown)
	}
	return nil
}
