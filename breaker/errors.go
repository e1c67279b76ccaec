package breaker

import "github.com/ceyewan/bulwark/xerrors"

var (
	// ErrInvalidConfig 配置非法
	ErrInvalidConfig = xerrors.New("breaker: invalid config")

	// ErrOpen 熔断器处于打开状态，请求未执行
	ErrOpen = xerrors.New("breaker: circuit breaker is open")

	// ErrProbeInFlight 半开状态下唯一的探测名额已被占用，请求未执行
	ErrProbeInFlight = xerrors.New("breaker: half-open probe already in flight")
)

// IsRejected 判断 err 是否表示熔断器拒绝执行（调用方应跳过而不是计为失败）
func IsRejected(err error) bool {
	return xerrors.Is(err, ErrOpen) || xerrors.Is(err, ErrProbeInFlight)
}
