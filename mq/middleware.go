package mq

import (
	"time"

	"github.com/ceyewan/bulwark/clog"
)

// Middleware Handler 中间件
type Middleware func(Handler) Handler

// Chain 串联中间件，第一个最先执行
//
//	handler = mq.Chain(mq.WithRecover(logger), mq.WithRetry(cfg, logger))(handler)
func Chain(middlewares ...Middleware) Middleware {
	return func(next Handler) Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// RetryConfig 重试配置
type RetryConfig struct {
	// MaxRetries 最大重试次数（不含首次执行）
	MaxRetries int `mapstructure:"max_retries"`
	// InitialBackoff 初始退避时间
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	// MaxBackoff 最大退避时间
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
	// Multiplier 退避倍数
	Multiplier float64 `mapstructure:"multiplier"`
}

// DefaultRetryConfig 默认重试配置
var DefaultRetryConfig = RetryConfig{
	MaxRetries:     3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	Multiplier:     2.0,
}

// WithRetry 在单次投递内重试 Handler，全部失败后返回最后一次的错误。
// retryable 为 nil 时所有错误都重试。
func WithRetry(cfg RetryConfig, logger clog.Logger, retryable func(error) bool) Middleware {
	if cfg.Multiplier <= 1.0 {
		cfg.Multiplier = 2.0
	}
	if logger == nil {
		logger = clog.Discard()
	}

	return func(next Handler) Handler {
		return func(msg Message) error {
			var err error
			backoff := cfg.InitialBackoff

			for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
				err = next(msg)
				if err == nil {
					return nil
				}
				if attempt == cfg.MaxRetries || (retryable != nil && !retryable(err)) {
					break
				}

				logger.WarnContext(msg.Context(), "message handler failed, retrying",
					clog.String("topic", msg.Topic()),
					clog.String("msg_id", msg.ID()),
					clog.Int("attempt", attempt+1),
					clog.Int("max_retries", cfg.MaxRetries),
					clog.Duration("backoff", backoff),
					clog.Error(err),
				)

				select {
				case <-msg.Context().Done():
					return msg.Context().Err()
				case <-time.After(backoff):
				}

				backoff = time.Duration(float64(backoff) * cfg.Multiplier)
				if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
					backoff = cfg.MaxBackoff
				}
			}
			return err
		}
	}
}

// WithLogging 记录每条消息的处理结果与耗时
func WithLogging(logger clog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(msg Message) error {
			start := time.Now()
			err := next(msg)
			duration := time.Since(start)

			if err != nil {
				logger.ErrorContext(msg.Context(), "message handler failed",
					clog.String("topic", msg.Topic()),
					clog.String("msg_id", msg.ID()),
					clog.Duration("duration", duration),
					clog.Error(err),
				)
			} else {
				logger.DebugContext(msg.Context(), "message handled",
					clog.String("topic", msg.Topic()),
					clog.String("msg_id", msg.ID()),
					clog.Duration("duration", duration),
				)
			}
			return err
		}
	}
}

// WithRecover 将 Handler 中的 panic 转换为 ErrPanicRecovered
func WithRecover(logger clog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(msg Message) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(msg.Context(), "message handler panic recovered",
						clog.String("topic", msg.Topic()),
						clog.String("msg_id", msg.ID()),
						clog.Any("panic", r),
					)
					err = ErrPanicRecovered
				}
			}()
			return next(msg)
		}
	}
}
