// Package connector 管理 bulwark 依赖的外部连接：Redis（缓存、限流计数、redis_stream 队列）、
// SQLite/MySQL（通知投递状态）、NATS 与 Kafka（通知队列）。
//
// 连接器只负责建连、健康检查与关闭，业务组件通过 GetClient 拿到原生客户端：
//
//	redisConn, _ := connector.NewRedis(&cfg.Redis, connector.WithLogger(logger), connector.WithTracing())
//	if err := redisConn.Connect(ctx); err != nil { ... }
//	defer redisConn.Close()
//	store, _ := cache.New(&cfg.Cache, cache.WithRedisConnector(redisConn))
package connector

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"
	"gorm.io/gorm"
)

// Connector 连接器通用接口
type Connector interface {
	// Connect 建立连接并验证可用性，重复调用是安全的
	Connect(ctx context.Context) error
	Close() error
	// HealthCheck 主动探测，并刷新 IsHealthy 的缓存结果
	HealthCheck(ctx context.Context) error
	IsHealthy() bool
	Name() string
}

// TypedConnector 暴露原生客户端的连接器
type TypedConnector[T any] interface {
	Connector
	GetClient() T
}

// RedisConnector Redis 连接器
type RedisConnector interface {
	TypedConnector[*redis.Client]
}

// MySQLConnector MySQL 连接器
type MySQLConnector interface {
	TypedConnector[*gorm.DB]
}

// SQLiteConnector SQLite 连接器
type SQLiteConnector interface {
	TypedConnector[*gorm.DB]
}

// NATSConnector NATS 连接器
type NATSConnector interface {
	TypedConnector[*nats.Conn]
}

// KafkaConnector Kafka 连接器
type KafkaConnector interface {
	TypedConnector[*kgo.Client]
	// Seeds 返回 broker 列表，消费者组需要用它创建独立客户端
	Seeds() []string
}
