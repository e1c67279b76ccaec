package testkit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	rediscontainer "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/ceyewan/bulwark/connector"
)

// DefaultRedisImage 集成测试默认使用的 Redis 镜像
const DefaultRedisImage = "redis:7-alpine"

// NewRedisContainerConfig 启动 Redis 容器并返回连接配置，容器随 t.Cleanup 销毁
func NewRedisContainerConfig(t *testing.T) *connector.RedisConfig {
	return newRedisContainerConfig(t, DefaultRedisImage)
}

func newRedisContainerConfig(t *testing.T, image string) *connector.RedisConfig {
	requireDocker(t)
	ctx := context.Background()

	container, err := rediscontainer.Run(ctx, image)
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return &connector.RedisConfig{
		Name: "testcontainer-redis",
		Addr: host + ":" + port.Port(),
	}
}

// NewRedisContainerConnector 启动 Redis 容器并返回已连接的连接器
func NewRedisContainerConnector(t *testing.T) connector.RedisConnector {
	return NewRedisImageConnector(t, DefaultRedisImage)
}

// NewRedisImageConnector 与 NewRedisContainerConnector 相同，但使用指定镜像，用于验证旧版本兼容性
func NewRedisImageConnector(t *testing.T, image string) connector.RedisConnector {
	conn, err := connector.NewRedis(newRedisContainerConfig(t, image), connector.WithLogger(NewLogger()))
	require.NoError(t, err, "failed to create redis connector")
	require.NoError(t, conn.Connect(context.Background()), "failed to connect to redis")
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}
