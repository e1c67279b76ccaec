package testkit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	kafkacontainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/ceyewan/bulwark/connector"
)

// NewKafkaContainerConnector 启动单节点 Kafka 容器并返回已连接的连接器
func NewKafkaContainerConnector(t *testing.T) connector.KafkaConnector {
	requireDocker(t)
	ctx := context.Background()

	container, err := kafkacontainer.Run(ctx, "confluentinc/confluent-local:7.5.0",
		kafkacontainer.WithClusterID("bulwark-test"),
	)
	require.NoError(t, err, "failed to start kafka container")
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	conn, err := connector.NewKafka(&connector.KafkaConfig{
		Name: "testcontainer-kafka",
		Seed: brokers,
	}, connector.WithLogger(NewLogger()))
	require.NoError(t, err, "failed to create kafka connector")
	require.NoError(t, conn.Connect(ctx), "failed to connect to kafka")
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}
