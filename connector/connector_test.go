package connector

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ceyewan/bulwark/xerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RedisConfig
		wantErr bool
	}{
		{name: "默认值", cfg: RedisConfig{Addr: "localhost:6379"}},
		{name: "缺少地址", cfg: RedisConfig{}, wantErr: true},
		{name: "负数 DB", cfg: RedisConfig{Addr: "localhost:6379", DB: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.setDefaults()
			err := tt.cfg.validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "default", tt.cfg.Name)
			assert.Equal(t, 10, tt.cfg.PoolSize)
			assert.Equal(t, 3*time.Second, tt.cfg.ReadTimeout)
		})
	}
}

func TestMySQLConfig(t *testing.T) {
	t.Run("DSN 优先", func(t *testing.T) {
		cfg := &MySQLConfig{DSN: "root:root@tcp(localhost:3306)/bulwark"}
		cfg.setDefaults()
		assert.NoError(t, cfg.validate())
	})

	t.Run("字段补全默认值", func(t *testing.T) {
		cfg := &MySQLConfig{Host: "localhost", Username: "root", Database: "bulwark"}
		cfg.setDefaults()
		require.NoError(t, cfg.validate())
		assert.Equal(t, 3306, cfg.Port)
		assert.Equal(t, "utf8mb4", cfg.Charset)
		assert.Equal(t, time.Hour, cfg.ConnMaxLifetime)
	})

	t.Run("缺少数据库名", func(t *testing.T) {
		cfg := &MySQLConfig{Host: "localhost", Username: "root"}
		cfg.setDefaults()
		assert.ErrorIs(t, cfg.validate(), ErrConfig)
	})
}

func TestNATSAndKafkaConfig(t *testing.T) {
	_, err := NewNATS(&NATSConfig{})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewKafka(&KafkaConfig{})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewRedis(nil)
	assert.ErrorIs(t, err, ErrConfig)

	kc, err := NewKafka(&KafkaConfig{Seed: []string{"localhost:9092"}})
	require.NoError(t, err)
	assert.Equal(t, "default", kc.Name())
	assert.Equal(t, []string{"localhost:9092"}, kc.Seeds())
	assert.Nil(t, kc.GetClient())
}

func TestNotConnected(t *testing.T) {
	ctx := context.Background()

	nc, err := NewNATS(&NATSConfig{URL: "nats://127.0.0.1:4222"})
	require.NoError(t, err)
	assert.False(t, nc.IsHealthy())
	assert.True(t, xerrors.Is(nc.HealthCheck(ctx), ErrNotConnected))
	assert.NoError(t, nc.Close())

	sc, err := NewSQLite(&SQLiteConfig{Path: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.True(t, xerrors.Is(sc.HealthCheck(ctx), ErrNotConnected))
	assert.Nil(t, sc.GetClient())
}

func TestSQLiteConnector(t *testing.T) {
	ctx := context.Background()

	conn, err := NewSQLite(&SQLiteConfig{Name: "status", Path: filepath.Join(t.TempDir(), "bulwark.db")}, WithTracing())
	require.NoError(t, err)

	require.NoError(t, conn.Connect(ctx))
	require.NoError(t, conn.Connect(ctx), "重复 Connect 应当幂等")
	assert.True(t, conn.IsHealthy())
	assert.Equal(t, "status", conn.Name())

	db := conn.GetClient()
	require.NotNil(t, db)
	require.NoError(t, db.Exec("CREATE TABLE probe (id INTEGER PRIMARY KEY)").Error)

	require.NoError(t, conn.HealthCheck(ctx))

	require.NoError(t, conn.Close())
	assert.False(t, conn.IsHealthy())
	assert.NoError(t, conn.Close(), "重复 Close 应当安全")
}

func TestRedisConnectFailure(t *testing.T) {
	conn, err := NewRedis(&RedisConfig{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err = conn.Connect(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
	assert.False(t, conn.IsHealthy())
}
