package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type breakerSection struct {
	Threshold int           `mapstructure:"threshold"`
	Cooldown  time.Duration `mapstructure:"cooldown"`
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoader(t *testing.T) {
	t.Run("文件与默认值", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "bulwark.yaml", "engine:\n  breaker:\n    cooldown: 45s\n")

		loader, err := New(&Config{Paths: []string{dir}, EnvPrefix: "BWTEST1"},
			WithDefaults(map[string]any{"engine.breaker.threshold": 5, "engine.breaker.cooldown": "30s"}))
		require.NoError(t, err)
		require.NoError(t, loader.Load(context.Background()))

		var b breakerSection
		require.NoError(t, loader.UnmarshalKey("engine.breaker", &b))
		assert.Equal(t, 5, b.Threshold)
		assert.Equal(t, 45*time.Second, b.Cooldown)
	})

	t.Run("环境变量覆盖", func(t *testing.T) {
		t.Setenv("BWTEST2_ENGINE_BREAKER_THRESHOLD", "9")
		loader, err := New(&Config{Paths: []string{t.TempDir()}, EnvPrefix: "BWTEST2"},
			WithDefaults(map[string]any{"engine.breaker.threshold": 5, "engine.breaker.cooldown": "30s"}))
		require.NoError(t, err)
		require.NoError(t, loader.Load(context.Background()))

		var b breakerSection
		require.NoError(t, loader.UnmarshalKey("engine.breaker", &b))
		assert.Equal(t, 9, b.Threshold)
		assert.Equal(t, 30*time.Second, b.Cooldown)
	})

	t.Run("环境专属文件合并", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "bulwark.yaml", "cache:\n  mode: distributed\n  prefix: \"bulwark:\"\n")
		writeFile(t, dir, "bulwark.test.yaml", "cache:\n  mode: standalone\n")
		t.Setenv("BWTEST3_ENV", "test")

		loader, err := New(&Config{Paths: []string{dir}, EnvPrefix: "BWTEST3"})
		require.NoError(t, err)
		require.NoError(t, loader.Load(context.Background()))
		assert.Equal(t, "standalone", loader.Get("cache.mode"))
		assert.Equal(t, "bulwark:", loader.Get("cache.prefix"))
	})

	t.Run("空配置校验失败", func(t *testing.T) {
		loader, err := New(&Config{Paths: []string{t.TempDir()}, EnvPrefix: "BWTEST4"})
		require.NoError(t, err)
		err = loader.Load(context.Background())
		require.Error(t, err)
		assert.True(t, IsInvalidInput(err))
	})
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bulwark.yaml", "engine:\n  call_timeout: 10s\n")

	loader, err := New(&Config{Paths: []string{dir}, EnvPrefix: "BWTEST5"})
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := loader.Watch(ctx, "engine.call_timeout")
	require.NoError(t, err)

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}
