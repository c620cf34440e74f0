package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "safe", cfg.Engine.BaseProfile)
	assert.Equal(t, 5*time.Minute, cfg.Engine.SweepInterval)
	assert.Equal(t, 30*time.Minute, cfg.Engine.IdleTTL)
	assert.Equal(t, uint(5), cfg.Engine.MaxAttempts)
	assert.Equal(t, "mock", cfg.Engine.Executor)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Redis.Enabled)
	assert.Nil(t, cfg.Auth.PublicKey)
	assert.Contains(t, cfg.Engine.Sensitive.Actions, "purchase")
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yaml := []byte(`
engine:
  base_profile: permissive
  global_rps: 5
redis:
  enabled: true
  addr: redis:6379
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))
	t.Setenv("ENGINE_IDLE_TTL", "10m")
	t.Setenv("AUTH_PUBLIC_KEY_DATA", "-----BEGIN PUBLIC KEY-----")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "permissive", cfg.Engine.BaseProfile)
	assert.Equal(t, 5.0, cfg.Engine.GlobalRPS)
	assert.Equal(t, 10*time.Minute, cfg.Engine.IdleTTL)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, []byte("-----BEGIN PUBLIC KEY-----"), cfg.Auth.PublicKey)
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(LoggerConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = NewLogger(LoggerConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestGetStatsKey(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, "pacer:stats:s1:202603040506", GetStatsKey("s1", at))
}

func TestLoadConfigFrom_InvalidValues(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("engine:\n  executor: selenium\n  max_attempts: 0\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))

	_, err := LoadConfigFrom(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.executor")
	assert.Contains(t, err.Error(), "engine.max_attempts")
}

func TestLoadConfigFrom_BrokenFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("engine: [unclosed"), 0o600))

	_, err := LoadConfigFrom(dir)
	assert.Error(t, err)
}
