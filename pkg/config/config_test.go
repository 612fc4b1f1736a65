package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// The anthropic default provider needs a key; pin a non-network provider.
	t.Setenv("AGENT_PROVIDER", "scripted")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr())
	assert.Equal(t, 15*time.Second, cfg.Server.HeartbeatInterval)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "./data/cognition.db", cfg.Storage.Path)
	assert.False(t, cfg.Scope.Enabled)
	assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 10, cfg.RateLimit.BurstSize)
	assert.Equal(t, "scripted", cfg.Agent.Provider)
	assert.Equal(t, 10, cfg.Agent.MaxIterations)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.True(t, cfg.Masking.Enabled)
	assert.Zero(t, cfg.Retention.RetentionDays)
	assert.Equal(t, 12*time.Hour, cfg.Retention.Interval)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_HOST", "127.0.0.1")
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("STORAGE_TYPE", "postgres")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("SCOPE_ENFORCEMENT_ENABLED", "true")
	t.Setenv("SCOPE_KEYS", "user_id, org_id")
	t.Setenv("RATE_LIMIT_REQUESTS_PER_MINUTE", "120")
	t.Setenv("RATE_LIMIT_BURST_SIZE", "20")
	t.Setenv("AGENT_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("SSE_HEARTBEAT_INTERVAL", "5s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("MASKING_ENABLED", "false")
	t.Setenv("SESSION_RETENTION_DAYS", "30")
	t.Setenv("CLEANUP_INTERVAL", "1h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr())
	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Equal(t, "db.internal", cfg.Storage.Host)
	assert.Equal(t, 5433, cfg.Storage.Port)
	assert.True(t, cfg.Scope.Enabled)
	assert.Equal(t, []string{"user_id", "org_id"}, cfg.Scope.Keys)
	assert.Equal(t, 120, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, "sk-test", cfg.Agent.AnthropicAPIKey)
	assert.Equal(t, 5*time.Second, cfg.Server.HeartbeatInterval)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)

	assert.False(t, cfg.Masking.Enabled)
	assert.Equal(t, 30, cfg.Retention.RetentionDays)
	assert.Equal(t, time.Hour, cfg.Retention.Interval)

	harness := cfg.ScopeHarnessConfig()
	assert.True(t, harness.Enabled)
	assert.Equal(t, cfg.Scope.Keys, harness.Keys)
}

func TestLoadValidation(t *testing.T) {
	t.Run("unknown storage type", func(t *testing.T) {
		t.Setenv("AGENT_PROVIDER", "scripted")
		t.Setenv("STORAGE_TYPE", "cassandra")
		_, err := Load()
		assert.ErrorContains(t, err, "STORAGE_TYPE")
	})

	t.Run("scoping without keys", func(t *testing.T) {
		t.Setenv("AGENT_PROVIDER", "scripted")
		t.Setenv("SCOPE_ENFORCEMENT_ENABLED", "true")
		_, err := Load()
		assert.ErrorContains(t, err, "SCOPE_KEYS")
	})

	t.Run("anthropic without key", func(t *testing.T) {
		t.Setenv("AGENT_PROVIDER", "anthropic")
		t.Setenv("ANTHROPIC_API_KEY", "")
		_, err := Load()
		assert.ErrorContains(t, err, "ANTHROPIC_API_KEY")
	})

	t.Run("malformed int", func(t *testing.T) {
		t.Setenv("AGENT_PROVIDER", "scripted")
		t.Setenv("DB_PORT", "not-a-port")
		_, err := Load()
		assert.ErrorContains(t, err, "DB_PORT")
	})

	t.Run("malformed log level", func(t *testing.T) {
		t.Setenv("AGENT_PROVIDER", "scripted")
		t.Setenv("LOG_LEVEL", "loud")
		_, err := Load()
		assert.ErrorContains(t, err, "LOG_LEVEL")
	})
}
