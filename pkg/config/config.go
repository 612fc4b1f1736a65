// Package config resolves server configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cognition-ai/cognition/pkg/cleanup"
	"github.com/cognition-ai/cognition/pkg/masking"
	"github.com/cognition-ai/cognition/pkg/ratelimit"
	"github.com/cognition-ai/cognition/pkg/scope"
	"github.com/cognition-ai/cognition/pkg/storage"
	"github.com/cognition-ai/cognition/pkg/stream"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string
	Port string

	// RetryMillis is the SSE retry directive advertised to clients.
	RetryMillis int

	// HeartbeatInterval paces SSE keepalives during producer idle.
	HeartbeatInterval time.Duration

	GracefulShutdownTimeout time.Duration
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// ScopeConfig holds caller identity enforcement settings.
type ScopeConfig struct {
	Enabled bool
	// Keys are the required scope dimensions, e.g. ["user_id", "org_id"].
	Keys []string
}

// RateLimitConfig holds token bucket settings.
type RateLimitConfig struct {
	RequestsPerMinute int
	BurstSize         int
}

// AgentConfig holds LLM provider defaults for new turns.
type AgentConfig struct {
	Provider      string
	Model         string
	SystemPrompt  string
	MaxTokens     int
	MaxIterations int

	// AnthropicAPIKey enables the anthropic provider when set.
	AnthropicAPIKey string
}

// TurnConfig bounds turn orchestration.
type TurnConfig struct {
	// BufferCapacity is the per-turn replay buffer bound.
	BufferCapacity int

	// MaxActiveTurns bounds concurrent turns across sessions. Zero means
	// unlimited.
	MaxActiveTurns int
}

// Config is the resolved application configuration.
type Config struct {
	Server    ServerConfig
	Storage   storage.Config
	Scope     ScopeConfig
	RateLimit RateLimitConfig
	Agent     AgentConfig
	Turns     TurnConfig
	Masking   masking.Config
	Retention cleanup.Config

	SessionCacheSize int
	LogLevel         slog.Level
}

const defaultSystemPrompt = "You are a coding agent operating inside a sandboxed workspace. " +
	"Use the available tools to inspect and modify files and to run commands. " +
	"Work step by step and report what you did."

// Load resolves configuration from environment variables.
func Load() (*Config, error) {
	storageCfg, err := loadStorage()
	if err != nil {
		return nil, err
	}

	retryMillis, err := envInt("SSE_RETRY_MILLIS", stream.DefaultRetryMillis)
	if err != nil {
		return nil, err
	}
	heartbeat, err := envDuration("SSE_HEARTBEAT_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := envDuration("GRACEFUL_SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	rpm, err := envInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 60)
	if err != nil {
		return nil, err
	}
	burst, err := envInt("RATE_LIMIT_BURST_SIZE", 10)
	if err != nil {
		return nil, err
	}

	maxTokens, err := envInt("AGENT_MAX_TOKENS", 8192)
	if err != nil {
		return nil, err
	}
	maxIterations, err := envInt("AGENT_MAX_ITERATIONS", 10)
	if err != nil {
		return nil, err
	}

	bufferCap, err := envInt("EVENT_BUFFER_CAPACITY", stream.DefaultCapacity)
	if err != nil {
		return nil, err
	}
	maxTurns, err := envInt("MAX_ACTIVE_TURNS", 0)
	if err != nil {
		return nil, err
	}
	cacheSize, err := envInt("SESSION_CACHE_SIZE", 0)
	if err != nil {
		return nil, err
	}

	retentionDays, err := envInt("SESSION_RETENTION_DAYS", 0)
	if err != nil {
		return nil, err
	}
	cleanupInterval, err := envDuration("CLEANUP_INTERVAL", cleanup.DefaultConfig().Interval)
	if err != nil {
		return nil, err
	}

	logLevel, err := parseLogLevel(getEnvOrDefault("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:                    os.Getenv("HTTP_HOST"),
			Port:                    getEnvOrDefault("HTTP_PORT", "8080"),
			RetryMillis:             retryMillis,
			HeartbeatInterval:       heartbeat,
			GracefulShutdownTimeout: shutdownTimeout,
		},
		Storage: storageCfg,
		Scope: ScopeConfig{
			Enabled: envBool("SCOPE_ENFORCEMENT_ENABLED", false),
			Keys:    splitCSV(os.Getenv("SCOPE_KEYS")),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: rpm,
			BurstSize:         burst,
		},
		Agent: AgentConfig{
			Provider:        getEnvOrDefault("AGENT_PROVIDER", "anthropic"),
			Model:           getEnvOrDefault("AGENT_MODEL", "claude-sonnet-4-5"),
			SystemPrompt:    getEnvOrDefault("AGENT_SYSTEM_PROMPT", defaultSystemPrompt),
			MaxTokens:       maxTokens,
			MaxIterations:   maxIterations,
			AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		},
		Turns: TurnConfig{
			BufferCapacity: bufferCap,
			MaxActiveTurns: maxTurns,
		},
		Masking: masking.Config{
			Enabled:  envBool("MASKING_ENABLED", true),
			Patterns: splitCSV(os.Getenv("MASKING_PATTERNS")),
		},
		Retention: cleanup.Config{
			RetentionDays: retentionDays,
			Interval:      cleanupInterval,
		},
		SessionCacheSize: cacheSize,
		LogLevel:         logLevel,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadStorage() (storage.Config, error) {
	storageType := getEnvOrDefault("STORAGE_TYPE", "sqlite")

	port, err := envInt("DB_PORT", 5432)
	if err != nil {
		return storage.Config{}, err
	}
	maxOpen, err := envInt("DB_MAX_OPEN_CONNS", 10)
	if err != nil {
		return storage.Config{}, err
	}
	maxIdle, err := envInt("DB_MAX_IDLE_CONNS", 5)
	if err != nil {
		return storage.Config{}, err
	}

	return storage.Config{
		Type:         storageType,
		Path:         getEnvOrDefault("STORAGE_PATH", "./data/cognition.db"),
		Host:         getEnvOrDefault("DB_HOST", "localhost"),
		Port:         port,
		User:         getEnvOrDefault("DB_USER", "cognition"),
		Password:     os.Getenv("DB_PASSWORD"),
		Database:     getEnvOrDefault("DB_NAME", "cognition"),
		SSLMode:      getEnvOrDefault("DB_SSLMODE", "prefer"),
		MaxOpenConns: maxOpen,
		MaxIdleConns: maxIdle,
	}, nil
}

func (c *Config) validate() error {
	switch c.Storage.Type {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported STORAGE_TYPE %q", c.Storage.Type)
	}
	if c.Scope.Enabled && len(c.Scope.Keys) == 0 {
		return fmt.Errorf("SCOPE_ENFORCEMENT_ENABLED requires SCOPE_KEYS")
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS_PER_MINUTE must be positive")
	}
	if c.RateLimit.BurstSize <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST_SIZE must be positive")
	}
	if c.Agent.Provider == "anthropic" && c.Agent.AnthropicAPIKey == "" {
		return fmt.Errorf("AGENT_PROVIDER anthropic requires ANTHROPIC_API_KEY")
	}
	return nil
}

// ScopeHarnessConfig adapts the scope section for the harness.
func (c *Config) ScopeHarnessConfig() scope.Config {
	return scope.Config{Enabled: c.Scope.Enabled, Keys: c.Scope.Keys}
}

// Limiter builds a rate limiter from the rate limit section.
func (c *Config) Limiter(logger *slog.Logger) *ratelimit.Limiter {
	return ratelimit.NewLimiter(c.RateLimit.RequestsPerMinute, c.RateLimit.BurstSize, logger)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, defaultVal bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid LOG_LEVEL %q", raw)
	}
}
