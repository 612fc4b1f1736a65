// Cognition server — mediates clients and LLM agents: scoped sessions,
// streamed turns, durable conversation storage.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/cognition-ai/cognition/pkg/agent"
	"github.com/cognition-ai/cognition/pkg/api"
	"github.com/cognition-ai/cognition/pkg/cleanup"
	"github.com/cognition-ai/cognition/pkg/config"
	"github.com/cognition-ai/cognition/pkg/masking"
	"github.com/cognition-ai/cognition/pkg/scope"
	"github.com/cognition-ai/cognition/pkg/service"
	"github.com/cognition-ai/cognition/pkg/session"
	"github.com/cognition-ai/cognition/pkg/storage"
	"github.com/cognition-ai/cognition/pkg/version"
)

func main() {
	envFile := flag.String("env-file", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Debug("No .env file loaded, continuing with existing environment",
			"path", *envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      cfg.LogLevel,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting cognition",
		"version", version.Full(),
		"addr", cfg.Server.Addr(),
		"storage", cfg.Storage.Type,
		"provider", cfg.Agent.Provider,
		"scoping", cfg.Scope.Enabled)

	ctx := context.Background()

	// Storage
	store, err := storage.Open(cfg.Storage)
	if err != nil {
		logger.Error("Failed to open storage backend", "error", err)
		os.Exit(1)
	}
	if err := store.Initialize(ctx); err != nil {
		logger.Error("Failed to initialize storage backend", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Error closing storage backend", "error", err)
		}
	}()
	logger.Info("Storage backend ready", "type", cfg.Storage.Type)

	// Rate limiting and scope enforcement
	limiter := cfg.Limiter(logger)
	limiter.Start()
	defer limiter.Stop()

	harness := scope.NewHarness(cfg.ScopeHarnessConfig())

	// Model providers
	clients := make(map[string]agent.ModelClient)
	if cfg.Agent.AnthropicAPIKey != "" {
		clients["anthropic"] = agent.NewAnthropicClient(cfg.Agent.AnthropicAPIKey, logger)
		logger.Info("Anthropic provider registered", "model", cfg.Agent.Model)
	}
	defer func() {
		for name, client := range clients {
			if err := client.Close(); err != nil {
				logger.Error("Error closing model client", "provider", name, "error", err)
			}
		}
	}()

	// Retention
	retention := cleanup.NewService(cfg.Retention, store, logger)
	retention.Start(ctx)
	defer retention.Stop()

	// Domain services
	sessions := session.NewManager(store, cfg.SessionCacheSize, logger)
	messages := service.NewMessageService(
		store,
		sessions,
		limiter,
		harness,
		clients,
		agent.Defaults{
			Provider:      cfg.Agent.Provider,
			Model:         cfg.Agent.Model,
			SystemPrompt:  cfg.Agent.SystemPrompt,
			MaxTokens:     cfg.Agent.MaxTokens,
			MaxIterations: cfg.Agent.MaxIterations,
		},
		func(workspacePath string) agent.Sandbox {
			return agent.NewLocalSandbox(workspacePath)
		},
		service.Config{
			BufferCapacity: cfg.Turns.BufferCapacity,
			MaxActiveTurns: cfg.Turns.MaxActiveTurns,
			Masker:         masking.NewService(cfg.Masking, logger),
		},
		logger,
	)
	sessions.AddListener(messages)

	// HTTP server
	server := api.NewServer(api.Config{
		Addr:              cfg.Server.Addr(),
		RetryMillis:       cfg.Server.RetryMillis,
		HeartbeatInterval: cfg.Server.HeartbeatInterval,
		Version:           version.Full(),
	}, sessions, messages, harness, store, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Run(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	logger.Info("Cognition started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		logger.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.GracefulShutdownTimeout)
	defer cancel()

	// Stop admitting turns and wait for running ones to persist.
	if err := messages.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Turn shutdown timeout exceeded, interrupting", "error", err)
	} else {
		logger.Info("Active turns drained")
	}

	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("Shutdown complete")
}
