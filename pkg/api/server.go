// Package api exposes the HTTP/SSE surface: session CRUD, message
// streaming, and health probes.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cognition-ai/cognition/pkg/scope"
	"github.com/cognition-ai/cognition/pkg/service"
	"github.com/cognition-ai/cognition/pkg/session"
	"github.com/cognition-ai/cognition/pkg/storage"
	"github.com/cognition-ai/cognition/pkg/stream"
)

// Config tunes the HTTP server.
type Config struct {
	Addr string

	// RetryMillis is the SSE retry directive advertised to clients.
	RetryMillis int

	// HeartbeatInterval paces SSE keepalive comments during producer idle.
	HeartbeatInterval time.Duration

	// Version is reported by /health.
	Version string
}

// Server wires the HTTP surface over the session manager and the message
// service.
type Server struct {
	cfg      Config
	engine   *gin.Engine
	http     *http.Server
	sessions *session.Manager
	messages *service.MessageService
	harness  *scope.Harness
	store    storage.Backend
	logger   *slog.Logger
}

// NewServer builds the router. Call Run to start serving.
func NewServer(
	cfg Config,
	sessions *session.Manager,
	messages *service.MessageService,
	harness *scope.Harness,
	store storage.Backend,
	logger *slog.Logger,
) *Server {
	if cfg.RetryMillis <= 0 {
		cfg.RetryMillis = stream.DefaultRetryMillis
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		cfg:      cfg,
		engine:   engine,
		sessions: sessions,
		messages: messages,
		harness:  harness,
		store:    store,
		logger:   logger.With("component", "api"),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.Use(s.requestLogger())

	// Probes sit outside scope enforcement.
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/ready", s.handleReady)

	scoped := s.engine.Group("/", s.scopeMiddleware())
	scoped.POST("/sessions", s.handleCreateSession)
	scoped.GET("/sessions", s.handleListSessions)
	scoped.GET("/sessions/:id", s.handleGetSession)
	scoped.PATCH("/sessions/:id", s.handleUpdateSession)
	scoped.DELETE("/sessions/:id", s.handleDeleteSession)
	scoped.POST("/sessions/:id/abort", s.handleAbort)
	scoped.POST("/sessions/:id/messages", s.handleSendMessage)
	scoped.GET("/sessions/:id/messages", s.handleListMessages)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.http = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server listening", "addr", s.cfg.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	if err := s.store.HealthCheck(c.Request.Context()); err != nil {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"version":        s.cfg.Version,
		"activeSessions": s.messages.ActiveTurns(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(c *gin.Context) {
	if err := s.store.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}
