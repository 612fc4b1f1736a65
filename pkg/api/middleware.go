package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cognition-ai/cognition/pkg/scope"
)

// scopeContextKey is where the extracted scope lives in the gin context.
const scopeContextKey = "cognition.scope"

// scopeMiddleware extracts the caller's scope from the request headers and
// rejects the request when enforcement is on and headers are missing.
func (s *Server) scopeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := s.harness.Extract(c.Request.Header)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.Set(scopeContextKey, caller)
		c.Next()
	}
}

// callerScope returns the scope attached by scopeMiddleware.
func callerScope(c *gin.Context) scope.Scope {
	if v, ok := c.Get(scopeContextKey); ok {
		if caller, ok := v.(scope.Scope); ok {
			return caller
		}
	}
	return nil
}

// requestLogger logs each request at debug with its latency and status.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
