package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cognition-ai/cognition/pkg/models"
	"github.com/cognition-ai/cognition/pkg/service"
	"github.com/cognition-ai/cognition/pkg/session"
	"github.com/cognition-ai/cognition/pkg/storage"
)

type createSessionRequest struct {
	Title         string                `json:"title"`
	WorkspacePath string                `json:"workspace_path"`
	Config        *models.SessionConfig `json:"config"`
}

type updateSessionRequest struct {
	Title  *string               `json:"title"`
	Config *models.SessionConfig `json:"config"`
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, service.NewValidationError("body", "invalid JSON payload"))
		return
	}

	var cfg models.SessionConfig
	if req.Config != nil {
		cfg = *req.Config
	}
	sess, err := s.sessions.Create(c.Request.Context(), session.CreateParams{
		WorkspacePath: req.WorkspacePath,
		Title:         req.Title,
		Config:        cfg,
		Scopes:        callerScope(c),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) handleListSessions(c *gin.Context) {
	sessions, err := s.sessions.List(c.Request.Context(), callerScope(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "total": len(sessions)})
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.sessions.Get(c.Request.Context(), c.Param("id"), callerScope(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if sess == nil {
		s.respondError(c, service.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) handleUpdateSession(c *gin.Context) {
	var req updateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, service.NewValidationError("body", "invalid JSON payload"))
		return
	}

	sess, err := s.sessions.Update(c.Request.Context(), c.Param("id"), callerScope(c), storage.UpdateSessionParams{
		Title:  req.Title,
		Config: req.Config,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	if sess == nil {
		s.respondError(c, service.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	deleted, err := s.sessions.Delete(c.Request.Context(), c.Param("id"), callerScope(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if !deleted {
		s.respondError(c, service.ErrNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleAbort(c *gin.Context) {
	if err := s.messages.Abort(c.Request.Context(), c.Param("id"), callerScope(c)); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
