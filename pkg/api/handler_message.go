package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cognition-ai/cognition/pkg/service"
	"github.com/cognition-ai/cognition/pkg/stream"
)

type sendMessageRequest struct {
	Content  string `json:"content"`
	ParentID string `json:"parentID"`
}

// handleSendMessage starts a turn and streams it, or, when the request
// carries Last-Event-ID, resumes the existing stream without restarting the
// producer.
func (s *Server) handleSendMessage(c *gin.Context) {
	sessionID := c.Param("id")
	caller := callerScope(c)

	if lastEventID := c.GetHeader("Last-Event-ID"); lastEventID != "" {
		replay, live, cancel, err := s.messages.Resume(c.Request.Context(), sessionID, lastEventID, caller)
		if err != nil {
			s.respondError(c, err)
			return
		}
		defer cancel()

		marker := stream.NewMarkerEvent(stream.EventReconnected,
			map[string]any{"last_event_id": lastEventID, "resumed": true})
		s.streamEvents(c, sessionID, &marker, replay, live)
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, service.NewValidationError("body", "invalid JSON payload"))
		return
	}

	handle, err := s.messages.SendMessage(c.Request.Context(), sessionID, req.Content, req.ParentID, caller)
	if err != nil {
		s.respondError(c, err)
		return
	}

	replay, live, cancel := handle.Buffer.Subscribe("")
	defer cancel()
	s.streamEvents(c, sessionID, nil, replay, live)
}

// streamEvents frames the replay tail and then live events until the
// producer finishes, the client leaves, or a write fails. Client departure
// cancels the session's active turn.
func (s *Server) streamEvents(c *gin.Context, sessionID string, marker *stream.Event, replay []stream.Event, live <-chan stream.Event) {
	w := stream.NewWriter(c.Writer)
	c.Status(http.StatusOK)

	abandon := func() {
		s.messages.CancelTurn(sessionID)
	}

	if err := w.WriteRetry(s.cfg.RetryMillis); err != nil {
		abandon()
		return
	}
	if marker != nil {
		if err := w.WriteEvent(*marker); err != nil {
			abandon()
			return
		}
	}
	for _, ev := range replay {
		if err := w.WriteEvent(ev); err != nil {
			abandon()
			return
		}
	}

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	clientGone := c.Request.Context().Done()

	for {
		select {
		case ev, ok := <-live:
			if !ok {
				return
			}
			heartbeat.Reset(s.cfg.HeartbeatInterval)
			if err := w.WriteEvent(ev); err != nil {
				abandon()
				return
			}
		case <-heartbeat.C:
			if err := w.WriteKeepalive(); err != nil {
				abandon()
				return
			}
		case <-clientGone:
			abandon()
			return
		}
	}
}

func (s *Server) handleListMessages(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	msgs, total, err := s.messages.GetMessages(c.Request.Context(), c.Param("id"), callerScope(c), limit, offset)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": msgs,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
