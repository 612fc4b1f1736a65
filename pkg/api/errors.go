package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cognition-ai/cognition/pkg/ratelimit"
	"github.com/cognition-ai/cognition/pkg/scope"
	"github.com/cognition-ai/cognition/pkg/service"
	"github.com/cognition-ai/cognition/pkg/storage"
)

// errorBody is the envelope of every HTTP error response.
type errorBody struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// respondError maps a service-layer error onto the HTTP envelope. Unknown
// errors surface generically; the detail stays in the server log.
func (s *Server) respondError(c *gin.Context, err error) {
	status, body := classifyError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "path", c.FullPath(), "error", err)
	}
	if rlErr := asRateLimitError(err); rlErr != nil {
		c.Header("Retry-After", fmt.Sprintf("%d", int(rlErr.RetryAfter.Seconds())+1))
	}
	c.AbortWithStatusJSON(status, body)
}

func classifyError(err error) (int, errorBody) {
	var validationErr *service.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, errorBody{
			Error: true, Code: "invalid_request", Message: validationErr.Error(),
			Details: map[string]any{"field": validationErr.Field},
		}
	}

	var missingScopeErr *scope.MissingScopeError
	if errors.As(err, &missingScopeErr) {
		return http.StatusForbidden, errorBody{
			Error: true, Code: "forbidden", Message: missingScopeErr.Error(),
			Details: map[string]any{"missing_headers": missingScopeErr.MissingHeaders},
		}
	}

	if rlErr := asRateLimitError(err); rlErr != nil {
		return http.StatusTooManyRequests, errorBody{
			Error: true, Code: "rate_limited", Message: rlErr.Error(),
			Details: map[string]any{
				"resource":       rlErr.Resource,
				"limit":          rlErr.Limit,
				"window_seconds": rlErr.WindowSeconds,
				"retry_after_ms": rlErr.RetryAfter.Milliseconds(),
			},
		}
	}

	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, errorBody{Error: true, Code: "not_found", Message: "not found"}
	case errors.Is(err, storage.ErrAlreadyExists):
		return http.StatusConflict, errorBody{Error: true, Code: "already_exists", Message: "already exists"}
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, errorBody{Error: true, Code: "conflict", Message: err.Error()}
	case errors.Is(err, service.ErrResourceExhausted):
		return http.StatusTooManyRequests, errorBody{Error: true, Code: "resource_exhausted", Message: err.Error()}
	case errors.Is(err, service.ErrShuttingDown), errors.Is(err, storage.ErrUnavailable):
		return http.StatusServiceUnavailable, errorBody{Error: true, Code: "unavailable", Message: "service unavailable"}
	default:
		return http.StatusInternalServerError, errorBody{Error: true, Code: "internal", Message: "internal server error"}
	}
}

func asRateLimitError(err error) *ratelimit.RateLimitError {
	var rlErr *ratelimit.RateLimitError
	if errors.As(err, &rlErr) {
		return rlErr
	}
	return nil
}
