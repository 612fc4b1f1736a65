package models

import "time"

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionStatusActive   SessionStatus = "active"
	SessionStatusInactive SessionStatus = "inactive"
	SessionStatusError    SessionStatus = "error"
)

// SessionConfig holds per-session agent configuration. All fields are
// optional; nil means "use the server default". Pointers allow UpdateSession
// to distinguish "not provided" from "set to zero value" when merging.
type SessionConfig struct {
	Provider     *string  `json:"provider,omitempty"`
	Model        *string  `json:"model,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"max_tokens,omitempty"`
	SystemPrompt *string  `json:"system_prompt,omitempty"`
}

// Merge returns a copy of c with every non-nil field of patch applied.
func (c SessionConfig) Merge(patch SessionConfig) SessionConfig {
	out := c
	if patch.Provider != nil {
		out.Provider = patch.Provider
	}
	if patch.Model != nil {
		out.Model = patch.Model
	}
	if patch.Temperature != nil {
		out.Temperature = patch.Temperature
	}
	if patch.MaxTokens != nil {
		out.MaxTokens = patch.MaxTokens
	}
	if patch.SystemPrompt != nil {
		out.SystemPrompt = patch.SystemPrompt
	}
	return out
}

// Session is a persistent agent conversation bound to a workspace.
// Scopes are set at creation and never mutated afterwards; a session is
// owned by its (workspace_path, scopes) pair.
type Session struct {
	ID            string            `json:"id"`
	WorkspacePath string            `json:"workspace_path"`
	Title         string            `json:"title,omitempty"`
	ThreadID      string            `json:"thread_id"`
	Status        SessionStatus     `json:"status"`
	Config        SessionConfig     `json:"config"`
	Scopes        map[string]string `json:"scopes,omitempty"`
	MessageCount  int               `json:"message_count"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Clone returns a deep copy so callers can hand sessions across goroutines
// without sharing the scopes map.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Scopes != nil {
		out.Scopes = make(map[string]string, len(s.Scopes))
		for k, v := range s.Scopes {
			out.Scopes[k] = v
		}
	}
	return &out
}
