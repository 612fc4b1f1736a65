// Package storage provides the durable store for sessions, messages, and
// agent checkpoints. Implementations are interchangeable; the rest of the
// server depends only on the Backend interface.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cognition-ai/cognition/pkg/models"
)

var (
	// ErrAlreadyExists is returned when a session ID collides.
	ErrAlreadyExists = errors.New("storage: already exists")

	// ErrForeignKey is returned when a message references a missing session.
	ErrForeignKey = errors.New("storage: referenced session does not exist")

	// ErrUnavailable is returned on transport-level failures; a retry may succeed.
	ErrUnavailable = errors.New("storage: unavailable")
)

// CreateSessionParams are the inputs to Backend.CreateSession.
type CreateSessionParams struct {
	ID            string
	ThreadID      string
	WorkspacePath string
	Title         string
	Config        models.SessionConfig
	Scopes        map[string]string
}

// UpdateSessionParams is a partial session patch. Nil fields keep the
// existing values; Config is merged field-wise, not replaced.
type UpdateSessionParams struct {
	Title  *string
	Status *models.SessionStatus
	Config *models.SessionConfig
}

// CreateMessageParams are the inputs to Backend.CreateMessage.
type CreateMessageParams struct {
	ID         string
	SessionID  string
	Role       models.Role
	Content    string
	ParentID   string
	ToolCalls  []models.ToolCall
	ToolCallID string
	TokenCount int
	ModelUsed  string
	Metadata   map[string]any
}

// CheckpointSaver persists opaque per-thread agent state. The server never
// interprets the blob; a lost checkpoint is recovered by replaying messages.
type CheckpointSaver interface {
	Put(ctx context.Context, threadID string, state []byte) error
	// Get returns (nil, nil) when no checkpoint exists for the thread.
	Get(ctx context.Context, threadID string) ([]byte, error)
	Delete(ctx context.Context, threadID string) error
}

// Backend is the unified session/message/checkpoint store contract.
// Every operation is individually atomic; callers never need multi-operation
// transactions. Lookup operations return (nil, nil) on missing rows.
type Backend interface {
	Initialize(ctx context.Context) error
	Close() error
	HealthCheck(ctx context.Context) error

	CreateSession(ctx context.Context, params CreateSessionParams) (*models.Session, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	// ListSessions returns sessions ordered by updated_at descending. A
	// non-empty filter keeps only sessions whose scopes are a superset of it.
	ListSessions(ctx context.Context, filterScopes map[string]string) ([]*models.Session, error)
	UpdateSession(ctx context.Context, id string, params UpdateSessionParams) (*models.Session, error)
	UpdateMessageCount(ctx context.Context, id string, count int) error
	// DeleteSession cascades to the session's messages. Returns false when
	// the session did not exist.
	DeleteSession(ctx context.Context, id string) (bool, error)
	// PurgeSessionsBefore deletes sessions not updated since the cutoff,
	// cascading to their messages and checkpoints. Returns the number of
	// sessions removed.
	PurgeSessionsBefore(ctx context.Context, cutoff time.Time) (int, error)

	CreateMessage(ctx context.Context, params CreateMessageParams) (*models.Message, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]*models.Message, error)
	GetMessagesBySession(ctx context.Context, sessionID string, limit, offset int) ([]*models.Message, int, error)
	DeleteMessagesForSession(ctx context.Context, sessionID string) (int, error)

	Checkpointer() CheckpointSaver
}

// Config selects and configures a backend implementation.
type Config struct {
	// Type is "memory", "sqlite", or "postgres".
	Type string

	// Path is the sqlite database file (sqlite only).
	Path string

	// Postgres connection settings.
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings (postgres only).
	MaxOpenConns int
	MaxIdleConns int
}

// Open constructs the backend named by cfg.Type. Unknown types are rejected;
// there is no silent fallback between implementations.
func Open(cfg Config) (Backend, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryBackend(), nil
	case "sqlite":
		return NewSQLiteBackend(cfg.Path), nil
	case "postgres":
		return NewPostgresBackend(cfg), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// scopesMatch reports whether target contains every key/value pair of filter.
// An empty filter matches everything.
func scopesMatch(filter, target map[string]string) bool {
	for k, v := range filter {
		if target[k] != v {
			return false
		}
	}
	return true
}
