package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/cognition-ai/cognition/pkg/models"
)

//go:embed migrations
var migrationsFS embed.FS

const sessionColumns = "id, workspace_path, title, thread_id, status, config, scopes, message_count, created_at, updated_at"
const messageColumns = "id, session_id, role, content, parent_id, tool_calls, tool_call_id, token_count, model_used, metadata, created_at"

// sqlStore implements Backend on database/sql. Both the embedded SQLite
// store and the networked Postgres store share it; only the open path and
// the migration sources differ. All queries use $N placeholders, which both
// pgx and modernc SQLite accept.
type sqlStore struct {
	db      *sql.DB
	dialect string
	open    func(ctx context.Context) (*sql.DB, error)
	driver  func(db *sql.DB) (migratedb.Driver, error)

	// lockClause is appended to read-for-update queries. Postgres needs
	// FOR UPDATE to serialize read-merge-write; SQLite has no row locks
	// and serializes at the connection instead.
	lockClause string
}

func (s *sqlStore) Initialize(ctx context.Context) error {
	db, err := s.open(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.db = db

	if err := s.migrate(); err != nil {
		_ = db.Close()
		s.db = nil
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// migrate applies the embedded migrations for the store's dialect.
func (s *sqlStore) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations/"+s.dialect)
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}
	drv, err := s.driver(s.db)
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, s.dialect, drv)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	// Close only the source. Closing m would also close the shared *sql.DB.
	if err := src.Close(); err != nil {
		return fmt.Errorf("close migration source: %w", err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("%w: store not initialized", ErrUnavailable)
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ────────────────────────────────────────────────────────────
// Sessions
// ────────────────────────────────────────────────────────────

func (s *sqlStore) CreateSession(ctx context.Context, params CreateSessionParams) (*models.Session, error) {
	now := time.Now().UTC()
	sess := &models.Session{
		ID:            params.ID,
		WorkspacePath: params.WorkspacePath,
		Title:         params.Title,
		ThreadID:      params.ThreadID,
		Status:        models.SessionStatusActive,
		Config:        params.Config,
		Scopes:        params.Scopes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	configJSON, err := json.Marshal(sess.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	scopesJSON, err := json.Marshal(scopesOrEmpty(sess.Scopes))
	if err != nil {
		return nil, fmt.Errorf("marshal scopes: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sess.ID, sess.WorkspacePath, sess.Title, sess.ThreadID, string(sess.Status),
		string(configJSON), string(scopesJSON), 0, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return nil, s.mapConstraintErr(err)
	}
	return sess, nil
}

func (s *sqlStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sess, err
}

func (s *sqlStore) ListSessions(ctx context.Context, filterScopes map[string]string) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	// Subset matching happens here rather than in SQL so the same query
	// serves both dialects.
	out := make([]*models.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		if scopesMatch(filterScopes, sess.Scopes) {
			out = append(out, sess)
		}
	}
	return out, rows.Err()
}

func (s *sqlStore) UpdateSession(ctx context.Context, id string, params UpdateSessionParams) (*models.Session, error) {
	// Read-merge-write under one transaction so concurrent updates
	// serialize instead of silently overwriting each other.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`+s.lockClause, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if params.Title != nil {
		sess.Title = *params.Title
	}
	if params.Status != nil {
		sess.Status = *params.Status
	}
	if params.Config != nil {
		sess.Config = sess.Config.Merge(*params.Config)
	}
	sess.UpdatedAt = time.Now().UTC()

	configJSON, err := json.Marshal(sess.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET title = $1, status = $2, config = $3, updated_at = $4 WHERE id = $5`,
		sess.Title, string(sess.Status), string(configJSON), sess.UpdatedAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	return sess, nil
}

func (s *sqlStore) UpdateMessageCount(ctx context.Context, id string, count int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET message_count = $1, updated_at = $2 WHERE id = $3`,
		count, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update message count: %w", err)
	}
	return nil
}

func (s *sqlStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	// Grab the thread ID first so the checkpoint can be removed too.
	var threadID string
	err := s.db.QueryRowContext(ctx,
		`SELECT thread_id FROM sessions WHERE id = $1`, id).Scan(&threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	n, _ := res.RowsAffected()

	// Checkpoint removal is lazy; a leftover blob is harmless.
	_, _ = s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = $1`, threadID)
	return n > 0, nil
}

func (s *sqlStore) PurgeSessionsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	// Checkpoints first, while the doomed sessions are still selectable.
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE thread_id IN
		   (SELECT thread_id FROM sessions WHERE updated_at < $1)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ────────────────────────────────────────────────────────────
// Messages
// ────────────────────────────────────────────────────────────

func (s *sqlStore) CreateMessage(ctx context.Context, params CreateMessageParams) (*models.Message, error) {
	msg := &models.Message{
		ID:         params.ID,
		SessionID:  params.SessionID,
		Role:       params.Role,
		Content:    params.Content,
		ParentID:   params.ParentID,
		ToolCalls:  params.ToolCalls,
		ToolCallID: params.ToolCallID,
		TokenCount: params.TokenCount,
		ModelUsed:  params.ModelUsed,
		Metadata:   params.Metadata,
		CreatedAt:  time.Now().UTC(),
	}

	toolCallsJSON, err := marshalNullable(msg.ToolCalls != nil, msg.ToolCalls)
	if err != nil {
		return nil, fmt.Errorf("marshal tool calls: %w", err)
	}
	metadataJSON, err := marshalNullable(msg.Metadata != nil, msg.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, msg.ParentID,
		toolCallsJSON, msg.ToolCallID, msg.TokenCount, msg.ModelUsed, metadataJSON, msg.CreatedAt,
	)
	if err != nil {
		return nil, s.mapConstraintErr(err)
	}
	return msg, nil
}

func (s *sqlStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return msg, err
}

func (s *sqlStore) ListMessages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	msgs, _, err := s.GetMessagesBySession(ctx, sessionID, -1, 0)
	return msgs, err
}

func (s *sqlStore) GetMessagesBySession(ctx context.Context, sessionID string, limit, offset int) ([]*models.Message, int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = $1`, sessionID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}
	if limit == 0 {
		return []*models.Message{}, total, nil
	}

	query := `SELECT ` + messageColumns + ` FROM messages
		 WHERE session_id = $1 ORDER BY created_at ASC, id ASC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	} else if offset > 0 {
		query += ` LIMIT -1 OFFSET $2`
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, msg)
	}
	return out, total, rows.Err()
}

func (s *sqlStore) DeleteMessagesForSession(ctx context.Context, sessionID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ────────────────────────────────────────────────────────────
// Checkpoints
// ────────────────────────────────────────────────────────────

func (s *sqlStore) Checkpointer() CheckpointSaver {
	return &sqlCheckpointer{store: s}
}

type sqlCheckpointer struct {
	store *sqlStore
}

func (c *sqlCheckpointer) Put(ctx context.Context, threadID string, state []byte) error {
	_, err := c.store.db.ExecContext(ctx,
		`INSERT INTO checkpoints (thread_id, state, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (thread_id) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		threadID, state, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	return nil
}

func (c *sqlCheckpointer) Get(ctx context.Context, threadID string) ([]byte, error) {
	var state []byte
	err := c.store.db.QueryRowContext(ctx,
		`SELECT state FROM checkpoints WHERE thread_id = $1`, threadID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return state, nil
}

func (c *sqlCheckpointer) Delete(ctx context.Context, threadID string) error {
	_, err := c.store.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE thread_id = $1`, threadID)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// ────────────────────────────────────────────────────────────
// Row scanning and error mapping
// ────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var status, configJSON, scopesJSON string
	err := row.Scan(
		&sess.ID, &sess.WorkspacePath, &sess.Title, &sess.ThreadID, &status,
		&configJSON, &scopesJSON, &sess.MessageCount, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.Status = models.SessionStatus(status)
	if err := json.Unmarshal([]byte(configJSON), &sess.Config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := json.Unmarshal([]byte(scopesJSON), &sess.Scopes); err != nil {
		return nil, fmt.Errorf("decode scopes: %w", err)
	}
	if len(sess.Scopes) == 0 {
		sess.Scopes = nil
	}
	return &sess, nil
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var msg models.Message
	var role string
	var toolCallsJSON, metadataJSON sql.NullString
	err := row.Scan(
		&msg.ID, &msg.SessionID, &role, &msg.Content, &msg.ParentID,
		&toolCallsJSON, &msg.ToolCallID, &msg.TokenCount, &msg.ModelUsed,
		&metadataJSON, &msg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}
	msg.Role = models.Role(role)
	if toolCallsJSON.Valid {
		if err := json.Unmarshal([]byte(toolCallsJSON.String), &msg.ToolCalls); err != nil {
			return nil, fmt.Errorf("decode tool calls: %w", err)
		}
	}
	if metadataJSON.Valid {
		if err := json.Unmarshal([]byte(metadataJSON.String), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &msg, nil
}

// mapConstraintErr translates driver-specific constraint violations into the
// storage sentinel errors.
func (s *sqlStore) mapConstraintErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrAlreadyExists
		case "23503":
			return ErrForeignKey
		}
	}
	var sqErr *sqlitedrv.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return ErrAlreadyExists
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return ErrForeignKey
		}
	}
	return err
}

func scopesOrEmpty(scopes map[string]string) map[string]string {
	if scopes == nil {
		return map[string]string{}
	}
	return scopes
}

// marshalNullable returns SQL NULL when present is false.
func marshalNullable(present bool, v any) (any, error) {
	if !present {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
