// Package session provides session lifecycle management: a cached facade
// over the storage backend with ID generation and lifecycle callbacks.
package session

import (
	"container/list"
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/cognition-ai/cognition/pkg/models"
	"github.com/cognition-ai/cognition/pkg/scope"
	"github.com/cognition-ai/cognition/pkg/storage"
)

// DefaultCacheSize bounds the in-process session cache.
const DefaultCacheSize = 128

// Listener receives lifecycle notifications after the underlying storage
// call has succeeded. Errors are logged and never roll back the change.
type Listener interface {
	OnSessionCreated(ctx context.Context, sess *models.Session) error
	OnSessionUpdated(ctx context.Context, sess *models.Session) error
	OnSessionDeleted(ctx context.Context, sessionID, threadID string) error
}

// CreateParams are the caller-supplied fields of a new session. IDs are
// generated by the manager.
type CreateParams struct {
	WorkspacePath string
	Title         string
	Config        models.SessionConfig
	Scopes        map[string]string
}

// SessionContext binds a session to the identity it was resolved under, for
// handing to the agent layer.
type SessionContext struct {
	Session *models.Session
	UserID  string
	OrgID   string
}

// Manager is the session lifecycle facade. Reads hit a bounded LRU cache;
// writes go through to storage first and then refresh the cache.
type Manager struct {
	store     storage.Backend
	logger    *slog.Logger
	listeners []Listener

	mu        sync.Mutex
	cache     map[string]*list.Element
	lru       *list.List // front = most recently used
	cacheSize int
}

type cacheEntry struct {
	id   string
	sess *models.Session
}

// NewManager creates a manager over store with the given cache bound.
// cacheSize <= 0 selects DefaultCacheSize.
func NewManager(store storage.Backend, cacheSize int, logger *slog.Logger) *Manager {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	return &Manager{
		store:     store,
		logger:    logger.With("component", "session"),
		cache:     make(map[string]*list.Element),
		lru:       list.New(),
		cacheSize: cacheSize,
	}
}

// AddListener registers a lifecycle listener. Not safe to call after the
// manager is in use.
func (m *Manager) AddListener(l Listener) {
	m.listeners = append(m.listeners, l)
}

// Create stores a new session with generated session and thread IDs and
// returns it.
func (m *Manager) Create(ctx context.Context, params CreateParams) (*models.Session, error) {
	sess, err := m.store.CreateSession(ctx, storage.CreateSessionParams{
		ID:            uuid.NewString(),
		ThreadID:      uuid.NewString(),
		WorkspacePath: params.WorkspacePath,
		Title:         params.Title,
		Config:        params.Config,
		Scopes:        params.Scopes,
	})
	if err != nil {
		return nil, err
	}
	m.cachePut(sess)

	for _, l := range m.listeners {
		if err := l.OnSessionCreated(ctx, sess); err != nil {
			m.logger.Error("Session created callback failed",
				"session_id", sess.ID, "error", err)
		}
	}
	return sess, nil
}

// Get returns the session, or nil when it does not exist or its scopes do
// not subset-match filter. A cached session whose scopes fail the filter is
// treated as absent without consulting storage.
func (m *Manager) Get(ctx context.Context, id string, filter scope.Scope) (*models.Session, error) {
	if sess := m.cacheGet(id); sess != nil {
		if !filter.Matches(sess.Scopes) {
			return nil, nil
		}
		return sess, nil
	}

	sess, err := m.store.GetSession(ctx, id)
	if err != nil || sess == nil {
		return nil, err
	}
	m.cachePut(sess)
	if !filter.Matches(sess.Scopes) {
		return nil, nil
	}
	return sess, nil
}

// List returns sessions visible under filter, most recently updated first.
func (m *Manager) List(ctx context.Context, filter scope.Scope) ([]*models.Session, error) {
	return m.store.ListSessions(ctx, filter)
}

// Update applies the patch to a session visible under filter. Returns nil
// when the session is absent or out of scope.
func (m *Manager) Update(ctx context.Context, id string, filter scope.Scope, params storage.UpdateSessionParams) (*models.Session, error) {
	existing, err := m.Get(ctx, id, filter)
	if err != nil || existing == nil {
		return nil, err
	}

	sess, err := m.store.UpdateSession(ctx, id, params)
	if err != nil || sess == nil {
		return nil, err
	}
	m.cachePut(sess)

	for _, l := range m.listeners {
		if err := l.OnSessionUpdated(ctx, sess); err != nil {
			m.logger.Error("Session updated callback failed",
				"session_id", sess.ID, "error", err)
		}
	}
	return sess, nil
}

// RecordMessageCount persists the session's message count and refreshes the
// cached copy.
func (m *Manager) RecordMessageCount(ctx context.Context, id string, count int) error {
	if err := m.store.UpdateMessageCount(ctx, id, count); err != nil {
		return err
	}
	if sess, err := m.store.GetSession(ctx, id); err == nil && sess != nil {
		m.cachePut(sess)
	}
	return nil
}

// Delete removes a session visible under filter, cascading to its messages
// and checkpoint. Returns false when the session is absent or out of scope.
func (m *Manager) Delete(ctx context.Context, id string, filter scope.Scope) (bool, error) {
	existing, err := m.Get(ctx, id, filter)
	if err != nil || existing == nil {
		return false, err
	}

	deleted, err := m.store.DeleteSession(ctx, id)
	if err != nil {
		return false, err
	}
	m.cacheEvict(id)
	if !deleted {
		return false, nil
	}

	for _, l := range m.listeners {
		if err := l.OnSessionDeleted(ctx, id, existing.ThreadID); err != nil {
			m.logger.Error("Session deleted callback failed",
				"session_id", id, "error", err)
		}
	}
	return true, nil
}

// CreateContext resolves a session unscoped and binds the given identity to
// it. Returns nil when the session does not exist.
func (m *Manager) CreateContext(ctx context.Context, sessionID, userID, orgID string) (*SessionContext, error) {
	sess, err := m.Get(ctx, sessionID, nil)
	if err != nil || sess == nil {
		return nil, err
	}
	return &SessionContext{Session: sess, UserID: userID, OrgID: orgID}, nil
}

// ──── cache ────

func (m *Manager) cacheGet(id string) *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.cache[id]
	if !ok {
		return nil
	}
	m.lru.MoveToFront(elem)
	return elem.Value.(*cacheEntry).sess.Clone()
}

func (m *Manager) cachePut(sess *models.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.cache[sess.ID]; ok {
		elem.Value.(*cacheEntry).sess = sess.Clone()
		m.lru.MoveToFront(elem)
		return
	}
	m.cache[sess.ID] = m.lru.PushFront(&cacheEntry{id: sess.ID, sess: sess.Clone()})
	for m.lru.Len() > m.cacheSize {
		oldest := m.lru.Back()
		m.lru.Remove(oldest)
		delete(m.cache, oldest.Value.(*cacheEntry).id)
	}
}

func (m *Manager) cacheEvict(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.cache[id]; ok {
		m.lru.Remove(elem)
		delete(m.cache, id)
	}
}
