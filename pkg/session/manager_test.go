package session

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognition-ai/cognition/pkg/models"
	"github.com/cognition-ai/cognition/pkg/scope"
	"github.com/cognition-ai/cognition/pkg/storage"
)

type recordingListener struct {
	created []string
	updated []string
	deleted []string
	fail    bool
}

func (r *recordingListener) OnSessionCreated(_ context.Context, s *models.Session) error {
	r.created = append(r.created, s.ID)
	if r.fail {
		return errors.New("listener boom")
	}
	return nil
}

func (r *recordingListener) OnSessionUpdated(_ context.Context, s *models.Session) error {
	r.updated = append(r.updated, s.ID)
	return nil
}

func (r *recordingListener) OnSessionDeleted(_ context.Context, sessionID, _ string) error {
	r.deleted = append(r.deleted, sessionID)
	return nil
}

func newTestManager(t *testing.T, cacheSize int) (*Manager, storage.Backend) {
	t.Helper()
	store := storage.NewMemoryBackend()
	return NewManager(store, cacheSize, slog.Default()), store
}

func TestCreate(t *testing.T) {
	m, _ := newTestManager(t, 0)
	ctx := context.Background()

	sess, err := m.Create(ctx, CreateParams{
		WorkspacePath: "/work/app",
		Title:         "build pipeline",
		Scopes:        map[string]string{"user": "alice"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.NotEmpty(t, sess.ThreadID)
	assert.NotEqual(t, sess.ID, sess.ThreadID)
	assert.Equal(t, models.SessionStatusActive, sess.Status)
}

func TestGetScopeFiltering(t *testing.T) {
	m, _ := newTestManager(t, 0)
	ctx := context.Background()

	sess, err := m.Create(ctx, CreateParams{
		WorkspacePath: "/w",
		Scopes:        map[string]string{"user": "alice"},
	})
	require.NoError(t, err)

	t.Run("matching scope", func(t *testing.T) {
		got, err := m.Get(ctx, sess.ID, scope.Scope{"user": "alice"})
		require.NoError(t, err)
		require.NotNil(t, got)
	})

	t.Run("mismatched scope behaves as absent", func(t *testing.T) {
		got, err := m.Get(ctx, sess.ID, scope.Scope{"user": "bob"})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("unscoped read sees everything", func(t *testing.T) {
		got, err := m.Get(ctx, sess.ID, nil)
		require.NoError(t, err)
		require.NotNil(t, got)
	})

	t.Run("scope check applies to cached entries", func(t *testing.T) {
		// Prime the cache, then read with the wrong scope.
		_, err := m.Get(ctx, sess.ID, nil)
		require.NoError(t, err)
		got, err := m.Get(ctx, sess.ID, scope.Scope{"user": "mallory"})
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestUpdate(t *testing.T) {
	m, store := newTestManager(t, 0)
	ctx := context.Background()

	sess, err := m.Create(ctx, CreateParams{
		WorkspacePath: "/w",
		Scopes:        map[string]string{"user": "alice"},
	})
	require.NoError(t, err)

	title := "renamed"
	updated, err := m.Update(ctx, sess.ID, scope.Scope{"user": "alice"}, storage.UpdateSessionParams{Title: &title})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, "renamed", updated.Title)

	// Out-of-scope update does not touch the row.
	other := "hijacked"
	updated, err = m.Update(ctx, sess.ID, scope.Scope{"user": "bob"}, storage.UpdateSessionParams{Title: &other})
	require.NoError(t, err)
	assert.Nil(t, updated)

	stored, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", stored.Title)
}

func TestDelete(t *testing.T) {
	m, store := newTestManager(t, 0)
	ctx := context.Background()
	listener := &recordingListener{}
	m.AddListener(listener)

	sess, err := m.Create(ctx, CreateParams{
		WorkspacePath: "/w",
		Scopes:        map[string]string{"user": "alice"},
	})
	require.NoError(t, err)

	deleted, err := m.Delete(ctx, sess.ID, scope.Scope{"user": "bob"})
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = m.Delete(ctx, sess.ID, scope.Scope{"user": "alice"})
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, []string{sess.ID}, listener.deleted)

	got, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	// A second delete is a clean no-op.
	deleted, err = m.Delete(ctx, sess.ID, nil)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestListenerFailureDoesNotRollBack(t *testing.T) {
	m, store := newTestManager(t, 0)
	ctx := context.Background()
	m.AddListener(&recordingListener{fail: true})

	sess, err := m.Create(ctx, CreateParams{WorkspacePath: "/w"})
	require.NoError(t, err)

	got, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestCacheEviction(t *testing.T) {
	m, store := newTestManager(t, 2)
	ctx := context.Background()

	var ids []string
	for range 3 {
		sess, err := m.Create(ctx, CreateParams{WorkspacePath: "/w"})
		require.NoError(t, err)
		ids = append(ids, sess.ID)
	}

	// Capacity 2: the first session fell out of the cache.
	assert.Nil(t, m.cacheGet(ids[0]))
	assert.NotNil(t, m.cacheGet(ids[1]))
	assert.NotNil(t, m.cacheGet(ids[2]))

	// An evicted session is still served from storage.
	got, err := m.Get(ctx, ids[0], nil)
	require.NoError(t, err)
	require.NotNil(t, got)

	// Deleting from storage directly makes a stale cache visible; Delete
	// through the manager evicts.
	deleted, err := m.Delete(ctx, ids[2], nil)
	require.NoError(t, err)
	require.True(t, deleted)
	assert.Nil(t, m.cacheGet(ids[2]))

	_, err = store.GetSession(ctx, ids[2])
	require.NoError(t, err)
}

func TestCreateContext(t *testing.T) {
	m, _ := newTestManager(t, 0)
	ctx := context.Background()

	sess, err := m.Create(ctx, CreateParams{WorkspacePath: "/w"})
	require.NoError(t, err)

	sc, err := m.CreateContext(ctx, sess.ID, "alice", "acme")
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.Equal(t, sess.ID, sc.Session.ID)
	assert.Equal(t, "alice", sc.UserID)
	assert.Equal(t, "acme", sc.OrgID)

	sc, err = m.CreateContext(ctx, "missing", "alice", "")
	require.NoError(t, err)
	assert.Nil(t, sc)
}
