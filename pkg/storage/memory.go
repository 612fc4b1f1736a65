package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cognition-ai/cognition/pkg/models"
)

// MemoryBackend keeps everything in process memory. It exists for tests and
// for running the server without any persistence; data is lost on restart.
type MemoryBackend struct {
	mu          sync.RWMutex
	sessions    map[string]*models.Session
	messages    map[string]*models.Message
	checkpoints map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		sessions:    make(map[string]*models.Session),
		messages:    make(map[string]*models.Message),
		checkpoints: make(map[string][]byte),
	}
}

func (b *MemoryBackend) Initialize(context.Context) error  { return nil }
func (b *MemoryBackend) Close() error                      { return nil }
func (b *MemoryBackend) HealthCheck(context.Context) error { return nil }

func (b *MemoryBackend) CreateSession(_ context.Context, params CreateSessionParams) (*models.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.sessions[params.ID]; ok {
		return nil, ErrAlreadyExists
	}

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
	b.sessions[sess.ID] = sess
	return sess.Clone(), nil
}

func (b *MemoryBackend) GetSession(_ context.Context, id string) (*models.Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sessions[id].Clone(), nil
}

func (b *MemoryBackend) ListSessions(_ context.Context, filterScopes map[string]string) ([]*models.Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*models.Session, 0, len(b.sessions))
	for _, sess := range b.sessions {
		if scopesMatch(filterScopes, sess.Scopes) {
			out = append(out, sess.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (b *MemoryBackend) UpdateSession(_ context.Context, id string, params UpdateSessionParams) (*models.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sess, ok := b.sessions[id]
	if !ok {
		return nil, nil
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
	return sess.Clone(), nil
}

func (b *MemoryBackend) UpdateMessageCount(_ context.Context, id string, count int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sess, ok := b.sessions[id]; ok {
		sess.MessageCount = count
		sess.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (b *MemoryBackend) DeleteSession(_ context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sess, ok := b.sessions[id]
	if !ok {
		return false, nil
	}
	delete(b.sessions, id)
	for msgID, msg := range b.messages {
		if msg.SessionID == id {
			delete(b.messages, msgID)
		}
	}
	delete(b.checkpoints, sess.ThreadID)
	return true, nil
}

func (b *MemoryBackend) PurgeSessionsBefore(_ context.Context, cutoff time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	purged := 0
	for id, sess := range b.sessions {
		if !sess.UpdatedAt.Before(cutoff) {
			continue
		}
		delete(b.sessions, id)
		for msgID, msg := range b.messages {
			if msg.SessionID == id {
				delete(b.messages, msgID)
			}
		}
		delete(b.checkpoints, sess.ThreadID)
		purged++
	}
	return purged, nil
}

func (b *MemoryBackend) CreateMessage(_ context.Context, params CreateMessageParams) (*models.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.sessions[params.SessionID]; !ok {
		return nil, ErrForeignKey
	}

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
	b.messages[msg.ID] = msg
	return msg.Clone(), nil
}

func (b *MemoryBackend) GetMessage(_ context.Context, id string) (*models.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.messages[id].Clone(), nil
}

func (b *MemoryBackend) ListMessages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	msgs, _, err := b.GetMessagesBySession(ctx, sessionID, -1, 0)
	return msgs, err
}

func (b *MemoryBackend) GetMessagesBySession(_ context.Context, sessionID string, limit, offset int) ([]*models.Message, int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	all := make([]*models.Message, 0)
	for _, msg := range b.messages {
		if msg.SessionID == sessionID {
			all = append(all, msg)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return []*models.Message{}, total, nil
	}
	all = all[offset:]
	if limit >= 0 && limit < len(all) {
		all = all[:limit]
	}

	out := make([]*models.Message, len(all))
	for i, msg := range all {
		out[i] = msg.Clone()
	}
	return out, total, nil
}

func (b *MemoryBackend) DeleteMessagesForSession(_ context.Context, sessionID string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	deleted := 0
	for id, msg := range b.messages {
		if msg.SessionID == sessionID {
			delete(b.messages, id)
			deleted++
		}
	}
	return deleted, nil
}

func (b *MemoryBackend) Checkpointer() CheckpointSaver {
	return (*memoryCheckpointer)(b)
}

type memoryCheckpointer MemoryBackend

func (c *memoryCheckpointer) Put(_ context.Context, threadID string, state []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkpoints[threadID] = append([]byte(nil), state...)
	return nil
}

func (c *memoryCheckpointer) Get(_ context.Context, threadID string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state, ok := c.checkpoints[threadID]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), state...), nil
}

func (c *memoryCheckpointer) Delete(_ context.Context, threadID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checkpoints, threadID)
	return nil
}
