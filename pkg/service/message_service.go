// Package service orchestrates turns: admission, persistence, driving the
// agent, and fanning events out to the stream buffer and storage.
package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/cognition-ai/cognition/pkg/agent"
	"github.com/cognition-ai/cognition/pkg/masking"
	"github.com/cognition-ai/cognition/pkg/models"
	"github.com/cognition-ai/cognition/pkg/ratelimit"
	"github.com/cognition-ai/cognition/pkg/scope"
	"github.com/cognition-ai/cognition/pkg/session"
	"github.com/cognition-ai/cognition/pkg/storage"
	"github.com/cognition-ai/cognition/pkg/stream"
)

// maxTitleRunes bounds the session title derived from the first message.
const maxTitleRunes = 80

// SandboxFactory builds the workspace capability handle for one session.
type SandboxFactory func(workspacePath string) agent.Sandbox

// Config tunes the message service.
type Config struct {
	// BufferCapacity is the per-turn event buffer bound.
	BufferCapacity int

	// MaxActiveTurns bounds concurrently running turns across all sessions.
	// Zero means unlimited.
	MaxActiveTurns int

	// Masker redacts secrets from content before it is stored. Nil disables
	// masking. The live stream and the model both see unmasked content.
	Masker *masking.Service
}

// activeTurn is the registry entry for one running turn.
type activeTurn struct {
	sessionID string
	buffer    *stream.Buffer
	cancel    context.CancelFunc
	done      chan struct{}
}

// TurnHandle is what the HTTP layer streams from after SendMessage admits a
// turn.
type TurnHandle struct {
	SessionID string
	Buffer    *stream.Buffer

	// Done closes once the turn has fully finished, including persistence.
	Done <-chan struct{}
}

// MessageService runs turns end to end. One instance serves the whole
// process; per-session serialization is strict, a second concurrent turn on
// the same session is rejected with ErrConflict.
type MessageService struct {
	store    storage.Backend
	sessions *session.Manager
	limiter  *ratelimit.Limiter
	scopes   *scope.Harness
	clients  map[string]agent.ModelClient
	defaults agent.Defaults
	sandbox  SandboxFactory
	cfg      Config
	logger   *slog.Logger

	mu    sync.Mutex
	turns map[string]*activeTurn
	// lastBuffers keeps the most recent finished buffer per session so a
	// client can still resume after the producer has exited.
	lastBuffers map[string]*stream.Buffer
	stopped     bool
}

// NewMessageService wires the turn orchestrator.
func NewMessageService(
	store storage.Backend,
	sessions *session.Manager,
	limiter *ratelimit.Limiter,
	scopes *scope.Harness,
	clients map[string]agent.ModelClient,
	defaults agent.Defaults,
	sandbox SandboxFactory,
	cfg Config,
	logger *slog.Logger,
) *MessageService {
	return &MessageService{
		store:       store,
		sessions:    sessions,
		limiter:     limiter,
		scopes:      scopes,
		clients:     clients,
		defaults:    defaults,
		sandbox:     sandbox,
		cfg:         cfg,
		logger:      logger.With("component", "messages"),
		turns:       make(map[string]*activeTurn),
		lastBuffers: make(map[string]*stream.Buffer),
	}
}

// ActiveTurns reports the number of currently running turns.
func (s *MessageService) ActiveTurns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// SendMessage admits and starts one turn. On return the user message is
// persisted and the driver is running; the caller streams from the handle's
// buffer. The turn itself runs on a detached context so a departing client
// does not lose the turn's persistence.
func (s *MessageService) SendMessage(ctx context.Context, sessionID, content, parentID string, caller scope.Scope) (*TurnHandle, error) {
	if content == "" {
		return nil, NewValidationError("content", "must not be empty")
	}

	sess, err := s.sessions.Get(ctx, sessionID, caller)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotFound
	}

	key := s.scopes.PrincipalKey(caller, sessionID)
	if err := s.limiter.CheckRateLimit(key); err != nil {
		return nil, err
	}

	// Detached from the request: client disconnect cancels via the turn
	// handle, not by killing this context. Created before registration so
	// the turn is never visible without its cancel func.
	runCtx, cancel := context.WithCancel(context.Background())

	turn, err := s.registerTurn(sessionID, cancel)
	if err != nil {
		cancel()
		return nil, err
	}

	storedContent := s.cfg.Masker.MaskContent(content)
	userMsg, err := s.store.CreateMessage(ctx, storage.CreateMessageParams{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   storedContent,
		ParentID:  parentID,
	})
	if err != nil {
		cancel()
		s.unregisterTurn(turn, false)
		return nil, err
	}
	s.refreshSessionAfterMessage(ctx, sess, storedContent)

	client, ok := s.clients[resolvedProvider(s.defaults, sess.Config)]
	if !ok {
		cancel()
		s.unregisterTurn(turn, false)
		return nil, NewValidationError("config.provider", "unknown provider")
	}

	cfg := agent.ResolveConfig(s.defaults, sess.Config)
	executor := agent.NewSandboxToolExecutor(s.sandbox(sess.WorkspacePath))
	driver := agent.NewDriver(client, executor, s.store.Checkpointer(), cfg, s.logger)

	events := driver.Run(runCtx, sess.ThreadID, content)
	go s.fanOut(turn, sess, cfg, userMsg.ID, events)

	s.logger.Info("Turn started",
		"session_id", sessionID, "provider", cfg.Provider, "model", cfg.Model)

	return &TurnHandle{SessionID: sessionID, Buffer: turn.buffer, Done: turn.done}, nil
}

// registerTurn admits a turn into the registry. The cancel func is stored
// before the turn becomes visible, so CancelTurn and Shutdown never observe
// a half-initialized entry.
func (s *MessageService) registerTurn(sessionID string, cancel context.CancelFunc) (*activeTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, ErrShuttingDown
	}
	if _, active := s.turns[sessionID]; active {
		return nil, ErrConflict
	}
	if s.cfg.MaxActiveTurns > 0 && len(s.turns) >= s.cfg.MaxActiveTurns {
		return nil, ErrResourceExhausted
	}

	turn := &activeTurn{
		sessionID: sessionID,
		buffer:    stream.NewBuffer(s.cfg.BufferCapacity),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.turns[sessionID] = turn
	return turn, nil
}

// unregisterTurn removes the turn from the registry. When keepBuffer is set
// the buffer stays available for post-completion resume.
func (s *MessageService) unregisterTurn(turn *activeTurn, keepBuffer bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.turns[turn.sessionID] == turn {
		delete(s.turns, turn.sessionID)
	}
	if keepBuffer {
		s.lastBuffers[turn.sessionID] = turn.buffer
	}
}

// fanOut consumes the driver's events, forwarding each to the wire buffer
// and to storage. It always drains the channel; mid-turn storage failures
// are logged and the stream continues, because the client already holds the
// tokens.
func (s *MessageService) fanOut(turn *activeTurn, sess *models.Session, cfg agent.TurnConfig, userMsgID string, events <-chan agent.Event) {
	ctx := context.Background()

	var assistantText []byte
	var toolCalls []models.ToolCall
	var usage *agent.UsageEvent
	var turnErr *agent.ErrorEvent

	for ev := range events {
		switch e := ev.(type) {
		case agent.TokenEvent:
			assistantText = append(assistantText, e.Content...)
			turn.buffer.Publish(stream.EventToken, map[string]any{"content": e.Content})

		case agent.ToolCallEvent:
			toolCalls = append(toolCalls, models.ToolCall{Name: e.Name, Args: e.Args, ID: e.ID})
			turn.buffer.Publish(stream.EventToolCall, map[string]any{
				"name": e.Name, "args": e.Args, "id": e.ID,
			})

		case agent.ToolResultEvent:
			s.persistToolResult(ctx, sess.ID, userMsgID, e)
			turn.buffer.Publish(stream.EventToolResult, map[string]any{
				"tool_call_id": e.ToolCallID, "output": e.Output, "exit_code": e.ExitCode,
			})

		case agent.UsageEvent:
			usage = &e
			turn.buffer.Publish(stream.EventUsage, map[string]any{
				"input_tokens": e.InputTokens, "output_tokens": e.OutputTokens,
				"estimated_cost": e.EstimatedCost, "provider": e.Provider, "model": e.Model,
			})

		case agent.PlanningEvent:
			turn.buffer.Publish(stream.EventPlanning, map[string]any{"todos": e.Todos})

		case agent.StatusEvent:
			turn.buffer.Publish(stream.EventStatus, map[string]any{"status": e.Status})

		case agent.StepCompleteEvent:
			turn.buffer.Publish(stream.EventStepComplete, map[string]any{
				"step_number": e.StepNumber, "total_steps": e.TotalSteps, "description": e.Description,
			})

		case agent.ErrorEvent:
			turnErr = &e
			data := map[string]any{"message": e.Message}
			if e.Code != "" {
				data["code"] = e.Code
			}
			turn.buffer.Publish(stream.EventError, data)

		case agent.DoneEvent:
			turn.buffer.Publish(stream.EventDone, map[string]any{})
		}
	}

	s.persistAssistant(ctx, sess, cfg, userMsgID, string(assistantText), toolCalls, usage, turnErr)

	turn.buffer.Close()
	s.unregisterTurn(turn, true)
	close(turn.done)

	s.logger.Info("Turn finished", "session_id", sess.ID,
		"interrupted", turnErr != nil && turnErr.Code == agent.ErrorCodeCancelled)
}

func (s *MessageService) persistToolResult(ctx context.Context, sessionID, userMsgID string, e agent.ToolResultEvent) {
	_, err := s.store.CreateMessage(ctx, storage.CreateMessageParams{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Role:       models.RoleTool,
		Content:    s.cfg.Masker.MaskContent(e.Output),
		ParentID:   userMsgID,
		ToolCallID: e.ToolCallID,
		Metadata:   map[string]any{"exit_code": e.ExitCode},
	})
	if err != nil {
		s.logger.Error("Tool result persistence failed",
			"session_id", sessionID, "tool_call_id", e.ToolCallID, "error", err)
	}
}

func (s *MessageService) persistAssistant(ctx context.Context, sess *models.Session, cfg agent.TurnConfig, userMsgID, content string, toolCalls []models.ToolCall, usage *agent.UsageEvent, turnErr *agent.ErrorEvent) {
	metadata := map[string]any{"status": "complete"}
	if turnErr != nil {
		if turnErr.Code == agent.ErrorCodeCancelled {
			metadata["status"] = "interrupted"
		} else {
			metadata["status"] = "error"
		}
		metadata["error"] = turnErr.Message
	}

	tokenCount := 0
	if usage != nil {
		tokenCount = usage.OutputTokens
		metadata["input_tokens"] = usage.InputTokens
		metadata["estimated_cost"] = usage.EstimatedCost
	}

	_, err := s.store.CreateMessage(ctx, storage.CreateMessageParams{
		ID:         uuid.NewString(),
		SessionID:  sess.ID,
		Role:       models.RoleAssistant,
		Content:    s.cfg.Masker.MaskContent(content),
		ParentID:   userMsgID,
		ToolCalls:  toolCalls,
		TokenCount: tokenCount,
		ModelUsed:  cfg.Model,
		Metadata:   metadata,
	})
	if err != nil {
		s.logger.Error("Assistant message persistence failed",
			"session_id", sess.ID, "error", err)
		return
	}

	if _, total, err := s.store.GetMessagesBySession(ctx, sess.ID, 0, 0); err == nil {
		if err := s.sessions.RecordMessageCount(ctx, sess.ID, total); err != nil {
			s.logger.Warn("Message count update failed", "session_id", sess.ID, "error", err)
		}
	}
}

// refreshSessionAfterMessage bumps the message count and fills an empty
// title from the first user message.
func (s *MessageService) refreshSessionAfterMessage(ctx context.Context, sess *models.Session, content string) {
	if _, total, err := s.store.GetMessagesBySession(ctx, sess.ID, 0, 0); err == nil {
		if err := s.sessions.RecordMessageCount(ctx, sess.ID, total); err != nil {
			s.logger.Warn("Message count update failed", "session_id", sess.ID, "error", err)
		}
	}

	if sess.Title == "" {
		title := deriveTitle(content)
		if _, err := s.sessions.Update(ctx, sess.ID, nil, storage.UpdateSessionParams{Title: &title}); err != nil {
			s.logger.Warn("Title autofill failed", "session_id", sess.ID, "error", err)
		}
	}
}

// Resume reattaches a client to a session's stream. It returns the replay
// tail after lastEventID plus a live channel; when the turn has already
// finished the live channel is closed and only replay remains.
func (s *MessageService) Resume(ctx context.Context, sessionID, lastEventID string, caller scope.Scope) ([]stream.Event, <-chan stream.Event, func(), error) {
	sess, err := s.sessions.Get(ctx, sessionID, caller)
	if err != nil {
		return nil, nil, nil, err
	}
	if sess == nil {
		return nil, nil, nil, ErrNotFound
	}

	s.mu.Lock()
	var buf *stream.Buffer
	if turn, ok := s.turns[sessionID]; ok {
		buf = turn.buffer
	} else if last, ok := s.lastBuffers[sessionID]; ok {
		buf = last
	}
	s.mu.Unlock()

	if buf == nil {
		return nil, nil, nil, ErrNotFound
	}
	replay, live, cancel := buf.Subscribe(lastEventID)
	return replay, live, cancel, nil
}

// Abort cancels the session's active turn. It succeeds even when no turn is
// running; only an invisible session yields ErrNotFound. Termination of the
// stream is asynchronous: the driver drains through the cancelled path and
// the buffer closes once the final events are flushed.
func (s *MessageService) Abort(ctx context.Context, sessionID string, caller scope.Scope) error {
	sess, err := s.sessions.Get(ctx, sessionID, caller)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrNotFound
	}
	s.CancelTurn(sessionID)
	return nil
}

// CancelTurn signals the session's active turn to stop. Returns false when
// no turn is running.
func (s *MessageService) CancelTurn(sessionID string) bool {
	s.mu.Lock()
	turn, ok := s.turns[sessionID]
	s.mu.Unlock()

	if !ok {
		return false
	}
	turn.cancel()
	return true
}

// GetMessages lists a visible session's messages with stable pagination.
func (s *MessageService) GetMessages(ctx context.Context, sessionID string, caller scope.Scope, limit, offset int) ([]*models.Message, int, error) {
	sess, err := s.sessions.Get(ctx, sessionID, caller)
	if err != nil {
		return nil, 0, err
	}
	if sess == nil {
		return nil, 0, ErrNotFound
	}
	return s.store.GetMessagesBySession(ctx, sessionID, limit, offset)
}

// Shutdown stops admission, cancels all active turns, and waits for their
// persistence to finish or ctx to expire.
func (s *MessageService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	active := make([]*activeTurn, 0, len(s.turns))
	for _, turn := range s.turns {
		active = append(active, turn)
	}
	s.mu.Unlock()

	for _, turn := range active {
		turn.cancel()
	}
	for _, turn := range active {
		select {
		case <-turn.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// ──── session lifecycle callbacks ────

func (s *MessageService) OnSessionCreated(context.Context, *models.Session) error { return nil }

func (s *MessageService) OnSessionUpdated(context.Context, *models.Session) error { return nil }

// OnSessionDeleted tears down turn state when a session goes away.
func (s *MessageService) OnSessionDeleted(_ context.Context, sessionID, _ string) error {
	s.CancelTurn(sessionID)
	s.mu.Lock()
	delete(s.lastBuffers, sessionID)
	s.mu.Unlock()
	return nil
}

func resolvedProvider(defaults agent.Defaults, cfg models.SessionConfig) string {
	if cfg.Provider != nil {
		return *cfg.Provider
	}
	return defaults.Provider
}

// deriveTitle takes the leading runes of the first user message, cut at a
// newline.
func deriveTitle(content string) string {
	for i, r := range content {
		if r == '\n' {
			content = content[:i]
			break
		}
	}
	runes := []rune(content)
	if len(runes) > maxTitleRunes {
		runes = runes[:maxTitleRunes]
	}
	return string(runes)
}
