package agent

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognition-ai/cognition/pkg/models"
	"github.com/cognition-ai/cognition/pkg/storage"
)

// stubExecutor returns canned output for every tool call.
type stubExecutor struct {
	tools    []ToolDefinition
	executed []ToolCall
}

func (s *stubExecutor) Execute(ctx context.Context, call ToolCall) (*ExecutedTool, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.executed = append(s.executed, call)
	return &ExecutedTool{
		CallID: call.ID,
		Name:   call.Name,
		Output: fmt.Sprintf("[stub] %s", call.Name),
	}, nil
}

func (s *stubExecutor) ListTools() []ToolDefinition { return s.tools }

func testConfig() TurnConfig {
	return TurnConfig{
		Provider:      "scripted",
		Model:         "test-model",
		SystemPrompt:  "You are a coding agent.",
		MaxTokens:     1024,
		MaxIterations: 5,
	}
}

func collect(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func eventTypes(events []Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = fmt.Sprintf("%T", ev)
	}
	return out
}

func TestRunSimpleTextTurn(t *testing.T) {
	client := NewScriptedClient([]Chunk{
		&TextChunk{Content: "Hello"},
		&TextChunk{Content: " world"},
	})
	checkpoints := storage.NewMemoryBackend().Checkpointer()
	d := NewDriver(client, &stubExecutor{}, checkpoints, testConfig(), slog.Default())

	events := collect(d.Run(context.Background(), "thread-1", "hi"))

	var tokens []string
	var sawUsage, sawDone bool
	for _, ev := range events {
		switch e := ev.(type) {
		case TokenEvent:
			tokens = append(tokens, e.Content)
		case UsageEvent:
			sawUsage = true
			assert.Equal(t, "scripted", e.Provider)
			assert.Equal(t, "test-model", e.Model)
			assert.Positive(t, e.OutputTokens)
		case DoneEvent:
			sawDone = true
		case ErrorEvent:
			t.Fatalf("unexpected error event: %+v", e)
		}
	}
	assert.Equal(t, []string{"Hello", " world"}, tokens)
	assert.True(t, sawUsage)
	assert.True(t, sawDone)
	assert.IsType(t, DoneEvent{}, events[len(events)-1], "DoneEvent must be last")

	// The conversation was checkpointed for the next turn.
	blob, err := checkpoints.Get(context.Background(), "thread-1")
	require.NoError(t, err)
	require.NotNil(t, blob)
}

func TestRunToolLoop(t *testing.T) {
	client := NewScriptedClient(
		[]Chunk{
			&TextChunk{Content: "Let me check."},
			&ToolCallChunk{CallID: "tc-1", Name: "bash", Arguments: `{"command":"ls"}`},
		},
		[]Chunk{
			&TextChunk{Content: "All done."},
		},
	)
	exec := &stubExecutor{tools: []ToolDefinition{{Name: "bash"}}}
	d := NewDriver(client, exec, storage.NewMemoryBackend().Checkpointer(), testConfig(), slog.Default())

	events := collect(d.Run(context.Background(), "t", "list files"))

	var toolCalls []ToolCallEvent
	var toolResults []ToolResultEvent
	var steps []StepCompleteEvent
	for _, ev := range events {
		switch e := ev.(type) {
		case ToolCallEvent:
			toolCalls = append(toolCalls, e)
		case ToolResultEvent:
			toolResults = append(toolResults, e)
		case StepCompleteEvent:
			steps = append(steps, e)
		}
	}
	require.Len(t, toolCalls, 1, "events: %v", eventTypes(events))
	assert.Equal(t, "bash", toolCalls[0].Name)
	assert.Equal(t, "tc-1", toolCalls[0].ID)
	require.Len(t, toolResults, 1)
	assert.Equal(t, "tc-1", toolResults[0].ToolCallID)
	require.Len(t, steps, 1)
	assert.Equal(t, 1, steps[0].StepNumber)

	// The second model call sees the assistant's tool call and the tool
	// result.
	require.Len(t, client.Calls, 2)
	second := client.Calls[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, "user", second[0].Role)
	assert.Equal(t, "assistant", second[1].Role)
	require.Len(t, second[1].ToolCalls, 1)
	assert.Equal(t, "tool", second[2].Role)
	assert.Equal(t, "tc-1", second[2].ToolCallID)
}

func TestRunMintsMissingToolCallID(t *testing.T) {
	client := NewScriptedClient(
		[]Chunk{&ToolCallChunk{Name: "bash", Arguments: `{}`}},
		[]Chunk{&TextChunk{Content: "ok"}},
	)
	d := NewDriver(client, &stubExecutor{}, storage.NewMemoryBackend().Checkpointer(), testConfig(), slog.Default())

	events := collect(d.Run(context.Background(), "t", "go"))

	for _, ev := range events {
		if tc, ok := ev.(ToolCallEvent); ok {
			assert.NotEmpty(t, tc.ID)
			return
		}
	}
	t.Fatal("no ToolCallEvent observed")
}

func TestRunPlanningToolEmitsPlanningEvent(t *testing.T) {
	client := NewScriptedClient(
		[]Chunk{&ToolCallChunk{
			CallID:    "tc-1",
			Name:      PlanningToolName,
			Arguments: `{"todos":[{"content":"read code","status":"in_progress"}]}`,
		}},
		[]Chunk{&TextChunk{Content: "done"}},
	)
	exec := &stubExecutor{tools: (&SandboxToolExecutor{}).ListTools()}
	d := NewDriver(client, exec, storage.NewMemoryBackend().Checkpointer(), testConfig(), slog.Default())

	events := collect(d.Run(context.Background(), "t", "plan it"))

	var planning *PlanningEvent
	for _, ev := range events {
		if p, ok := ev.(PlanningEvent); ok {
			planning = &p
		}
	}
	require.NotNil(t, planning)
	require.Len(t, planning.Todos, 1)
	assert.Equal(t, "read code", planning.Todos[0].Content)
	assert.Equal(t, "in_progress", planning.Todos[0].Status)

	// The planning instruction rides on the system prompt when the tool is
	// available.
	require.NotEmpty(t, client.Calls)
	assert.Contains(t, client.Calls[0].SystemPrompt, PlanningToolName)
}

func TestRunProviderErrorTerminates(t *testing.T) {
	client := NewScriptedClient([]Chunk{
		&TextChunk{Content: "partial"},
		&ErrorChunk{Message: "model overloaded", Code: "provider_error"},
	})
	d := NewDriver(client, &stubExecutor{}, storage.NewMemoryBackend().Checkpointer(), testConfig(), slog.Default())

	events := collect(d.Run(context.Background(), "t", "hi"))

	require.GreaterOrEqual(t, len(events), 2)
	errEv, ok := events[len(events)-2].(ErrorEvent)
	require.True(t, ok, "events: %v", eventTypes(events))
	assert.Equal(t, "model overloaded", errEv.Message)
	assert.IsType(t, DoneEvent{}, events[len(events)-1])
}

func TestRunCancellation(t *testing.T) {
	client := NewScriptedClient([]Chunk{
		&TextChunk{Content: "a"},
		&TextChunk{Content: "b"},
		&TextChunk{Content: "c"},
		&TextChunk{Content: "d"},
	})
	client.ChunkDelay = 50 * time.Millisecond
	d := NewDriver(client, &stubExecutor{}, storage.NewMemoryBackend().Checkpointer(), testConfig(), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	ch := d.Run(ctx, "t", "hi")

	time.Sleep(120 * time.Millisecond)
	cancel()

	events := collect(ch)
	require.GreaterOrEqual(t, len(events), 2)
	errEv, ok := events[len(events)-2].(ErrorEvent)
	require.True(t, ok, "events: %v", eventTypes(events))
	assert.Equal(t, ErrorCodeCancelled, errEv.Code)
	assert.IsType(t, DoneEvent{}, events[len(events)-1])
}

func TestRunPrefersExactUsage(t *testing.T) {
	client := NewScriptedClient([]Chunk{
		&TextChunk{Content: "hi"},
		&UsageChunk{InputTokens: 100, OutputTokens: 25},
	})
	d := NewDriver(client, &stubExecutor{}, storage.NewMemoryBackend().Checkpointer(), testConfig(), slog.Default())

	events := collect(d.Run(context.Background(), "t", "hello"))

	for _, ev := range events {
		if u, ok := ev.(UsageEvent); ok {
			assert.Equal(t, 100, u.InputTokens)
			assert.Equal(t, 25, u.OutputTokens)
			return
		}
	}
	t.Fatal("no UsageEvent observed")
}

func TestRunCheckpointContinuity(t *testing.T) {
	checkpoints := storage.NewMemoryBackend().Checkpointer()

	first := NewScriptedClient([]Chunk{&TextChunk{Content: "first answer"}})
	d1 := NewDriver(first, &stubExecutor{}, checkpoints, testConfig(), slog.Default())
	collect(d1.Run(context.Background(), "thread", "first question"))

	second := NewScriptedClient([]Chunk{&TextChunk{Content: "second answer"}})
	d2 := NewDriver(second, &stubExecutor{}, checkpoints, testConfig(), slog.Default())
	collect(d2.Run(context.Background(), "thread", "second question"))

	require.Len(t, second.Calls, 1)
	msgs := second.Calls[0].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "first question", msgs[0].Content)
	assert.Equal(t, "first answer", msgs[1].Content)
	assert.Equal(t, "second question", msgs[2].Content)
}

func TestResolveConfig(t *testing.T) {
	defaults := Defaults{
		Provider:      "anthropic",
		Model:         "claude-sonnet-4-5",
		SystemPrompt:  "default prompt",
		MaxTokens:     4096,
		MaxIterations: 10,
	}

	t.Run("defaults pass through", func(t *testing.T) {
		cfg := ResolveConfig(defaults, models.SessionConfig{})
		assert.Equal(t, "anthropic", cfg.Provider)
		assert.Equal(t, "claude-sonnet-4-5", cfg.Model)
		assert.Equal(t, 4096, cfg.MaxTokens)
		assert.Nil(t, cfg.Temperature)
	})

	t.Run("session overrides win", func(t *testing.T) {
		model := "claude-haiku-4-5"
		maxTokens := 512
		temp := 0.2
		cfg := ResolveConfig(defaults, models.SessionConfig{
			Model:       &model,
			MaxTokens:   &maxTokens,
			Temperature: &temp,
		})
		assert.Equal(t, "claude-haiku-4-5", cfg.Model)
		assert.Equal(t, 512, cfg.MaxTokens)
		require.NotNil(t, cfg.Temperature)
		assert.Equal(t, 0.2, *cfg.Temperature)
		assert.Equal(t, "default prompt", cfg.SystemPrompt)
	})
}

func TestEstimateCost(t *testing.T) {
	cost := estimateCost("anthropic", 1000, 1000)
	assert.InDelta(t, 0.018, cost, 1e-9)
	assert.Zero(t, estimateCost("scripted", 1000, 1000))
	assert.Zero(t, estimateCost("unknown", 1000, 1000))
}
