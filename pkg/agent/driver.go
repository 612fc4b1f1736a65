// Package agent wraps a model provider and a sandbox into the turn driver:
// it runs the agentic loop for one message and emits the event stream the
// message service fans out to clients and storage.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/cognition-ai/cognition/pkg/models"
	"github.com/cognition-ai/cognition/pkg/storage"
)

// Defaults are the server-wide fallbacks applied when a session's config
// leaves a field unset.
type Defaults struct {
	Provider      string
	Model         string
	SystemPrompt  string
	MaxTokens     int
	MaxIterations int
}

// TurnConfig is the fully resolved configuration for one turn.
type TurnConfig struct {
	Provider      string
	Model         string
	SystemPrompt  string
	MaxTokens     int
	Temperature   *float64
	MaxIterations int
}

// ResolveConfig layers a session's overrides on top of the server defaults.
func ResolveConfig(defaults Defaults, cfg models.SessionConfig) TurnConfig {
	out := TurnConfig{
		Provider:      defaults.Provider,
		Model:         defaults.Model,
		SystemPrompt:  defaults.SystemPrompt,
		MaxTokens:     defaults.MaxTokens,
		MaxIterations: defaults.MaxIterations,
	}
	if out.MaxIterations <= 0 {
		out.MaxIterations = 10
	}
	if cfg.Provider != nil {
		out.Provider = *cfg.Provider
	}
	if cfg.Model != nil {
		out.Model = *cfg.Model
	}
	if cfg.SystemPrompt != nil {
		out.SystemPrompt = *cfg.SystemPrompt
	}
	if cfg.MaxTokens != nil {
		out.MaxTokens = *cfg.MaxTokens
	}
	out.Temperature = cfg.Temperature
	return out
}

// costRate is USD per 1K tokens.
type costRate struct {
	input  float64
	output float64
}

// costPer1K is the provider cost table used for the turn-end estimate.
var costPer1K = map[string]costRate{
	"anthropic": {input: 0.003, output: 0.015},
	"scripted":  {},
}

// estimateTokens is the length/4 fallback used when the provider does not
// report exact usage.
func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	n := len(s) / 4
	if n == 0 {
		n = 1
	}
	return n
}

const planningInstruction = "Maintain a visible plan with the set_todos tool: " +
	"set it before starting multi-step work and update statuses as steps finish."

// Driver runs one turn. It is stateless across turns; conversation
// continuity lives in the checkpoint stored under the session's threadID.
type Driver struct {
	client      ModelClient
	tools       ToolExecutor
	checkpoints storage.CheckpointSaver
	cfg         TurnConfig
	logger      *slog.Logger
}

// NewDriver assembles a driver for a single turn with the given resolved
// config.
func NewDriver(client ModelClient, tools ToolExecutor, checkpoints storage.CheckpointSaver, cfg TurnConfig, logger *slog.Logger) *Driver {
	return &Driver{
		client:      client,
		tools:       tools,
		checkpoints: checkpoints,
		cfg:         cfg,
		logger:      logger.With("component", "driver"),
	}
}

// checkpointState is the serialized conversation stored between turns.
type checkpointState struct {
	Messages []ConversationMessage `json:"messages"`
}

// Run executes the turn and returns its event stream. The channel always
// ends with DoneEvent and is then closed; cancellation surfaces as
// ErrorEvent{Code: cancelled} before DoneEvent. The consumer must drain the
// channel.
func (d *Driver) Run(ctx context.Context, threadID, content string) <-chan Event {
	out := make(chan Event, 32)
	go func() {
		defer close(out)
		d.run(ctx, threadID, content, out)
	}()
	return out
}

func (d *Driver) run(ctx context.Context, threadID, content string, out chan<- Event) {
	messages, err := d.loadConversation(ctx, threadID)
	if err != nil {
		d.logger.Warn("Checkpoint load failed, starting fresh",
			"thread_id", threadID, "error", err)
	}
	messages = append(messages, ConversationMessage{Role: "user", Content: content})

	tools := d.tools.ListTools()
	systemPrompt := d.cfg.SystemPrompt
	if hasTool(tools, PlanningToolName) {
		systemPrompt = strings.TrimSpace(systemPrompt + "\n\n" + planningInstruction)
	}

	inputTokens := 0
	outputTokens := 0
	exactUsage := false

	for step := 1; step <= d.cfg.MaxIterations; step++ {
		if ctx.Err() != nil {
			d.finishCancelled(threadID, messages, out)
			return
		}
		out <- StatusEvent{Status: "thinking"}

		if !exactUsage {
			for _, m := range messages {
				inputTokens += estimateTokens(m.Content)
			}
		}

		chunks, err := d.client.Generate(ctx, &GenerateInput{
			Model:        d.cfg.Model,
			SystemPrompt: systemPrompt,
			MaxTokens:    d.cfg.MaxTokens,
			Temperature:  d.cfg.Temperature,
			Messages:     messages,
			Tools:        tools,
		})
		if err != nil {
			if ctx.Err() != nil {
				d.finishCancelled(threadID, messages, out)
				return
			}
			out <- ErrorEvent{Message: err.Error(), Code: ErrorCodeProvider}
			out <- DoneEvent{}
			return
		}

		var text strings.Builder
		var calls []ToolCall

		for chunk := range chunks {
			if ctx.Err() != nil {
				drain(chunks)
				d.finishCancelled(threadID, messages, out)
				return
			}
			switch c := chunk.(type) {
			case *TextChunk:
				text.WriteString(c.Content)
				out <- TokenEvent{Content: c.Content}
			case *ToolCallChunk:
				call := ToolCall{ID: c.CallID, Name: c.Name, Arguments: c.Arguments}
				if call.ID == "" {
					call.ID = "call_" + uuid.NewString()[:8]
				}
				calls = append(calls, call)
				out <- ToolCallEvent{Name: call.Name, Args: json.RawMessage(call.Arguments), ID: call.ID}
				if call.Name == PlanningToolName {
					out <- PlanningEvent{Todos: parseTodos(call.Arguments)}
				}
			case *UsageChunk:
				if !exactUsage {
					inputTokens, outputTokens = 0, 0
					exactUsage = true
				}
				inputTokens += c.InputTokens
				outputTokens += c.OutputTokens
			case *ErrorChunk:
				drain(chunks)
				out <- ErrorEvent{Message: c.Message, Code: errorCodeOr(c.Code)}
				out <- DoneEvent{}
				return
			}
		}

		// The provider may close its stream on cancellation before the
		// loop body observes it.
		if ctx.Err() != nil {
			d.finishCancelled(threadID, messages, out)
			return
		}

		messages = append(messages, ConversationMessage{
			Role:      "assistant",
			Content:   text.String(),
			ToolCalls: calls,
		})
		if !exactUsage {
			outputTokens += estimateTokens(text.String())
		}

		if len(calls) == 0 {
			break
		}

		out <- StatusEvent{Status: "executing_tools"}
		for _, call := range calls {
			result, err := d.tools.Execute(ctx, call)
			if err != nil {
				d.finishCancelled(threadID, messages, out)
				return
			}
			out <- ToolResultEvent{
				ToolCallID: result.CallID,
				Output:     result.Output,
				ExitCode:   result.ExitCode,
			}
			messages = append(messages, ConversationMessage{
				Role:       "tool",
				Content:    result.Output,
				ToolCallID: result.CallID,
			})
		}
		out <- StepCompleteEvent{
			StepNumber:  step,
			TotalSteps:  d.cfg.MaxIterations,
			Description: fmt.Sprintf("executed %d tool calls", len(calls)),
		}
		d.saveConversation(threadID, messages)
	}

	d.saveConversation(threadID, messages)
	out <- UsageEvent{
		InputTokens:   inputTokens,
		OutputTokens:  outputTokens,
		EstimatedCost: estimateCost(d.cfg.Provider, inputTokens, outputTokens),
		Provider:      d.cfg.Provider,
		Model:         d.cfg.Model,
	}
	out <- DoneEvent{}
}

// finishCancelled persists the conversation so far and emits the terminal
// cancelled pair.
func (d *Driver) finishCancelled(threadID string, messages []ConversationMessage, out chan<- Event) {
	d.saveConversation(threadID, messages)
	out <- ErrorEvent{Message: "turn cancelled", Code: ErrorCodeCancelled}
	out <- DoneEvent{}
}

func (d *Driver) loadConversation(ctx context.Context, threadID string) ([]ConversationMessage, error) {
	blob, err := d.checkpoints.Get(ctx, threadID)
	if err != nil || blob == nil {
		return nil, err
	}
	var state checkpointState
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return state.Messages, nil
}

// saveConversation is best effort: a lost checkpoint is recovered by
// replaying persisted messages. Runs on a detached context so cancellation
// does not drop the turn's state.
func (d *Driver) saveConversation(threadID string, messages []ConversationMessage) {
	blob, err := json.Marshal(checkpointState{Messages: messages})
	if err != nil {
		d.logger.Error("Checkpoint encode failed", "thread_id", threadID, "error", err)
		return
	}
	if err := d.checkpoints.Put(context.Background(), threadID, blob); err != nil {
		d.logger.Warn("Checkpoint save failed", "thread_id", threadID, "error", err)
	}
}

func estimateCost(provider string, inputTokens, outputTokens int) float64 {
	rate := costPer1K[provider]
	return float64(inputTokens)/1000*rate.input + float64(outputTokens)/1000*rate.output
}

func errorCodeOr(code string) string {
	if code == "" {
		return ErrorCodeProvider
	}
	return code
}

func hasTool(tools []ToolDefinition, name string) bool {
	for _, t := range tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func parseTodos(arguments string) []TodoItem {
	var args struct {
		Todos []TodoItem `json:"todos"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return nil
	}
	return args.Todos
}

func drain(ch <-chan Chunk) {
	for range ch {
	}
}
