package agent

import "context"

// ModelClient is the boundary to one LLM provider. It exposes a single
// streaming call; the agentic loop above it owns tool execution and
// conversation state.
type ModelClient interface {
	// Generate sends a conversation to the model and returns a stream of
	// chunks. The returned channel is closed when the stream completes.
	// Provider errors are delivered as ErrorChunk values in the channel.
	Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error)

	// Provider names the backing provider ("anthropic", "scripted").
	Provider() string

	// Close releases the underlying connection, if any.
	Close() error
}

// GenerateInput is one model call: the conversation so far plus the
// resolved per-turn settings.
type GenerateInput struct {
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  *float64
	Messages     []ConversationMessage
	Tools        []ToolDefinition // nil = no tools
}

// ConversationMessage is one entry of the model-facing conversation.
type ConversationMessage struct {
	Role       string // "user", "assistant", "tool"
	Content    string
	ToolCalls  []ToolCall // for assistant messages
	ToolCallID string     // for tool result messages
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name             string
	Description      string
	ParametersSchema string // JSON Schema
}

// ToolCall is the model's request to invoke a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON
}

// Chunk is the interface for all streaming chunk types.
type Chunk interface {
	chunkType() ChunkType
}

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

const (
	ChunkTypeText     ChunkType = "text"
	ChunkTypeToolCall ChunkType = "tool_call"
	ChunkTypeUsage    ChunkType = "usage"
	ChunkTypeError    ChunkType = "error"
)

// TextChunk is a delta of the model's text response.
type TextChunk struct{ Content string }

// ToolCallChunk signals a completed tool invocation request.
type ToolCallChunk struct{ CallID, Name, Arguments string }

// UsageChunk reports exact token consumption, when the provider gives it.
type UsageChunk struct{ InputTokens, OutputTokens int }

// ErrorChunk signals a provider error; the stream ends after it.
type ErrorChunk struct {
	Message   string
	Code      string
	Retryable bool
}

func (c *TextChunk) chunkType() ChunkType     { return ChunkTypeText }
func (c *ToolCallChunk) chunkType() ChunkType { return ChunkTypeToolCall }
func (c *UsageChunk) chunkType() ChunkType    { return ChunkTypeUsage }
func (c *ErrorChunk) chunkType() ChunkType    { return ChunkTypeError }
