package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient implements ModelClient on the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
	logger *slog.Logger
}

// NewAnthropicClient creates a client authenticated with apiKey.
func NewAnthropicClient(apiKey string, logger *slog.Logger) *AnthropicClient {
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		logger: logger.With("component", "anthropic"),
	}
}

func (a *AnthropicClient) Provider() string { return "anthropic" }

func (a *AnthropicClient) Close() error { return nil }

func (a *AnthropicClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(input.Model),
		MaxTokens: int64(input.MaxTokens),
		Messages:  convertMessages(input.Messages),
	}
	if input.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: input.SystemPrompt}}
	}
	if input.Temperature != nil {
		params.Temperature = anthropic.Float(*input.Temperature)
	}
	tools, err := convertTools(input.Tools)
	if err != nil {
		return nil, err
	}
	params.Tools = tools

	stream := a.client.Messages.NewStreaming(ctx, params)

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)

		var inputTokens, outputTokens int

		// Tool-use input arrives as partial JSON across deltas; it is
		// assembled per content block and emitted at block stop.
		var toolID, toolName, toolArgs string
		inToolBlock := false

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				inputTokens = int(event.AsMessageStart().Message.Usage.InputTokens)

			case "content_block_start":
				block := event.AsContentBlockStart().ContentBlock
				if block.Type == "tool_use" {
					toolUse := block.AsToolUse()
					toolID = toolUse.ID
					toolName = toolUse.Name
					toolArgs = ""
					inToolBlock = true
				}

			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					out <- &TextChunk{Content: delta.Text}
				case "input_json_delta":
					toolArgs += delta.PartialJSON
				}

			case "content_block_stop":
				if inToolBlock {
					args := toolArgs
					if args == "" {
						args = "{}"
					}
					out <- &ToolCallChunk{CallID: toolID, Name: toolName, Arguments: args}
					inToolBlock = false
				}

			case "message_delta":
				if usage := event.AsMessageDelta().Usage; usage.OutputTokens > 0 {
					outputTokens = int(usage.OutputTokens)
				}

			case "message_stop":
				out <- &UsageChunk{InputTokens: inputTokens, OutputTokens: outputTokens}
			}
		}

		if err := stream.Err(); err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Error("Anthropic stream failed", "model", input.Model, "error", err)
			out <- &ErrorChunk{Message: err.Error(), Code: ErrorCodeProvider, Retryable: true}
		}
	}()
	return out, nil
}

func convertMessages(messages []ConversationMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "assistant":
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, call := range m.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, args, call.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))

		case "tool":
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))

		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}

func convertTools(tools []ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, def := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal([]byte(def.ParametersSchema), &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for tool %s: %w", def.Name, err)
		}
		tool := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if tool.OfTool == nil {
			return nil, fmt.Errorf("invalid schema for tool %s: missing tool definition", def.Name)
		}
		tool.OfTool.Description = anthropic.String(def.Description)
		out = append(out, tool)
	}
	return out, nil
}
