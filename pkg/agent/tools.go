package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// PlanningToolName is the tool the model calls to publish its plan. Its
// invocations additionally surface as PlanningEvents.
const PlanningToolName = "set_todos"

// ToolExecutor runs a single tool call against the workspace.
type ToolExecutor interface {
	// Execute runs one tool call. The result content is always a string:
	// tool output or an error message with IsError set.
	Execute(ctx context.Context, call ToolCall) (*ExecutedTool, error)

	// ListTools returns the tool definitions offered to the model.
	ListTools() []ToolDefinition
}

// ExecutedTool is the outcome of one tool execution.
type ExecutedTool struct {
	CallID   string
	Name     string
	Output   string
	ExitCode int
	IsError  bool
}

// SandboxToolExecutor exposes the sandbox capabilities as model tools.
type SandboxToolExecutor struct {
	sandbox Sandbox
}

// NewSandboxToolExecutor wraps sandbox as a tool executor.
func NewSandboxToolExecutor(sandbox Sandbox) *SandboxToolExecutor {
	return &SandboxToolExecutor{sandbox: sandbox}
}

func (e *SandboxToolExecutor) ListTools() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "bash",
			Description: "Run a shell command inside the workspace and return its combined output.",
			ParametersSchema: `{"type":"object","properties":{
				"command":{"type":"string","description":"The shell command to run"}},
				"required":["command"]}`,
		},
		{
			Name:        "read_file",
			Description: "Read a file relative to the workspace root.",
			ParametersSchema: `{"type":"object","properties":{
				"path":{"type":"string"}},"required":["path"]}`,
		},
		{
			Name:        "write_file",
			Description: "Write content to a file relative to the workspace root, creating parent directories.",
			ParametersSchema: `{"type":"object","properties":{
				"path":{"type":"string"},"content":{"type":"string"}},
				"required":["path","content"]}`,
		},
		{
			Name:        "list_dir",
			Description: "List directory entries relative to the workspace root. Directories carry a trailing slash.",
			ParametersSchema: `{"type":"object","properties":{
				"path":{"type":"string","description":"Defaults to the workspace root"}}}`,
		},
		{
			Name:        "glob",
			Description: "Match workspace files against a glob pattern.",
			ParametersSchema: `{"type":"object","properties":{
				"pattern":{"type":"string"}},"required":["pattern"]}`,
		},
		{
			Name:        "grep",
			Description: "Search workspace files for a literal string. Returns file:line:text matches.",
			ParametersSchema: `{"type":"object","properties":{
				"pattern":{"type":"string"},
				"path":{"type":"string","description":"Defaults to the workspace root"}},
				"required":["pattern"]}`,
		},
		{
			Name:        PlanningToolName,
			Description: "Replace the current task plan with an updated todo list.",
			ParametersSchema: `{"type":"object","properties":{
				"todos":{"type":"array","items":{"type":"object","properties":{
					"content":{"type":"string"},
					"status":{"type":"string","enum":["pending","in_progress","done"]}},
					"required":["content","status"]}}},
				"required":["todos"]}`,
		},
	}
}

func (e *SandboxToolExecutor) Execute(ctx context.Context, call ToolCall) (*ExecutedTool, error) {
	output, exitCode, err := e.dispatch(ctx, call)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &ExecutedTool{
			CallID:   call.ID,
			Name:     call.Name,
			Output:   err.Error(),
			ExitCode: 1,
			IsError:  true,
		}, nil
	}
	return &ExecutedTool{
		CallID:   call.ID,
		Name:     call.Name,
		Output:   output,
		ExitCode: exitCode,
	}, nil
}

func (e *SandboxToolExecutor) dispatch(ctx context.Context, call ToolCall) (string, int, error) {
	var args struct {
		Command string     `json:"command"`
		Path    string     `json:"path"`
		Content string     `json:"content"`
		Pattern string     `json:"pattern"`
		Todos   []TodoItem `json:"todos"`
	}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return "", 0, fmt.Errorf("invalid arguments for %s: %w", call.Name, err)
		}
	}

	switch call.Name {
	case "bash":
		res, err := e.sandbox.Execute(ctx, args.Command)
		if err != nil {
			return "", 0, err
		}
		output := res.Output
		if res.Truncated {
			output += "\n[output truncated]"
		}
		return output, res.ExitCode, nil

	case "read_file":
		content, err := e.sandbox.ReadFile(ctx, args.Path)
		return content, 0, err

	case "write_file":
		err := e.sandbox.WriteFile(ctx, args.Path, args.Content)
		if err != nil {
			return "", 0, err
		}
		return fmt.Sprintf("wrote %d bytes to %s", len(args.Content), args.Path), 0, nil

	case "list_dir":
		path := args.Path
		if path == "" {
			path = "."
		}
		entries, err := e.sandbox.ListDir(ctx, path)
		return strings.Join(entries, "\n"), 0, err

	case "glob":
		matches, err := e.sandbox.Glob(ctx, args.Pattern)
		return strings.Join(matches, "\n"), 0, err

	case "grep":
		path := args.Path
		if path == "" {
			path = "."
		}
		matches, err := e.sandbox.Grep(ctx, args.Pattern, path)
		return strings.Join(matches, "\n"), 0, err

	case PlanningToolName:
		return fmt.Sprintf("plan updated: %d todos", len(args.Todos)), 0, nil

	default:
		return "", 0, fmt.Errorf("unknown tool %q", call.Name)
	}
}
