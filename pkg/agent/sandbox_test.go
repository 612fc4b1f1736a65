package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSandbox(t *testing.T) (*LocalSandbox, string) {
	t.Helper()
	root := t.TempDir()
	return NewLocalSandbox(root), root
}

func TestExecute(t *testing.T) {
	s, _ := newTestSandbox(t)
	ctx := context.Background()

	t.Run("captures output and exit code", func(t *testing.T) {
		res, err := s.Execute(ctx, "echo hello")
		require.NoError(t, err)
		assert.Equal(t, "hello\n", res.Output)
		assert.Zero(t, res.ExitCode)
		assert.False(t, res.Truncated)
	})

	t.Run("nonzero exit is a result, not an error", func(t *testing.T) {
		res, err := s.Execute(ctx, "exit 3")
		require.NoError(t, err)
		assert.Equal(t, 3, res.ExitCode)
	})

	t.Run("runs in the workspace root", func(t *testing.T) {
		res, err := s.Execute(ctx, "pwd")
		require.NoError(t, err)
		assert.Contains(t, res.Output, filepath.Base(s.root))
	})

	t.Run("cancellation", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := s.Execute(cancelled, "sleep 5")
		assert.Error(t, err)
	})
}

func TestFileOperations(t *testing.T) {
	s, root := newTestSandbox(t)
	ctx := context.Background()

	require.NoError(t, s.WriteFile(ctx, "src/main.go", "package main\n"))

	content, err := s.ReadFile(ctx, "src/main.go")
	require.NoError(t, err)
	assert.Equal(t, "package main\n", content)

	entries, err := s.ListDir(ctx, ".")
	require.NoError(t, err)
	assert.Contains(t, entries, "src/")

	matches, err := s.Glob(ctx, "src/*.go")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join("src", "main.go")}, matches)

	hits, err := s.Grep(ctx, "package", ".")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0], "main.go:1:package main")

	// Files written through the sandbox land under the root.
	_, err = os.Stat(filepath.Join(root, "src", "main.go"))
	require.NoError(t, err)
}

func TestPathConfinement(t *testing.T) {
	s, _ := newTestSandbox(t)
	ctx := context.Background()

	_, err := s.ReadFile(ctx, "../../etc/passwd")
	assert.Error(t, err)

	err = s.WriteFile(ctx, "../escape.txt", "nope")
	assert.Error(t, err)

	_, err = s.ListDir(ctx, "..")
	assert.Error(t, err)
}

func TestSandboxToolExecutor(t *testing.T) {
	s, _ := newTestSandbox(t)
	exec := NewSandboxToolExecutor(s)
	ctx := context.Background()

	t.Run("lists the full toolset", func(t *testing.T) {
		tools := exec.ListTools()
		names := make([]string, len(tools))
		for i, tool := range tools {
			names[i] = tool.Name
		}
		assert.Contains(t, names, "bash")
		assert.Contains(t, names, "read_file")
		assert.Contains(t, names, PlanningToolName)
	})

	t.Run("dispatches bash", func(t *testing.T) {
		res, err := exec.Execute(ctx, ToolCall{
			ID: "tc-1", Name: "bash", Arguments: `{"command":"echo hi"}`,
		})
		require.NoError(t, err)
		assert.Equal(t, "hi\n", res.Output)
		assert.False(t, res.IsError)
	})

	t.Run("write then read", func(t *testing.T) {
		_, err := exec.Execute(ctx, ToolCall{
			ID: "tc-2", Name: "write_file",
			Arguments: `{"path":"notes.md","content":"remember"}`,
		})
		require.NoError(t, err)

		res, err := exec.Execute(ctx, ToolCall{
			ID: "tc-3", Name: "read_file", Arguments: `{"path":"notes.md"}`,
		})
		require.NoError(t, err)
		assert.Equal(t, "remember", res.Output)
	})

	t.Run("tool failure is a result with IsError", func(t *testing.T) {
		res, err := exec.Execute(ctx, ToolCall{
			ID: "tc-4", Name: "read_file", Arguments: `{"path":"missing.txt"}`,
		})
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.NotEmpty(t, res.Output)
	})

	t.Run("unknown tool", func(t *testing.T) {
		res, err := exec.Execute(ctx, ToolCall{ID: "tc-5", Name: "teleport", Arguments: `{}`})
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})

	t.Run("planning tool acknowledges", func(t *testing.T) {
		res, err := exec.Execute(ctx, ToolCall{
			ID: "tc-6", Name: PlanningToolName,
			Arguments: `{"todos":[{"content":"a","status":"pending"},{"content":"b","status":"pending"}]}`,
		})
		require.NoError(t, err)
		assert.Contains(t, res.Output, "2 todos")
	})
}
