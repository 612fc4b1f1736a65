package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ExecResult is the outcome of one sandboxed command.
type ExecResult struct {
	Output    string
	ExitCode  int
	Truncated bool
}

// Sandbox is the capability handle the driver uses for workspace access.
// Implementations decide the isolation level; the driver treats it as a
// black box.
type Sandbox interface {
	Execute(ctx context.Context, command string) (*ExecResult, error)
	ReadFile(ctx context.Context, path string) (string, error)
	WriteFile(ctx context.Context, path string, content string) error
	ListDir(ctx context.Context, path string) ([]string, error)
	Glob(ctx context.Context, pattern string) ([]string, error)
	Grep(ctx context.Context, pattern, path string) ([]string, error)
}

// maxExecOutput caps captured command output; everything past it is dropped
// and the result is marked truncated.
const maxExecOutput = 64 * 1024

// maxGrepMatches caps grep output per call.
const maxGrepMatches = 200

// LocalSandbox runs commands and file operations directly on the host,
// confined to a workspace root. Paths escaping the root are rejected.
type LocalSandbox struct {
	root string
}

// NewLocalSandbox creates a sandbox rooted at root.
func NewLocalSandbox(root string) *LocalSandbox {
	return &LocalSandbox{root: filepath.Clean(root)}
}

// resolve joins path onto the root and rejects escapes.
func (s *LocalSandbox) resolve(path string) (string, error) {
	full := filepath.Clean(filepath.Join(s.root, path))
	if full != s.root && !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", path)
	}
	return full, nil
}

func (s *LocalSandbox) Execute(ctx context.Context, command string) (*ExecResult, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = s.root

	out, err := cmd.CombinedOutput()
	result := &ExecResult{Output: string(out)}
	if len(result.Output) > maxExecOutput {
		result.Output = result.Output[:maxExecOutput]
		result.Truncated = true
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("execute command: %w", err)
	}
	return result, nil
}

func (s *LocalSandbox) ReadFile(_ context.Context, path string) (string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func (s *LocalSandbox) WriteFile(_ context.Context, path string, content string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (s *LocalSandbox) ListDir(_ context.Context, path string) ([]string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return names, nil
}

func (s *LocalSandbox) Glob(_ context.Context, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		rel, err := filepath.Rel(s.root, m)
		if err != nil {
			continue
		}
		out = append(out, rel)
	}
	return out, nil
}

func (s *LocalSandbox) Grep(ctx context.Context, pattern, path string) ([]string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	var matches []string
	walkErr := filepath.WalkDir(full, func(p string, d os.DirEntry, err error) error {
		if err != nil || len(matches) >= maxGrepMatches {
			return filepath.SkipAll
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return nil
		}
		defer f.Close()

		rel, _ := filepath.Rel(s.root, p)
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			if strings.Contains(scanner.Text(), pattern) {
				matches = append(matches, fmt.Sprintf("%s:%d:%s", rel, lineNo, scanner.Text()))
				if len(matches) >= maxGrepMatches {
					return nil
				}
			}
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, filepath.SkipAll) {
		return nil, walkErr
	}
	return matches, nil
}
