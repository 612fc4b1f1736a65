package agent

import (
	"context"
	"sync"
	"time"
)

// ScriptedClient plays back pre-recorded chunk sequences, one per Generate
// call, in order. It backs the "scripted" provider for offline runs and is
// the model double used throughout the tests.
type ScriptedClient struct {
	mu    sync.Mutex
	turns [][]Chunk
	next  int

	// ChunkDelay inserts a pause before each chunk, for exercising
	// cancellation mid-stream.
	ChunkDelay time.Duration

	// Calls records every Generate input for assertions.
	Calls []*GenerateInput
}

// NewScriptedClient creates a client that replays turns in order. Calls
// past the end of the script yield a single empty text response.
func NewScriptedClient(turns ...[]Chunk) *ScriptedClient {
	return &ScriptedClient{turns: turns}
}

func (s *ScriptedClient) Provider() string { return "scripted" }

func (s *ScriptedClient) Close() error { return nil }

func (s *ScriptedClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, input)
	var chunks []Chunk
	if s.next < len(s.turns) {
		chunks = s.turns[s.next]
		s.next++
	}
	delay := s.ChunkDelay
	s.mu.Unlock()

	out := make(chan Chunk)
	go func() {
		defer close(out)
		for _, c := range chunks {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
