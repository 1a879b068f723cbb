package transport

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/thread"
)

// Script is a recorded conversation: one chunk list per assistant turn.
//
//	delay: 20ms
//	turns:
//	  - match: weather
//	    chunks:
//	      - {type: tool-call-begin, tool_call_id: c1, tool_name: weather}
//	      - {type: tool-call-end, tool_call_id: c1}
//	      - {type: finish, reason: tool-calls}
type Script struct {
	// Delay is waited before every chunk.
	Delay time.Duration `yaml:"delay"`
	// Loop restarts from the first turn once every turn was played.
	Loop  bool   `yaml:"loop"`
	Turns []Turn `yaml:"turns"`
}

// Turn is the chunk list of one run. A turn with Match is only played when
// the last message of the request contains it.
type Turn struct {
	Match  string       `yaml:"match,omitempty"`
	Chunks []chat.Chunk `yaml:"chunks"`
}

// LoadScript reads a YAML script
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return ParseScript(data)
}

// ParseScript decodes a YAML script and checks its chunk types.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if len(s.Turns) == 0 {
		return nil, fmt.Errorf("script has no turns")
	}
	for i, turn := range s.Turns {
		for j, c := range turn.Chunks {
			if c.Type == "" {
				return nil, fmt.Errorf("turn %d chunk %d has no type", i+1, j+1)
			}
		}
	}
	return &s, nil
}

// Scripted replays a Script, one turn per Stream call.
type Scripted struct {
	script *Script

	mu          sync.Mutex
	next        int
	toolResults map[string]any
}

func NewScripted(script *Script) *Scripted {
	return &Scripted{script: script, toolResults: make(map[string]any)}
}

// Stream implements thread.Transport
func (s *Scripted) Stream(ctx context.Context, req thread.Request) (<-chan chat.Chunk, error) {
	turn, err := s.pick(req)
	if err != nil {
		return nil, err
	}

	out := make(chan chat.Chunk)
	go func() {
		defer close(out)
		for _, c := range turn.Chunks {
			if s.script.Delay > 0 {
				select {
				case <-time.After(s.script.Delay):
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

// AddToolResult implements thread.ToolResultSink
func (s *Scripted) AddToolResult(_ context.Context, toolCallID string, result any, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolResults[toolCallID] = result
	return nil
}

// ToolResult returns a result reported through AddToolResult
func (s *Scripted) ToolResult(toolCallID string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.toolResults[toolCallID]
	return v, ok
}

func (s *Scripted) pick(req thread.Request) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := ""
	if n := len(req.Messages); n > 0 {
		last = req.Messages[n-1].Text()
	}
	for tries := 0; tries < len(s.script.Turns); tries++ {
		if s.next >= len(s.script.Turns) {
			if !s.script.Loop {
				break
			}
			s.next = 0
		}
		turn := s.script.Turns[s.next]
		s.next++
		if turn.Match == "" || strings.Contains(last, turn.Match) {
			return turn, nil
		}
	}
	return Turn{}, fmt.Errorf("script has no turn left for %q", last)
}
