package chat

import (
	"errors"
	"fmt"
)

// ChunkType identifies one unit of the streaming protocol.
type ChunkType string

const (
	ChunkTextDelta      ChunkType = "text-delta"
	ChunkReasoningDelta ChunkType = "reasoning-delta"
	ChunkSource         ChunkType = "source"
	ChunkImage          ChunkType = "image"
	ChunkFile           ChunkType = "file"
	ChunkAudio          ChunkType = "audio"
	ChunkToolCallBegin  ChunkType = "tool-call-begin"
	ChunkToolCallDelta  ChunkType = "tool-call-delta"
	ChunkToolCallEnd    ChunkType = "tool-call-end"
	ChunkToolResult     ChunkType = "tool-result"
	ChunkPartFinish     ChunkType = "part-finish"
	ChunkFinish         ChunkType = "finish"
	ChunkError          ChunkType = "error"
)

// Chunk is one incremental unit of streamed model output.
type Chunk struct {
	Type     ChunkType `json:"type" yaml:"type"`
	Delta    string    `json:"delta,omitempty" yaml:"delta,omitempty"`
	PartID   string    `json:"part_id,omitempty" yaml:"part_id,omitempty"`
	ParentID string    `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`

	ToolCallID string `json:"tool_call_id,omitempty" yaml:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty" yaml:"tool_name,omitempty"`
	Result     any    `json:"result,omitempty" yaml:"result,omitempty"`
	IsError    bool   `json:"is_error,omitempty" yaml:"is_error,omitempty"`

	// Source, image, file and audio payloads.
	URL      string `json:"url,omitempty" yaml:"url,omitempty"`
	Title    string `json:"title,omitempty" yaml:"title,omitempty"`
	Data     string `json:"data,omitempty" yaml:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty" yaml:"mime_type,omitempty"`
	Filename string `json:"filename,omitempty" yaml:"filename,omitempty"`

	// Reason is the finish reason carried by a finish chunk.
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`

	// Err is set by transports when the stream failed.
	Err error `json:"-" yaml:"-"`
}

// ErrStream wraps failures reported by the transport inside the chunk stream.
var ErrStream = errors.New("stream failed")

// Failure returns the transport failure carried by the chunk, if any.
func (c Chunk) Failure() error {
	if c.Err != nil {
		return fmt.Errorf("%w: %w", ErrStream, c.Err)
	}
	if c.Type == ChunkError {
		msg := c.Delta
		if msg == "" {
			msg = "unknown error"
		}
		return fmt.Errorf("%w: %s", ErrStream, msg)
	}
	return nil
}

func TextDelta(delta string) Chunk {
	return Chunk{Type: ChunkTextDelta, Delta: delta}
}

func ReasoningDelta(delta string) Chunk {
	return Chunk{Type: ChunkReasoningDelta, Delta: delta}
}

func ToolCallBegin(toolCallID, toolName string) Chunk {
	return Chunk{Type: ChunkToolCallBegin, ToolCallID: toolCallID, ToolName: toolName}
}

func ToolCallDelta(toolCallID, delta string) Chunk {
	return Chunk{Type: ChunkToolCallDelta, ToolCallID: toolCallID, Delta: delta}
}

func ToolCallEnd(toolCallID string) Chunk {
	return Chunk{Type: ChunkToolCallEnd, ToolCallID: toolCallID}
}

func ToolResult(toolCallID string, result any, isError bool) Chunk {
	return Chunk{Type: ChunkToolResult, ToolCallID: toolCallID, Result: result, IsError: isError}
}

func Finish(reason string) Chunk {
	return Chunk{Type: ChunkFinish, Reason: reason}
}
