package thread

import (
	"context"
	"errors"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/tools"
)

// ErrEmptyMessage is returned by Send and Edit when there is neither text nor
// an attachment to send.
var ErrEmptyMessage = errors.New("message has no content")

// Request is what a transport receives for one run.
type Request struct {
	ThreadID string
	// Messages is the active path the model should continue, oldest first.
	Messages []*chat.Message
	// Tools are the definitions advertised to the model.
	Tools    []tools.Definition
	Metadata map[string]any
	// Regenerate is set for reloads: the last message is not new user input.
	Regenerate bool
}

// Transport produces the chunk stream of one assistant turn. The channel must
// be closed when the stream ends and sends must stop once ctx is done.
type Transport interface {
	Stream(ctx context.Context, req Request) (<-chan chat.Chunk, error)
}

// ToolResultSink is implemented by transports that need to learn about tool
// results resolved on this side.
type ToolResultSink interface {
	AddToolResult(ctx context.Context, toolCallID string, result any, isError bool) error
}

// History persists the message tree of a thread.
type History interface {
	Load(ctx context.Context) (chat.Export, error)
	Save(ctx context.Context, export chat.Export) error
}

// RunObserver is told when runs start and settle. RunFinished receives the
// final assistant message and the run's terminal error, if any.
type RunObserver interface {
	RunStarted(messageID string)
	RunFinished(msg *chat.Message, err error)
}

// Snapshot is an immutable view of the thread. The tree it holds is never
// mutated after publication; every change publishes a new Snapshot.
type Snapshot struct {
	Tree *chat.MessageTree
	// Messages is the active path, root first.
	Messages        []*chat.Message
	Running         bool
	ActiveMessageID string
	Version         uint64
}

// Message returns the message at index i of the active path.
func (s *Snapshot) Message(i int) (*chat.Message, bool) {
	if i < 0 || i >= len(s.Messages) {
		return nil, false
	}
	return s.Messages[i], true
}

// IsLast reports whether i is the last index of the active path.
func (s *Snapshot) IsLast(i int) bool {
	return i == len(s.Messages)-1
}

// BranchInfo returns the sibling position of the message at index i.
func (s *Snapshot) BranchInfo(i int) (chat.BranchInfo, bool) {
	m, ok := s.Message(i)
	if !ok {
		return chat.BranchInfo{}, false
	}
	return s.Tree.BranchInfo(m.ID)
}
