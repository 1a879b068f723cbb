package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/thread"
)

// ToolResultCall records a result forwarded to the transport
type ToolResultCall struct {
	ToolCallID string
	Result     any
	IsError    bool
}

// FakeTransport hands every run a FakeStream that the test drives by hand.
type FakeTransport struct {
	// StreamErr fails every Stream call when set.
	StreamErr error

	mu          sync.Mutex
	requests    []thread.Request
	toolResults []ToolResultCall
	started     chan *FakeStream
}

// NewFakeTransport creates a transport with room for a few pending streams
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{started: make(chan *FakeStream, 16)}
}

// Stream implements thread.Transport
func (t *FakeTransport) Stream(ctx context.Context, req thread.Request) (<-chan chat.Chunk, error) {
	t.mu.Lock()
	t.requests = append(t.requests, req)
	err := t.StreamErr
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s := &FakeStream{ctx: ctx, ch: make(chan chat.Chunk), Request: req}
	t.started <- s
	return s.ch, nil
}

// AddToolResult implements thread.ToolResultSink
func (t *FakeTransport) AddToolResult(_ context.Context, toolCallID string, result any, isError bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.toolResults = append(t.toolResults, ToolResultCall{ToolCallID: toolCallID, Result: result, IsError: isError})
	return nil
}

// NextStream waits for the next run to open its stream
func (t *FakeTransport) NextStream(timeout time.Duration) (*FakeStream, error) {
	select {
	case s := <-t.started:
		return s, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("no stream opened within %v", timeout)
	}
}

// Requests returns every request received so far
func (t *FakeTransport) Requests() []thread.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]thread.Request(nil), t.requests...)
}

// ToolResults returns the tool results forwarded so far
func (t *FakeTransport) ToolResults() []ToolResultCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ToolResultCall(nil), t.toolResults...)
}

// FakeStream is the chunk stream of one run.
type FakeStream struct {
	Request thread.Request

	ctx       context.Context
	ch        chan chat.Chunk
	closeOnce sync.Once
}

// Send delivers chunks one at a time. It returns false once the run has
// stopped reading.
func (s *FakeStream) Send(chunks ...chat.Chunk) bool {
	for _, c := range chunks {
		select {
		case s.ch <- c:
		case <-s.ctx.Done():
			return false
		}
	}
	return true
}

// TrySend delivers a chunk if the run is still reading within timeout.
func (s *FakeStream) TrySend(c chat.Chunk, timeout time.Duration) bool {
	select {
	case s.ch <- c:
		return true
	case <-s.ctx.Done():
		return false
	case <-time.After(timeout):
		return false
	}
}

// Close ends the stream
func (s *FakeStream) Close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// Done is closed when the run cancels the stream's context
func (s *FakeStream) Done() <-chan struct{} {
	return s.ctx.Done()
}
