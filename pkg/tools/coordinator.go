package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/logger"
)

// Outcomes reported to a Recorder
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeDisabled = "disabled"
)

// Recorder observes tool executions
type Recorder interface {
	ToolExecuted(toolName, outcome string, duration time.Duration)
}

type CoordinatorOption func(*Coordinator)

// WithTimeout bounds each handler invocation. Zero means no bound beyond the run context.
func WithTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.timeout = d
	}
}

// WithRecorder attaches an execution recorder
func WithRecorder(r Recorder) CoordinatorOption {
	return func(c *Coordinator) {
		c.recorder = r
	}
}

// Coordinator executes locally registered tools for tool-call parts and turns
// the outcome into tool-result chunks. Tool call ids are only unique within a
// message, so each (message id, tool call id) pair is executed at most once
// for the lifetime of the coordinator.
type Coordinator struct {
	registry *Registry
	timeout  time.Duration
	recorder Recorder
	log      *logger.ComponentLogger

	mu   sync.Mutex
	seen map[callKey]struct{}
}

type callKey struct {
	messageID  string
	toolCallID string
}

// NewCoordinator creates a coordinator over registry
func NewCoordinator(registry *Registry, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		registry: registry,
		log:      logger.WithComponent("coordinator"),
		seen:     make(map[callKey]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the registry the coordinator resolves tools from
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Seen reports whether the call of messageID has already been claimed
func (c *Coordinator) Seen(messageID, toolCallID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[callKey{messageID, toolCallID}]
	return ok
}

// Claim marks the call of messageID as handled, returning false when it
// already was. Results resolved out of band claim their call so it is never
// executed locally.
func (c *Coordinator) Claim(messageID, toolCallID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := callKey{messageID, toolCallID}
	if _, ok := c.seen[key]; ok {
		return false
	}
	c.seen[key] = struct{}{}
	return true
}

// Handle executes the call when it is locally executable and returns the
// synthesized tool-result chunk. It returns false when there is nothing to
// apply: the call is still streaming, already resolved or claimed, executed
// remotely, or waits for an out-of-band result.
func (c *Coordinator) Handle(ctx context.Context, messageID string, call *chat.ToolCallPart) (chat.Chunk, bool) {
	if call == nil || !call.ArgsComplete || call.Resolved {
		return chat.Chunk{}, false
	}

	tool, registered := c.registry.Get(call.ToolName)
	if registered && !tool.Disabled {
		if tool.Kind == KindBackend || tool.Execute == nil {
			return chat.Chunk{}, false
		}
	}
	if !c.Claim(messageID, call.ToolCallID) {
		c.log.Debug("Skipping repeated execution of %s (%s)", call.ToolName, call.ToolCallID)
		return chat.Chunk{}, false
	}

	if !registered || tool.Disabled {
		err := fmt.Errorf("%w: %s", chat.ErrToolDisabled, call.ToolName)
		c.log.Warn("Tool call %s rejected: %v", call.ToolCallID, err)
		c.record(call.ToolName, OutcomeDisabled, 0)
		return chat.ToolResult(call.ToolCallID, err.Error(), true), true
	}

	start := time.Now()
	result, err := c.execute(ctx, tool, argsMap(call.Args))
	elapsed := time.Since(start)
	if err != nil {
		toolErr := ToolError{ToolName: tool.Name, Message: "execution failed", Cause: err}
		c.log.Error("Tool %s (%s) failed after %v: %v", tool.Name, call.ToolCallID, elapsed, err)
		c.record(tool.Name, OutcomeError, elapsed)
		return chat.ToolResult(call.ToolCallID, fmt.Errorf("%w: %w", chat.ErrToolExecution, toolErr).Error(), true), true
	}

	c.log.Debug("Tool %s (%s) completed in %v", tool.Name, call.ToolCallID, elapsed)
	c.record(tool.Name, OutcomeSuccess, elapsed)
	return chat.ToolResult(call.ToolCallID, result, false), true
}

// execute runs the handler in its own goroutine so a handler that ignores
// its context still cannot outlive the timeout or the run.
func (c *Coordinator) execute(ctx context.Context, tool Tool, args map[string]any) (any, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := tool.Execute(ctx, args)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) {
			return nil, c.deadlineError()
		}
		return out.value, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, c.deadlineError()
		}
		return nil, ctx.Err()
	}
}

func (c *Coordinator) deadlineError() error {
	return fmt.Errorf("timed out after %v: %w", c.timeout, context.DeadlineExceeded)
}

func (c *Coordinator) record(name, outcome string, d time.Duration) {
	if c.recorder != nil {
		c.recorder.ToolExecuted(name, outcome, d)
	}
}

func argsMap(args any) map[string]any {
	switch v := args.(type) {
	case map[string]any:
		return v
	case nil:
		return map[string]any{}
	default:
		return map[string]any{"value": v}
	}
}
