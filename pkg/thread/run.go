package thread

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/killallgit/threadline/pkg/chat"
)

// run is one in-flight assistant turn. Only the runtime that owns it touches
// acc, always under the runtime lock.
type run struct {
	messageID string
	acc       *chat.Accumulator
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	started   time.Time
}

// startRunLocked inserts the optional user message and a running assistant
// message under parentID into tree, then publishes tree with the run active.
func (r *Runtime) startRunLocked(tree *chat.MessageTree, user *chat.Message, parentID string, metadata map[string]any, regenerate bool) (*run, Request, error) {
	if user != nil {
		if err := tree.Insert(user); err != nil {
			return nil, Request{}, err
		}
	}
	assistant := chat.NewAssistantMessage(r.ids(), parentID)
	if err := tree.Insert(assistant); err != nil {
		return nil, Request{}, err
	}
	if err := tree.SetHead(assistant.ID); err != nil {
		return nil, Request{}, err
	}
	if err := tree.Validate(); err != nil {
		return nil, Request{}, err
	}

	var accOpts []chat.AccumulatorOption
	if r.diagnostics != nil {
		accOpts = append(accOpts, chat.WithDiagnostics(r.diagnostics))
	}
	ctx, cancel := context.WithCancel(r.baseCtx)
	rn := &run{
		messageID: assistant.ID,
		acc:       chat.NewAccumulator(accOpts...),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		started:   time.Now(),
	}
	req := Request{
		ThreadID:   r.threadID,
		Messages:   tree.PathTo(parentID),
		Tools:      r.advertisedTools(),
		Metadata:   metadata,
		Regenerate: regenerate,
	}

	r.run = rn
	r.publishLocked(tree)
	return rn, req, nil
}

func (r *Runtime) launch(rn *run, req Request) {
	r.log.Info("Starting run %s with %d messages of context", rn.messageID, len(req.Messages))
	r.notify()
	for _, o := range r.observers {
		o.RunStarted(rn.messageID)
	}
	r.persist()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.consume(rn, req)
	}()
}

func (r *Runtime) consume(rn *run, req Request) {
	defer close(rn.done)

	stream, err := r.transport.Stream(rn.ctx, req)
	if err != nil {
		if !errors.Is(err, chat.ErrStream) {
			err = fmt.Errorf("%w: %w", chat.ErrStream, err)
		}
		r.fail(rn, err)
		return
	}

	for {
		select {
		case <-rn.ctx.Done():
			return
		case chunk, ok := <-stream:
			if !ok {
				r.complete(rn)
				return
			}
			if !r.apply(rn, chunk) {
				return
			}
		}
	}
}

// apply merges one chunk into the run and reports whether the stream should
// still be read.
func (r *Runtime) apply(rn *run, chunk chat.Chunk) bool {
	r.mu.Lock()
	if r.run != rn {
		r.mu.Unlock()
		r.log.Debug("Dropping late %s chunk for %s", chunk.Type, rn.messageID)
		return false
	}

	if err := rn.acc.Apply(chunk); err != nil {
		r.mu.Unlock()
		if errors.Is(err, chat.ErrOrphanToolResult) {
			r.log.Warn("Ignoring tool result in run %s: %v", rn.messageID, err)
			r.reportError(err)
			return true
		}
		r.fail(rn, err)
		return false
	}

	if rn.acc.Finished() {
		r.settleFinished(rn)
		return false
	}

	r.syncLocked(rn, rn.acc.Status())
	var call *chat.ToolCallPart
	if chunk.Type == chat.ChunkToolCallEnd && r.coordinator != nil {
		call, _ = rn.acc.ToolCall(chunk.ToolCallID)
	}
	r.mu.Unlock()
	r.notify()

	if call != nil {
		r.executeTool(rn, call)
	}
	return true
}

// settleFinished settles a run whose accumulator has finished. Calls whose
// arguments only completed at finish are handed to the coordinator first.
// It is entered with the lock held and releases it.
func (r *Runtime) settleFinished(rn *run) {
	if calls := r.unresolvedCallsLocked(rn); len(calls) > 0 {
		r.mu.Unlock()
		for _, call := range calls {
			r.executeTool(rn, call)
		}
		r.mu.Lock()
		if r.run != rn {
			r.mu.Unlock()
			return
		}
	}

	final := r.settleLocked(rn, rn.acc.Status(), nil)
	r.mu.Unlock()
	rn.cancel()
	r.finished(rn, final)
}

// unresolvedCallsLocked lists the run's calls with complete arguments and no
// result. The coordinator skips the ones it already claimed.
func (r *Runtime) unresolvedCallsLocked(rn *run) []*chat.ToolCallPart {
	if r.coordinator == nil {
		return nil
	}
	var calls []*chat.ToolCallPart
	for _, p := range rn.acc.Parts() {
		if tc, ok := p.(*chat.ToolCallPart); ok && tc.ArgsComplete && !tc.Resolved {
			calls = append(calls, tc)
		}
	}
	return calls
}

// executeTool runs a locally executable call outside the lock and merges its
// result if the run is still current and nothing resolved the call meanwhile.
func (r *Runtime) executeTool(rn *run, call *chat.ToolCallPart) {
	chunk, ok := r.coordinator.Handle(rn.ctx, rn.messageID, call)
	if !ok {
		return
	}

	r.mu.Lock()
	if r.run != rn {
		r.mu.Unlock()
		r.log.Debug("Dropping result of %s, run %s is over", call.ToolCallID, rn.messageID)
		return
	}
	if tc, found := rn.acc.ToolCall(call.ToolCallID); !found || tc.Resolved {
		r.mu.Unlock()
		return
	}
	if err := rn.acc.Apply(chunk); err != nil {
		r.mu.Unlock()
		r.log.Warn("Could not apply result of %s: %v", call.ToolCallID, err)
		return
	}
	r.syncLocked(rn, rn.acc.Status())
	r.mu.Unlock()
	r.notify()

	if err := r.forwardToolResult(rn.ctx, call.ToolCallID, chunk.Result, chunk.IsError); err != nil {
		r.log.Warn("%v", err)
		r.reportError(err)
	}
}

// complete settles a run whose stream closed.
func (r *Runtime) complete(rn *run) {
	r.mu.Lock()
	if r.run != rn {
		r.mu.Unlock()
		return
	}
	if !rn.acc.Finished() {
		if err := rn.acc.Apply(chat.Finish(chat.ReasonUnknown)); err != nil {
			r.mu.Unlock()
			r.fail(rn, err)
			return
		}
	}
	r.settleFinished(rn)
}

// fail settles a run with err. Parts received so far are kept; a message
// that already finished keeps its status.
func (r *Runtime) fail(rn *run, err error) {
	r.mu.Lock()
	if r.run != rn {
		r.mu.Unlock()
		return
	}
	status := rn.acc.Status()
	if !rn.acc.Finished() {
		rn.acc.Cancel()
		status = chat.MessageStatus{Type: chat.StatusIncomplete, Reason: chat.ReasonError, Error: err.Error()}
	}
	final := r.settleLocked(rn, status, err)
	r.mu.Unlock()

	rn.cancel()
	r.log.Error("Run %s failed: %v", rn.messageID, err)
	r.reportError(err)
	r.finished(rn, final)
}

// syncLocked publishes the accumulator's parts with status on the run's message.
func (r *Runtime) syncLocked(rn *run, status chat.MessageStatus) *chat.Message {
	msg, ok := r.snap.Tree.Get(rn.messageID)
	if !ok {
		return nil
	}
	next := msg.With(func(m *chat.Message) {
		m.Parts = rn.acc.Parts()
		m.Status = status
	})
	tree, err := r.snap.Tree.WithReplaced(next)
	if err != nil {
		r.log.Error("Could not update message %s: %v", rn.messageID, err)
		return msg
	}
	r.publishLocked(tree)
	return next
}

// settleLocked ends rn and publishes its final message.
func (r *Runtime) settleLocked(rn *run, status chat.MessageStatus, err error) *chat.Message {
	rn.err = err
	r.run = nil
	r.lastRun = rn
	return r.syncLocked(rn, status)
}

func (r *Runtime) finished(rn *run, final *chat.Message) {
	r.log.Info("Run %s settled as %s after %v", rn.messageID, final.Status.Type, time.Since(rn.started).Round(time.Millisecond))
	r.notify()
	for _, o := range r.observers {
		o.RunFinished(final, rn.err)
	}
	r.persist()
}
