package thread

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/logger"
	"github.com/killallgit/threadline/pkg/tools"
)

// Runtime owns the message tree of one thread. Every mutation goes through
// the runtime lock: a command clones the current tree, mutates and validates
// the clone, and publishes it as a new Snapshot only when that succeeds.
// Listeners are called after the lock is released.
type Runtime struct {
	threadID    string
	transport   Transport
	coordinator *tools.Coordinator
	history     History
	encoder     AttachmentEncoder
	ids         IDGenerator
	diagnostics chat.Diagnostics
	observers   []RunObserver
	onError     func(error)
	log         *logger.ComponentLogger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu        sync.Mutex
	snap      *Snapshot
	run       *run
	lastRun   *run
	listeners []listener
	nextID    uint64

	persistMu sync.Mutex
}

type listener struct {
	id uint64
	fn func()
}

// New creates a runtime with an empty tree
func New(transport Transport, opts ...Option) *Runtime {
	r := &Runtime{
		threadID:  "default",
		transport: transport,
		encoder:   DataURLEncoder{},
		ids:       defaultIDGenerator,
		log:       logger.WithComponent("thread"),
		snap:      &Snapshot{Tree: chat.NewMessageTree()},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.baseCtx, r.stop = context.WithCancel(context.Background())
	return r
}

// Load creates a runtime and restores its tree from the history adapter.
// Messages persisted while running are restored as incomplete.
func Load(ctx context.Context, transport Transport, opts ...Option) (*Runtime, error) {
	r := New(transport, opts...)
	if r.history == nil {
		return r, nil
	}

	export, err := r.history.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if len(export.Messages) == 0 {
		return r, nil
	}

	tree, err := chat.ImportTree(settleInterrupted(export))
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	r.mu.Lock()
	r.publishLocked(tree)
	r.mu.Unlock()
	r.log.Info("Loaded thread %s with %d messages", r.threadID, tree.Len())
	return r, nil
}

func settleInterrupted(export chat.Export) chat.Export {
	messages := make([]*chat.Message, len(export.Messages))
	for i, m := range export.Messages {
		if m != nil && m.IsRunning() {
			acc := chat.ResumeAccumulator(m.Parts, false)
			acc.Cancel()
			m = m.With(func(next *chat.Message) {
				next.Parts = acc.Parts()
				next.Status = chat.MessageStatus{Type: chat.StatusIncomplete, Reason: chat.ReasonUnknown}
			})
		}
		messages[i] = m
	}
	return chat.Export{HeadID: export.HeadID, Messages: messages}
}

// ThreadID returns the id the runtime was configured with
func (r *Runtime) ThreadID() string {
	return r.threadID
}

// Snapshot returns the current immutable view of the thread
func (r *Runtime) Snapshot() *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// IsRunning reports whether a run is in flight
func (r *Runtime) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run != nil
}

// BranchInfo returns the sibling position of a message
func (r *Runtime) BranchInfo(messageID string) (chat.BranchInfo, bool) {
	return r.Snapshot().Tree.BranchInfo(messageID)
}

// Subscribe registers fn to be called after every published change. The
// returned function unsubscribes and may be called any number of times.
func (r *Runtime) Subscribe(fn func()) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners = append(r.listeners, listener{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.listeners = slices.DeleteFunc(r.listeners, func(l listener) bool { return l.id == id })
		})
	}
}

func (r *Runtime) notify() {
	r.mu.Lock()
	listeners := slices.Clone(r.listeners)
	r.mu.Unlock()

	for _, l := range listeners {
		l.fn()
	}
}

// publishLocked makes tree the current state. tree must not be mutated afterwards.
func (r *Runtime) publishLocked(tree *chat.MessageTree) {
	next := &Snapshot{
		Tree:     tree,
		Messages: tree.ActivePath(),
		Version:  r.snap.Version + 1,
	}
	if r.run != nil {
		next.Running = true
		next.ActiveMessageID = r.run.messageID
	}
	r.snap = next
}

// Send appends a user message to the end of the active path and starts a run
// answering it.
func (r *Runtime) Send(ctx context.Context, content string, opts ...CommandOption) error {
	cfg := applyCommandOptions(opts)
	if r.IsRunning() {
		return chat.ErrBusy
	}

	attachments, err := r.encodeAttachments(ctx, cfg.attachments)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(content)
	if text == "" && len(attachments) == 0 {
		return ErrEmptyMessage
	}

	r.mu.Lock()
	if r.run != nil {
		r.mu.Unlock()
		return chat.ErrBusy
	}
	tree := r.snap.Tree.Clone()
	if err := clearRequiresAction(tree); err != nil {
		r.mu.Unlock()
		return err
	}
	user := r.newMessage(chat.RoleUser, tree.Head(), text, attachments)
	rn, req, err := r.startRunLocked(tree, user, user.ID, cfg.metadata, false)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	r.launch(rn, req)
	return nil
}

// Edit creates a sibling of messageID holding the new content. Editing a
// user message starts a run answering the edit; editing any other message
// only switches the active path to the new branch.
func (r *Runtime) Edit(ctx context.Context, messageID, content string, opts ...CommandOption) error {
	cfg := applyCommandOptions(opts)
	if r.IsRunning() {
		return chat.ErrBusy
	}
	if !r.Snapshot().Tree.OnActivePath(messageID) {
		return fmt.Errorf("%w: %q is not on the active path", chat.ErrInvalidTarget, messageID)
	}

	attachments, err := r.encodeAttachments(ctx, cfg.attachments)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(content)
	if text == "" && len(attachments) == 0 {
		return ErrEmptyMessage
	}

	r.mu.Lock()
	if r.run != nil {
		r.mu.Unlock()
		return chat.ErrBusy
	}
	tree := r.snap.Tree.Clone()
	original, ok := tree.Get(messageID)
	if !ok || !tree.OnActivePath(messageID) {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q is not on the active path", chat.ErrInvalidTarget, messageID)
	}
	edited := r.newMessage(original.Role, original.ParentID, text, attachments)

	if !edited.IsUser() {
		err := r.commitLocked(tree, func(t *chat.MessageTree) error {
			if err := t.Insert(edited); err != nil {
				return err
			}
			return t.SetHead(edited.ID)
		})
		r.mu.Unlock()
		if err != nil {
			return err
		}
		r.log.Debug("Edited %s message %s as %s", original.Role, messageID, edited.ID)
		r.notify()
		r.persist()
		return nil
	}

	rn, req, err := r.startRunLocked(tree, edited, edited.ID, cfg.metadata, false)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.launch(rn, req)
	return nil
}

// Reload starts a new assistant branch under parentID without new input.
func (r *Runtime) Reload(ctx context.Context, parentID string, opts ...CommandOption) error {
	cfg := applyCommandOptions(opts)

	r.mu.Lock()
	if r.run != nil {
		r.mu.Unlock()
		return chat.ErrBusy
	}
	tree := r.snap.Tree.Clone()
	if _, ok := tree.Get(parentID); !ok || !tree.OnActivePath(parentID) {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q is not on the active path", chat.ErrInvalidTarget, parentID)
	}
	rn, req, err := r.startRunLocked(tree, nil, parentID, cfg.metadata, true)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.launch(rn, req)
	return nil
}

// Regenerate reloads the parent of an assistant message on the active path.
func (r *Runtime) Regenerate(ctx context.Context, messageID string, opts ...CommandOption) error {
	snap := r.Snapshot()
	msg, ok := snap.Tree.Get(messageID)
	if !ok || !msg.IsAssistant() || msg.ParentID == "" || !snap.Tree.OnActivePath(messageID) {
		return fmt.Errorf("%w: %q is not a regenerable assistant message", chat.ErrInvalidTarget, messageID)
	}
	return r.Reload(ctx, msg.ParentID, opts...)
}

// SelectBranch moves the active path through messageID down to a leaf.
func (r *Runtime) SelectBranch(messageID string) error {
	r.mu.Lock()
	err := r.commitLocked(r.snap.Tree.Clone(), func(t *chat.MessageTree) error {
		return t.SelectBranch(messageID)
	})
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.notify()
	r.persist()
	return nil
}

// Cancel stops the in-flight run. Its message becomes incomplete with the
// output received so far; chunks arriving later are dropped. It reports
// whether a run was cancelled.
func (r *Runtime) Cancel() bool {
	r.mu.Lock()
	rn := r.run
	if rn == nil {
		r.mu.Unlock()
		return false
	}
	rn.cancel()
	rn.acc.Cancel()
	final := r.settleLocked(rn, rn.acc.Status(), nil)
	r.mu.Unlock()

	r.log.Info("Cancelled run %s", rn.messageID)
	r.finished(rn, final)
	return true
}

// AddToolResult resolves a pending tool call out of band. A call that
// already has a result is left unchanged.
func (r *Runtime) AddToolResult(ctx context.Context, toolCallID string, result any, isError bool) error {
	r.mu.Lock()
	if rn := r.run; rn != nil {
		if tc, ok := rn.acc.ToolCall(toolCallID); ok {
			if tc.HasResult() {
				r.mu.Unlock()
				return nil
			}
			r.claimLocked(rn.messageID, toolCallID)
			if err := rn.acc.Apply(chat.ToolResult(toolCallID, result, isError)); err != nil {
				r.mu.Unlock()
				return err
			}
			r.syncLocked(rn, rn.acc.Status())
			r.mu.Unlock()
			r.notify()
			return r.forwardToolResult(ctx, toolCallID, result, isError)
		}
	}

	msg, ok := r.findToolCallLocked(toolCallID)
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", chat.ErrOrphanToolResult, toolCallID)
	}
	if tc, _, _ := msg.ToolCall(toolCallID); tc.HasResult() {
		r.mu.Unlock()
		return nil
	}
	r.claimLocked(msg.ID, toolCallID)

	acc := chat.ResumeAccumulator(msg.Parts, true)
	if err := acc.Apply(chat.ToolResult(toolCallID, result, isError)); err != nil {
		r.mu.Unlock()
		return err
	}
	status := msg.Status
	if status.Type == chat.StatusRequiresAction {
		status = acc.Status()
		if status.Type == chat.StatusComplete {
			status.Reason = chat.ReasonToolCalls
		}
	}
	next := msg.With(func(m *chat.Message) {
		m.Parts = acc.Parts()
		m.Status = status
	})
	tree, err := r.snap.Tree.WithReplaced(next)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.publishLocked(tree)
	r.mu.Unlock()

	r.notify()
	r.persist()
	return r.forwardToolResult(ctx, toolCallID, result, isError)
}

// Wait blocks until the current run settles and returns its terminal
// error. Without a run it returns the error of the last one.
func (r *Runtime) Wait(ctx context.Context) error {
	r.mu.Lock()
	rn, last := r.run, r.lastRun
	r.mu.Unlock()

	if rn == nil {
		if last != nil {
			r.mu.Lock()
			defer r.mu.Unlock()
			return last.err
		}
		return nil
	}
	select {
	case <-rn.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return rn.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels any run and waits for background work to stop.
func (r *Runtime) Close() error {
	r.Cancel()
	r.stop()
	r.wg.Wait()
	return nil
}

// commitLocked applies fn to tree, validates the result and publishes it.
func (r *Runtime) commitLocked(tree *chat.MessageTree, fn func(*chat.MessageTree) error) error {
	if err := fn(tree); err != nil {
		return err
	}
	if err := tree.Validate(); err != nil {
		return err
	}
	r.publishLocked(tree)
	return nil
}

func (r *Runtime) newMessage(role chat.Role, parentID, text string, attachments []*chat.Attachment) *chat.Message {
	msg := chat.NewUserMessage(r.ids(), parentID, text)
	msg.Role = role
	msg.Attachments = attachments
	return msg
}

func (r *Runtime) encodeAttachments(ctx context.Context, blobs []Blob) ([]*chat.Attachment, error) {
	if len(blobs) == 0 {
		return nil, nil
	}
	out := make([]*chat.Attachment, 0, len(blobs))
	for _, blob := range blobs {
		att, err := r.encoder.Encode(ctx, r.ids(), blob)
		if err != nil {
			if !errors.Is(err, chat.ErrAttachmentEncoding) {
				err = fmt.Errorf("%w: %w", chat.ErrAttachmentEncoding, err)
			}
			return nil, err
		}
		out = append(out, att)
	}
	return out, nil
}

// clearRequiresAction settles messages on the active path that still wait
// for tool results: a new user turn supersedes them.
func clearRequiresAction(tree *chat.MessageTree) error {
	for _, m := range tree.ActivePath() {
		if m.Status.Type != chat.StatusRequiresAction {
			continue
		}
		acc := chat.ResumeAccumulator(m.Parts, true)
		acc.Cancel()
		err := tree.Replace(m.With(func(next *chat.Message) {
			next.Parts = acc.Parts()
			next.Status = chat.MessageStatus{Type: chat.StatusIncomplete, Reason: chat.ReasonToolCalls}
		}))
		if err != nil {
			return err
		}
	}
	return nil
}

// claimLocked keeps the coordinator from executing a call resolved out of band.
func (r *Runtime) claimLocked(messageID, toolCallID string) {
	if r.coordinator != nil {
		r.coordinator.Claim(messageID, toolCallID)
	}
}

// findToolCallLocked finds the message holding a tool call, preferring the active path.
func (r *Runtime) findToolCallLocked(toolCallID string) (*chat.Message, bool) {
	for i := len(r.snap.Messages) - 1; i >= 0; i-- {
		if _, _, ok := r.snap.Messages[i].ToolCall(toolCallID); ok {
			return r.snap.Messages[i], true
		}
	}
	for _, m := range r.snap.Tree.Export().Messages {
		if _, _, ok := m.ToolCall(toolCallID); ok {
			return m, true
		}
	}
	return nil, false
}

func (r *Runtime) forwardToolResult(ctx context.Context, toolCallID string, result any, isError bool) error {
	sink, ok := r.transport.(ToolResultSink)
	if !ok {
		return nil
	}
	if err := sink.AddToolResult(ctx, toolCallID, result, isError); err != nil {
		return fmt.Errorf("forward tool result %s: %w", toolCallID, err)
	}
	return nil
}

func (r *Runtime) advertisedTools() []tools.Definition {
	if r.coordinator == nil {
		return nil
	}
	return r.coordinator.Registry().Advertised()
}

// persist saves the latest snapshot. Saves are serialized so the last one
// always carries the newest state.
func (r *Runtime) persist() {
	if r.history == nil {
		return
	}
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	export := r.Snapshot().Tree.Export()
	if err := r.history.Save(context.WithoutCancel(r.baseCtx), export); err != nil {
		r.log.Error("Failed to save thread %s: %v", r.threadID, err)
		r.reportError(fmt.Errorf("save history: %w", err))
	}
}

func (r *Runtime) reportError(err error) {
	if r.onError != nil {
		r.onError(err)
	}
}
