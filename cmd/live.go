package cmd

import (
	"fmt"
	"sync"

	"github.com/killallgit/threadline/pkg/binding"
	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/thread"
)

// liveView prints the assistant message at the end of the active path while
// it streams, then its tool calls and status once the run settles.
type liveView struct {
	printer *Printer
	store   *binding.Store
	active  *binding.Binding
	run     *binding.Derived[binding.RunState]
	stop    []func()

	mu        sync.Mutex
	messageID string
	printed   int
	settled   map[string]bool
}

func newLiveView(source binding.Source, p *Printer) *liveView {
	v := &liveView{
		printer: p,
		store:   binding.NewStore(source),
		settled: make(map[string]bool),
	}
	v.active = v.store.Bind(binding.Thread())
	v.run = binding.Run(v.store)
	v.stop = append(v.stop,
		v.active.Subscribe(v.update),
		v.run.Subscribe(v.runChanged),
	)
	return v
}

func (v *liveView) update() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.syncLocked()
}

func (v *liveView) syncLocked() {
	snap := v.store.Snapshot()
	if len(snap.Messages) == 0 {
		return
	}
	i := len(snap.Messages) - 1
	m := snap.Messages[i]
	if !m.IsAssistant() || v.settled[m.ID] {
		return
	}
	if m.ID != v.messageID && !m.IsRunning() {
		return
	}
	v.printLocked(snap, i)
}

// printLocked prints the text of message i not printed yet, starting with its
// header when it is a new message.
func (v *liveView) printLocked(snap *thread.Snapshot, i int) {
	m := snap.Messages[i]
	if m.ID != v.messageID {
		v.messageID = m.ID
		v.printed = 0
		info, _ := snap.BranchInfo(i)
		v.printer.Header(m, info)
	}
	if text := m.Text(); len(text) > v.printed {
		fmt.Fprint(v.printer.out, text[v.printed:])
		v.printed = len(text)
	}
}

func (v *liveView) runChanged() {
	if state, _ := v.run.Value(); !state.Running {
		v.Settle()
	}
}

// Settle prints the tail of the last assistant message once it stopped
// running. Each message is settled once.
func (v *liveView) Settle() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.syncLocked()

	snap := v.store.Snapshot()
	if len(snap.Messages) == 0 {
		return
	}
	i := len(snap.Messages) - 1
	m := snap.Messages[i]
	if !m.IsAssistant() || m.IsRunning() || v.settled[m.ID] {
		return
	}
	v.printLocked(snap, i)
	v.settled[m.ID] = true
	if v.printed > 0 {
		fmt.Fprintln(v.printer.out)
	}
	for _, part := range m.Parts {
		if call, ok := part.(*chat.ToolCallPart); ok {
			v.printer.part(call)
		}
	}
	v.printer.Status(m)
}

func (v *liveView) Close() {
	for _, stop := range v.stop {
		stop()
	}
	v.active.Dispose()
	v.run.Dispose()
	v.store.Close()
}
