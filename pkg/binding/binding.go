package binding

import (
	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/thread"
)

// Binding follows the value at one path. Its listeners run when that value
// is replaced, appears or disappears.
type Binding struct {
	store *Store
	path  Path

	// guarded by store.mu
	value    any
	present  bool
	subs     subscribers
	disposed bool
}

func (b *Binding) Path() Path {
	return b.path
}

// Value returns the value at the path as of the store's last dispatch.
func (b *Binding) Value() (any, bool) {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	if b.disposed {
		return nil, false
	}
	return b.value, b.present
}

// Message returns the value as a message
func (b *Binding) Message() (*chat.Message, bool) {
	v, ok := b.Value()
	m, isMsg := v.(*chat.Message)
	return m, ok && isMsg
}

// Part returns the value as a message part
func (b *Binding) Part() (chat.Part, bool) {
	v, ok := b.Value()
	p, isPart := v.(chat.Part)
	return p, ok && isPart
}

// Attachment returns the value as an attachment
func (b *Binding) Attachment() (*chat.Attachment, bool) {
	v, ok := b.Value()
	a, isAtt := v.(*chat.Attachment)
	return a, ok && isAtt
}

// Subscribe registers fn. The returned function may be called repeatedly.
func (b *Binding) Subscribe(fn func()) func() {
	return b.store.subscribe(&b.subs, fn, nil)
}

// Dispose detaches the binding and drops its listeners. It is safe to call
// more than once and on a path that no longer resolves.
func (b *Binding) Dispose() {
	b.store.mu.Lock()
	if b.disposed {
		b.store.mu.Unlock()
		return
	}
	b.disposed = true
	b.subs = subscribers{}
	b.value, b.present = nil, false
	b.store.mu.Unlock()
	b.store.remove(b)
}

func (b *Binding) update(snap *thread.Snapshot) bool {
	v, ok := Resolve(snap, b.path)
	if ok == b.present && v == b.value {
		return false
	}
	b.value, b.present = v, ok
	return !b.subs.empty()
}

func (b *Binding) listeners() []func() {
	return b.subs.fns()
}
