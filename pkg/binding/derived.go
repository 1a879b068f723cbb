package binding

import (
	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/thread"
)

// Derived is a value computed from the snapshot. It is recomputed only when
// its dependency key changes, lazily on read when nobody listens, and its
// listeners run only when the computed value differs from the last one they
// saw.
type Derived[T comparable] struct {
	store   *Store
	key     func(*thread.Snapshot) any
	compute func(*thread.Snapshot) (T, bool)

	// guarded by store.mu
	cache    derivedValue[T]
	notified derivedValue[T]
	subs     subscribers
	disposed bool
}

type derivedValue[T comparable] struct {
	valid   bool
	key     any
	value   T
	present bool
}

// Derive registers a derived binding. key returns a comparable dependency
// key; compute runs again only when it changes. A nil key recomputes on every
// snapshot.
func Derive[T comparable](s *Store, key func(*thread.Snapshot) any, compute func(*thread.Snapshot) (T, bool)) *Derived[T] {
	d := &Derived[T]{store: s, key: key, compute: compute}
	s.add(d)
	return d
}

// Value returns the computed value for the store's current snapshot.
func (d *Derived[T]) Value() (T, bool) {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	if d.disposed {
		var zero T
		return zero, false
	}
	v := d.get(d.store.snap)
	return v.value, v.present
}

// Subscribe registers fn. The returned function may be called repeatedly.
func (d *Derived[T]) Subscribe(fn func()) func() {
	return d.store.subscribe(&d.subs, fn, func() {
		d.notified = d.get(d.store.snap)
	})
}

// Dispose detaches the binding. It is safe to call more than once.
func (d *Derived[T]) Dispose() {
	d.store.mu.Lock()
	if d.disposed {
		d.store.mu.Unlock()
		return
	}
	d.disposed = true
	d.subs = subscribers{}
	d.store.mu.Unlock()
	d.store.remove(d)
}

// get returns the cached value when the dependency key is unchanged.
func (d *Derived[T]) get(snap *thread.Snapshot) derivedValue[T] {
	var key any
	if d.key != nil {
		key = d.key(snap)
		if d.cache.valid && d.cache.key == key {
			return d.cache
		}
	}
	value, present := d.compute(snap)
	d.cache = derivedValue[T]{valid: true, key: key, value: value, present: present}
	return d.cache
}

func (d *Derived[T]) update(snap *thread.Snapshot) bool {
	if d.subs.empty() {
		return false
	}
	next := d.get(snap)
	if next.present == d.notified.present && next.value == d.notified.value {
		return false
	}
	d.notified = next
	return true
}

func (d *Derived[T]) listeners() []func() {
	return d.subs.fns()
}

// MessageState is the position of a message on the active path.
type MessageState struct {
	ID           string
	ParentID     string
	IsLast       bool
	BranchNumber int
	BranchCount  int
}

type branchKey struct {
	msg     *chat.Message
	version uint64
	pathLen int
}

func messageKey(i int) func(*thread.Snapshot) any {
	return func(snap *thread.Snapshot) any {
		m, ok := snap.Message(i)
		if !ok {
			return branchKey{pathLen: len(snap.Messages)}
		}
		return branchKey{msg: m, version: snap.Tree.ChildrenVersion(m.ParentID), pathLen: len(snap.Messages)}
	}
}

// BranchInfo derives the sibling position of the message at index i.
func BranchInfo(s *Store, i int) *Derived[chat.BranchInfo] {
	return Derive(s, messageKey(i), func(snap *thread.Snapshot) (chat.BranchInfo, bool) {
		return snap.BranchInfo(i)
	})
}

// MessageStateAt derives the MessageState of the message at index i.
func MessageStateAt(s *Store, i int) *Derived[MessageState] {
	return Derive(s, messageKey(i), func(snap *thread.Snapshot) (MessageState, bool) {
		m, ok := snap.Message(i)
		if !ok {
			return MessageState{}, false
		}
		info, _ := snap.Tree.BranchInfo(m.ID)
		return MessageState{
			ID:           m.ID,
			ParentID:     m.ParentID,
			IsLast:       snap.IsLast(i),
			BranchNumber: info.Number,
			BranchCount:  info.Count,
		}, true
	})
}

// RunState is whether the thread is running and which message streams.
type RunState struct {
	Running         bool
	ActiveMessageID string
}

// Run derives the run state of the thread.
func Run(s *Store) *Derived[RunState] {
	return Derive(s, nil, func(snap *thread.Snapshot) (RunState, bool) {
		return RunState{Running: snap.Running, ActiveMessageID: snap.ActiveMessageID}, true
	})
}
