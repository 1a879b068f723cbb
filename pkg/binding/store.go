// Package binding exposes path-addressed views of a thread. A binding
// notifies its listeners only when the value at its path changes: by
// identity for plain bindings, by value for derived ones.
package binding

import (
	"slices"
	"sync"

	"github.com/killallgit/threadline/pkg/logger"
	"github.com/killallgit/threadline/pkg/thread"
)

// Source is the change feed a Store observes. *thread.Runtime implements it.
type Source interface {
	Snapshot() *thread.Snapshot
	Subscribe(fn func()) func()
}

type entry interface {
	update(snap *thread.Snapshot) bool
	listeners() []func()
}

// Store fans one source's changes out to bindings. Listeners are called one
// at a time, never while the store lock is held; changes published while
// listeners run are folded into one more dispatch round.
type Store struct {
	source      Source
	unsubscribe func()
	log         *logger.ComponentLogger

	mu          sync.Mutex
	snap        *thread.Snapshot
	entries     []entry
	dispatching bool
	dirty       bool
	closed      bool
}

// NewStore subscribes to source
func NewStore(source Source) *Store {
	s := &Store{
		source: source,
		snap:   source.Snapshot(),
		log:    logger.WithComponent("binding"),
	}
	s.unsubscribe = source.Subscribe(s.refresh)
	return s
}

// Snapshot returns the snapshot of the last dispatch round
func (s *Store) Snapshot() *thread.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Bind returns an identity binding for p
func (s *Store) Bind(p Path) *Binding {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := &Binding{store: s, path: p}
	b.value, b.present = Resolve(s.snap, p)
	s.entries = append(s.entries, b)
	return b
}

// Close detaches the store from its source. Bindings keep their last values.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.unsubscribe()
}

func (s *Store) add(e entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func (s *Store) remove(e entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = slices.DeleteFunc(s.entries, func(x entry) bool { return x == e })
}

func (s *Store) refresh() {
	s.mu.Lock()
	if s.dispatching || s.closed {
		s.dirty = true
		s.mu.Unlock()
		return
	}
	s.dispatching = true

	for rounds := 1; ; rounds++ {
		s.dirty = false
		snap := s.source.Snapshot()
		s.snap = snap

		var fire []func()
		for _, e := range s.entries {
			if e.update(snap) {
				fire = append(fire, e.listeners()...)
			}
		}
		s.mu.Unlock()

		for _, fn := range fire {
			fn()
		}

		s.mu.Lock()
		if !s.dirty || s.closed {
			if rounds > 1 {
				s.log.Debug("Dispatched snapshot %d after %d rounds", snap.Version, rounds)
			}
			break
		}
	}
	s.dispatching = false
	s.mu.Unlock()
}

// subscribers is the listener list shared by bindings. It is guarded by the
// owning store's lock.
type subscribers struct {
	next uint64
	subs []subscriber
}

type subscriber struct {
	id uint64
	fn func()
}

func (l *subscribers) add(fn func()) uint64 {
	id := l.next
	l.next++
	l.subs = append(l.subs, subscriber{id: id, fn: fn})
	return id
}

func (l *subscribers) remove(id uint64) {
	l.subs = slices.DeleteFunc(l.subs, func(s subscriber) bool { return s.id == id })
}

func (l *subscribers) empty() bool {
	return len(l.subs) == 0
}

func (l *subscribers) fns() []func() {
	out := make([]func(), len(l.subs))
	for i, s := range l.subs {
		out[i] = s.fn
	}
	return out
}

// subscribe registers fn on l under the store lock and returns an idempotent
// unsubscribe.
func (s *Store) subscribe(l *subscribers, fn func(), onFirst func()) func() {
	s.mu.Lock()
	if l.empty() && onFirst != nil {
		onFirst()
	}
	id := l.add(fn)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			l.remove(id)
		})
	}
}
