package history

import (
	"context"
	"slices"
	"sync"

	"github.com/killallgit/threadline/pkg/chat"
)

// Memory keeps threads in process. Messages are immutable, so exports are
// stored without copying them.
type Memory struct {
	mu      sync.Mutex
	threads map[string]chat.Export
}

func NewMemory() *Memory {
	return &Memory{threads: make(map[string]chat.Export)}
}

// Thread returns the history adapter of one thread
func (m *Memory) Thread(id string) *MemoryThread {
	return &MemoryThread{store: m, id: id}
}

// MemoryThread implements thread.History for one thread id.
type MemoryThread struct {
	store *Memory
	id    string
}

func (t *MemoryThread) Load(ctx context.Context) (chat.Export, error) {
	if err := ctx.Err(); err != nil {
		return chat.Export{}, err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	export := t.store.threads[t.id]
	return chat.Export{HeadID: export.HeadID, Messages: slices.Clone(export.Messages)}, nil
}

func (t *MemoryThread) Save(ctx context.Context, export chat.Export) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.threads[t.id] = chat.Export{HeadID: export.HeadID, Messages: slices.Clone(export.Messages)}
	return nil
}
