// Package index keeps a semantic index of finished messages so past turns
// can be searched across threads.
package index

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/tmc/langchaingo/embeddings"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/logger"
	"github.com/killallgit/threadline/pkg/thread"
)

const DefaultCollection = "messages"

// Hit is one search result.
type Hit struct {
	MessageID  string
	ThreadID   string
	Role       chat.Role
	Text       string
	Similarity float32
}

// MessageIndex stores message text in a chromem collection keyed by
// thread and message id. Re-indexing a message replaces its document.
type MessageIndex struct {
	collection *chromem.Collection
	timeout    time.Duration
	log        *logger.ComponentLogger
}

type Option func(*options)

type options struct {
	path       string
	collection string
	timeout    time.Duration
}

// WithPersistence stores the index under dir. The default is in-memory.
func WithPersistence(dir string) Option {
	return func(o *options) {
		o.path = dir
	}
}

func WithCollection(name string) Option {
	return func(o *options) {
		o.collection = name
	}
}

// WithTimeout bounds the embedding call made when a run finishes.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// EmbedderFunc adapts a langchaingo embedder to chromem.
func EmbedderFunc(e embeddings.Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return e.EmbedQuery(ctx, text)
	}
}

func New(embed chromem.EmbeddingFunc, opts ...Option) (*MessageIndex, error) {
	o := options{collection: DefaultCollection, timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	db := chromem.NewDB()
	if o.path != "" {
		var err error
		db, err = chromem.NewPersistentDB(o.path, false)
		if err != nil {
			return nil, fmt.Errorf("open index %s: %w", o.path, err)
		}
	}

	col, err := db.GetOrCreateCollection(o.collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", o.collection, err)
	}
	return &MessageIndex{
		collection: col,
		timeout:    o.timeout,
		log:        logger.WithComponent("index"),
	}, nil
}

// Count returns the number of indexed messages.
func (x *MessageIndex) Count() int {
	return x.collection.Count()
}

// Add indexes the text of msg. Messages without text are skipped.
func (x *MessageIndex) Add(ctx context.Context, threadID string, msg *chat.Message) error {
	text := strings.TrimSpace(msg.Text())
	if text == "" {
		return nil
	}
	doc := chromem.Document{
		ID:      documentID(threadID, msg.ID),
		Content: text,
		Metadata: map[string]string{
			"thread":  threadID,
			"message": msg.ID,
			"role":    string(msg.Role),
		},
	}
	if err := x.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("index message %s: %w", msg.ID, err)
	}
	return nil
}

// AddExport indexes every finished message of an exported tree.
func (x *MessageIndex) AddExport(ctx context.Context, threadID string, export chat.Export) (int, error) {
	n := 0
	for _, m := range export.Messages {
		if m.IsRunning() || m.IsSystem() {
			continue
		}
		if err := x.Add(ctx, threadID, m); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Search returns up to n messages most similar to query.
func (x *MessageIndex) Search(ctx context.Context, query string, n int) ([]Hit, error) {
	return x.search(ctx, query, n, nil)
}

// SearchThread restricts Search to one thread.
func (x *MessageIndex) SearchThread(ctx context.Context, threadID, query string, n int) ([]Hit, error) {
	return x.search(ctx, query, n, map[string]string{"thread": threadID})
}

func (x *MessageIndex) search(ctx context.Context, query string, n int, where map[string]string) ([]Hit, error) {
	count := x.collection.Count()
	if count == 0 || n <= 0 {
		return nil, nil
	}
	n = min(n, count)

	results, err := x.collection.Query(ctx, query, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			MessageID:  r.Metadata["message"],
			ThreadID:   r.Metadata["thread"],
			Role:       chat.Role(r.Metadata["role"]),
			Text:       r.Content,
			Similarity: r.Similarity,
		})
	}
	return hits, nil
}

// Observer indexes the final message of every run of threadID.
func (x *MessageIndex) Observer(threadID string) thread.RunObserver {
	return &runObserver{index: x, threadID: threadID}
}

type runObserver struct {
	index    *MessageIndex
	threadID string
}

func (o *runObserver) RunStarted(string) {}

func (o *runObserver) RunFinished(msg *chat.Message, _ error) {
	ctx, cancel := context.WithTimeout(context.Background(), o.index.timeout)
	defer cancel()
	if err := o.index.Add(ctx, o.threadID, msg); err != nil {
		o.index.log.Warn("Failed to index message %s: %v", msg.ID, err)
	}
}

func documentID(threadID, messageID string) string {
	return threadID + "/" + messageID
}
