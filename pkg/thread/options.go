package thread

import (
	"github.com/google/uuid"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/tools"
)

// IDGenerator returns unique message and attachment ids
type IDGenerator func() string

// Option configures a Runtime
type Option func(*Runtime)

// WithThreadID names the thread in transport requests and logs
func WithThreadID(id string) Option {
	return func(r *Runtime) {
		r.threadID = id
	}
}

// WithCoordinator executes locally registered tools. Without one, every tool
// call waits for a remote or out-of-band result.
func WithCoordinator(c *tools.Coordinator) Option {
	return func(r *Runtime) {
		r.coordinator = c
	}
}

// WithHistory persists the tree after every run and branch change
func WithHistory(h History) Option {
	return func(r *Runtime) {
		r.history = h
	}
}

// WithAttachmentEncoder replaces the default data URL encoder
func WithAttachmentEncoder(e AttachmentEncoder) Option {
	return func(r *Runtime) {
		r.encoder = e
	}
}

// WithIDGenerator replaces uuid based ids
func WithIDGenerator(g IDGenerator) Option {
	return func(r *Runtime) {
		r.ids = g
	}
}

// WithDiagnostics receives chunk counts from every run's accumulator
func WithDiagnostics(d chat.Diagnostics) Option {
	return func(r *Runtime) {
		r.diagnostics = d
	}
}

// WithRunObserver adds an observer of run start and settlement
func WithRunObserver(o RunObserver) Option {
	return func(r *Runtime) {
		r.observers = append(r.observers, o)
	}
}

// WithErrorHandler receives errors that do not fail a command: orphan tool
// results, run failures and history failures.
func WithErrorHandler(fn func(error)) Option {
	return func(r *Runtime) {
		r.onError = fn
	}
}

func defaultIDGenerator() string {
	return uuid.NewString()
}

// CommandOption configures a single Send, Edit or Reload
type CommandOption func(*commandConfig)

type commandConfig struct {
	attachments []Blob
	metadata    map[string]any
}

// WithAttachments adds blobs to the new user message
func WithAttachments(blobs ...Blob) CommandOption {
	return func(c *commandConfig) {
		c.attachments = append(c.attachments, blobs...)
	}
}

// WithMetadata forwards run configuration to the transport request
func WithMetadata(md map[string]any) CommandOption {
	return func(c *commandConfig) {
		if c.metadata == nil {
			c.metadata = make(map[string]any, len(md))
		}
		for k, v := range md {
			c.metadata[k] = v
		}
	}
}

func applyCommandOptions(opts []CommandOption) commandConfig {
	var cfg commandConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
