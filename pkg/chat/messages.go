package chat

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// StatusType is the lifecycle state of a message.
type StatusType string

const (
	StatusRunning        StatusType = "running"
	StatusComplete       StatusType = "complete"
	StatusIncomplete     StatusType = "incomplete"
	StatusRequiresAction StatusType = "requires-action"
)

// Reasons attached to a MessageStatus.
const (
	ReasonStop      = "stop"
	ReasonUnknown   = "unknown"
	ReasonToolCalls = "tool-calls"
	ReasonCancelled = "cancelled"
	ReasonError     = "error"
)

// MessageStatus pairs a lifecycle state with the reason it was reached.
type MessageStatus struct {
	Type   StatusType `json:"type"`
	Reason string     `json:"reason,omitempty"`
	Error  string     `json:"error,omitempty"`
}

func (s MessageStatus) IsTerminal() bool {
	return s.Type == StatusComplete || s.Type == StatusIncomplete
}

// Attachment is a user supplied blob already encoded into message parts.
type Attachment struct {
	ID          string `json:"id"`
	Type        string `json:"type"` // "image", "file"
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Content     []Part `json:"-"`
}

// Message is an immutable node of the message tree. Updates always produce a
// new *Message; unchanged messages keep their pointer identity.
type Message struct {
	ID          string         `json:"id"`
	Role        Role           `json:"role"`
	ParentID    string         `json:"parent_id,omitempty"`
	Parts       []Part         `json:"-"`
	Attachments []*Attachment  `json:"-"`
	Status      MessageStatus  `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func NewUserMessage(id, parentID, content string) *Message {
	var parts []Part
	if text := strings.TrimSpace(content); text != "" {
		parts = []Part{&TextPart{Text: text, Status: PartComplete}}
	}
	return &Message{
		ID:        id,
		Role:      RoleUser,
		ParentID:  parentID,
		Parts:     parts,
		Status:    MessageStatus{Type: StatusComplete, Reason: ReasonStop},
		CreatedAt: time.Now(),
	}
}

func NewAssistantMessage(id, parentID string) *Message {
	return &Message{
		ID:        id,
		Role:      RoleAssistant,
		ParentID:  parentID,
		Status:    MessageStatus{Type: StatusRunning},
		CreatedAt: time.Now(),
	}
}

func NewSystemMessage(id, content string) *Message {
	return &Message{
		ID:        id,
		Role:      RoleSystem,
		Parts:     []Part{&TextPart{Text: content, Status: PartComplete}},
		Status:    MessageStatus{Type: StatusComplete, Reason: ReasonStop},
		CreatedAt: time.Now(),
	}
}

func (m *Message) IsUser() bool      { return m.Role == RoleUser }
func (m *Message) IsAssistant() bool { return m.Role == RoleAssistant }
func (m *Message) IsSystem() bool    { return m.Role == RoleSystem }
func (m *Message) IsRunning() bool   { return m.Status.Type == StatusRunning }

// Text joins every text part of the message with blank lines.
func (m *Message) Text() string {
	var texts []string
	for _, p := range m.Parts {
		if t, ok := p.(*TextPart); ok {
			texts = append(texts, t.Text)
		}
	}
	return strings.Join(texts, "\n\n")
}

// ToolCall returns the tool-call part with the given id, if present.
func (m *Message) ToolCall(toolCallID string) (*ToolCallPart, int, bool) {
	for i, p := range m.Parts {
		if tc, ok := p.(*ToolCallPart); ok && tc.ToolCallID == toolCallID {
			return tc, i, true
		}
	}
	return nil, -1, false
}

// HasPendingToolCalls reports whether any tool call still lacks a result.
func (m *Message) HasPendingToolCalls() bool {
	for _, p := range m.Parts {
		if tc, ok := p.(*ToolCallPart); ok && !tc.HasResult() {
			return true
		}
	}
	return false
}

// With returns a shallow copy of m. Parts and attachments slices are shared
// until the caller replaces them.
func (m *Message) With(fn func(*Message)) *Message {
	next := *m
	if fn != nil {
		fn(&next)
	}
	return &next
}
