package binding

import (
	"fmt"
	"strings"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/thread"
)

// StepKind is the type of one path step.
type StepKind int

const (
	StepMessage StepKind = iota
	StepPart
	StepAttachment
)

func (k StepKind) String() string {
	switch k {
	case StepMessage:
		return "message"
	case StepPart:
		return "part"
	case StepAttachment:
		return "attachment"
	default:
		panic(fmt.Sprintf("binding: unknown step kind %d", int(k)))
	}
}

// Step selects one child by index.
type Step struct {
	Kind  StepKind
	Index int
}

// Path addresses a value below the thread. The empty path is the thread
// itself. Build paths with Thread().Message(i).Part(j).
type Path []Step

// Thread returns the root path
func Thread() Path {
	return nil
}

// Message selects the message at index i of the active path
func (p Path) Message(i int) Path {
	return p.with(StepMessage, i)
}

// Part selects a content part of the message or attachment at p
func (p Path) Part(i int) Path {
	return p.with(StepPart, i)
}

// Attachment selects an attachment of the message at p
func (p Path) Attachment(i int) Path {
	return p.with(StepAttachment, i)
}

func (p Path) with(kind StepKind, i int) Path {
	next := make(Path, len(p), len(p)+1)
	copy(next, p)
	return append(next, Step{Kind: kind, Index: i})
}

func (p Path) String() string {
	var b strings.Builder
	b.WriteString("thread")
	for _, s := range p {
		fmt.Fprintf(&b, "/%s[%d]", s.Kind, s.Index)
	}
	return b.String()
}

// Resolve walks p from the snapshot. It reports false when any step does not
// exist or does not apply to the value it is taken from.
func Resolve(snap *thread.Snapshot, p Path) (any, bool) {
	if snap == nil {
		return nil, false
	}
	var cur any = snap
	for _, step := range p {
		next, ok := resolveStep(cur, step)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func resolveStep(cur any, step Step) (any, bool) {
	switch v := cur.(type) {
	case *thread.Snapshot:
		if step.Kind != StepMessage {
			return nil, false
		}
		return index(v.Messages, step.Index)
	case *chat.Message:
		switch step.Kind {
		case StepPart:
			return index(v.Parts, step.Index)
		case StepAttachment:
			return index(v.Attachments, step.Index)
		}
	case *chat.Attachment:
		if step.Kind == StepPart {
			return index(v.Content, step.Index)
		}
	}
	return nil, false
}

func index[T any](items []T, i int) (any, bool) {
	if i < 0 || i >= len(items) {
		return nil, false
	}
	return items[i], true
}
