package chat

import "fmt"

type PartType string

const (
	PartTypeText      PartType = "text"
	PartTypeReasoning PartType = "reasoning"
	PartTypeSource    PartType = "source"
	PartTypeImage     PartType = "image"
	PartTypeFile      PartType = "file"
	PartTypeToolCall  PartType = "tool-call"
	PartTypeAudio     PartType = "audio"
)

// PartTypes lists every part variant. Switches over parts must cover all of them.
var PartTypes = []PartType{
	PartTypeText,
	PartTypeReasoning,
	PartTypeSource,
	PartTypeImage,
	PartTypeFile,
	PartTypeToolCall,
	PartTypeAudio,
}

type PartStatus string

const (
	PartRunning        PartStatus = "running"
	PartComplete       PartStatus = "complete"
	PartIncomplete     PartStatus = "incomplete"
	PartRequiresAction PartStatus = "requires-action"
)

// Part is a typed fragment of message content. The set of variants is closed:
// the unexported marker keeps other packages from adding implementations.
type Part interface {
	Type() PartType
	PartStatus() PartStatus
	// Group returns the parent part id used for presentation grouping.
	Group() string
	isPart()
}

type TextPart struct {
	ID       string
	Text     string
	Status   PartStatus
	ParentID string
}

type ReasoningPart struct {
	ID       string
	Text     string
	Status   PartStatus
	ParentID string
}

type SourcePart struct {
	SourceType string // "url"
	ID         string
	URL        string
	Title      string
	Status     PartStatus
	ParentID   string
}

type ImagePart struct {
	Image    string
	Filename string
	Status   PartStatus
	ParentID string
}

type FilePart struct {
	Data     string
	MimeType string
	Filename string
	Status   PartStatus
	ParentID string
}

type AudioPart struct {
	Data     string
	Format   string
	Status   PartStatus
	ParentID string
}

// ToolCallPart tracks one tool invocation. ArgsText accumulates the streamed
// partial JSON; Args is set once the arguments are complete.
type ToolCallPart struct {
	ToolCallID   string
	ToolName     string
	ArgsText     string
	Args         any
	ArgsComplete bool
	Result       any
	IsError      bool
	Resolved     bool
	Status       PartStatus
	ParentID     string
}

func (*TextPart) Type() PartType      { return PartTypeText }
func (*ReasoningPart) Type() PartType { return PartTypeReasoning }
func (*SourcePart) Type() PartType    { return PartTypeSource }
func (*ImagePart) Type() PartType     { return PartTypeImage }
func (*FilePart) Type() PartType      { return PartTypeFile }
func (*ToolCallPart) Type() PartType  { return PartTypeToolCall }
func (*AudioPart) Type() PartType     { return PartTypeAudio }

func (p *TextPart) PartStatus() PartStatus      { return p.Status }
func (p *ReasoningPart) PartStatus() PartStatus { return p.Status }
func (p *SourcePart) PartStatus() PartStatus    { return p.Status }
func (p *ImagePart) PartStatus() PartStatus     { return p.Status }
func (p *FilePart) PartStatus() PartStatus      { return p.Status }
func (p *ToolCallPart) PartStatus() PartStatus  { return p.Status }
func (p *AudioPart) PartStatus() PartStatus     { return p.Status }

func (p *TextPart) Group() string      { return p.ParentID }
func (p *ReasoningPart) Group() string { return p.ParentID }
func (p *SourcePart) Group() string    { return p.ParentID }
func (p *ImagePart) Group() string     { return p.ParentID }
func (p *FilePart) Group() string      { return p.ParentID }
func (p *ToolCallPart) Group() string  { return p.ParentID }
func (p *AudioPart) Group() string     { return p.ParentID }

func (*TextPart) isPart()      {}
func (*ReasoningPart) isPart() {}
func (*SourcePart) isPart()    {}
func (*ImagePart) isPart()     {}
func (*FilePart) isPart()      {}
func (*ToolCallPart) isPart()  {}
func (*AudioPart) isPart()     {}

// HasResult reports whether the call was resolved, including resolutions
// whose result value is nil.
func (p *ToolCallPart) HasResult() bool {
	return p.Resolved
}

// ClonePart returns a shallow copy of p with a fresh identity.
func ClonePart(p Part) Part {
	switch v := p.(type) {
	case *TextPart:
		c := *v
		return &c
	case *ReasoningPart:
		c := *v
		return &c
	case *SourcePart:
		c := *v
		return &c
	case *ImagePart:
		c := *v
		return &c
	case *FilePart:
		c := *v
		return &c
	case *ToolCallPart:
		c := *v
		return &c
	case *AudioPart:
		c := *v
		return &c
	default:
		panic(fmt.Sprintf("chat: unhandled part type %T", p))
	}
}

// withStatus returns a copy of p carrying the given status.
func withStatus(p Part, status PartStatus) Part {
	switch v := ClonePart(p).(type) {
	case *TextPart:
		v.Status = status
		return v
	case *ReasoningPart:
		v.Status = status
		return v
	case *SourcePart:
		v.Status = status
		return v
	case *ImagePart:
		v.Status = status
		return v
	case *FilePart:
		v.Status = status
		return v
	case *ToolCallPart:
		v.Status = status
		return v
	case *AudioPart:
		v.Status = status
		return v
	default:
		panic(fmt.Sprintf("chat: unhandled part type %T", p))
	}
}
