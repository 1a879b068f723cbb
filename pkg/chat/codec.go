package chat

import (
	"encoding/json"
	"fmt"
)

// partJSON is the tagged wire form shared by every part variant.
type partJSON struct {
	Type     PartType   `json:"type"`
	Status   PartStatus `json:"status"`
	ParentID string     `json:"parent_id,omitempty"`

	ID         string `json:"id,omitempty"`
	Text       string `json:"text,omitempty"`
	SourceType string `json:"source_type,omitempty"`
	URL        string `json:"url,omitempty"`
	Title      string `json:"title,omitempty"`
	Image      string `json:"image,omitempty"`
	Data       string `json:"data,omitempty"`
	MimeType   string `json:"mime_type,omitempty"`
	Format     string `json:"format,omitempty"`
	Filename   string `json:"filename,omitempty"`

	ToolCallID   string `json:"tool_call_id,omitempty"`
	ToolName     string `json:"tool_name,omitempty"`
	ArgsText     string `json:"args_text,omitempty"`
	Args         any    `json:"args,omitempty"`
	ArgsComplete bool   `json:"args_complete,omitempty"`
	Result       any    `json:"result,omitempty"`
	IsError      bool   `json:"is_error,omitempty"`
	Resolved     bool   `json:"resolved,omitempty"`
}

func encodePart(p Part) partJSON {
	w := partJSON{Type: p.Type(), Status: p.PartStatus(), ParentID: p.Group()}
	switch v := p.(type) {
	case *TextPart:
		w.ID, w.Text = v.ID, v.Text
	case *ReasoningPart:
		w.ID, w.Text = v.ID, v.Text
	case *SourcePart:
		w.SourceType, w.ID, w.URL, w.Title = v.SourceType, v.ID, v.URL, v.Title
	case *ImagePart:
		w.Image, w.Filename = v.Image, v.Filename
	case *FilePart:
		w.Data, w.MimeType, w.Filename = v.Data, v.MimeType, v.Filename
	case *AudioPart:
		w.Data, w.Format = v.Data, v.Format
	case *ToolCallPart:
		w.ToolCallID, w.ToolName = v.ToolCallID, v.ToolName
		w.ArgsText, w.Args, w.ArgsComplete = v.ArgsText, v.Args, v.ArgsComplete
		w.Result, w.IsError, w.Resolved = v.Result, v.IsError, v.Resolved
	default:
		panic(fmt.Sprintf("chat: unhandled part type %T", p))
	}
	return w
}

func decodePart(w partJSON) (Part, error) {
	switch w.Type {
	case PartTypeText:
		return &TextPart{ID: w.ID, Text: w.Text, Status: w.Status, ParentID: w.ParentID}, nil
	case PartTypeReasoning:
		return &ReasoningPart{ID: w.ID, Text: w.Text, Status: w.Status, ParentID: w.ParentID}, nil
	case PartTypeSource:
		return &SourcePart{SourceType: w.SourceType, ID: w.ID, URL: w.URL, Title: w.Title, Status: w.Status, ParentID: w.ParentID}, nil
	case PartTypeImage:
		return &ImagePart{Image: w.Image, Filename: w.Filename, Status: w.Status, ParentID: w.ParentID}, nil
	case PartTypeFile:
		return &FilePart{Data: w.Data, MimeType: w.MimeType, Filename: w.Filename, Status: w.Status, ParentID: w.ParentID}, nil
	case PartTypeAudio:
		return &AudioPart{Data: w.Data, Format: w.Format, Status: w.Status, ParentID: w.ParentID}, nil
	case PartTypeToolCall:
		return &ToolCallPart{
			ToolCallID:   w.ToolCallID,
			ToolName:     w.ToolName,
			ArgsText:     w.ArgsText,
			Args:         w.Args,
			ArgsComplete: w.ArgsComplete,
			Result:       w.Result,
			IsError:      w.IsError,
			Resolved:     w.Resolved,
			Status:       w.Status,
			ParentID:     w.ParentID,
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown part type %q", ErrCorruptTree, w.Type)
}

func encodeParts(parts []Part) []partJSON {
	if len(parts) == 0 {
		return nil
	}
	out := make([]partJSON, len(parts))
	for i, p := range parts {
		out[i] = encodePart(p)
	}
	return out
}

func decodeParts(wire []partJSON) ([]Part, error) {
	if len(wire) == 0 {
		return nil, nil
	}
	out := make([]Part, len(wire))
	for i, w := range wire {
		p, err := decodePart(w)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

type attachmentAlias Attachment

type attachmentJSON struct {
	*attachmentAlias
	Content []partJSON `json:"content,omitempty"`
}

func (a *Attachment) MarshalJSON() ([]byte, error) {
	return json.Marshal(attachmentJSON{
		attachmentAlias: (*attachmentAlias)(a),
		Content:         encodeParts(a.Content),
	})
}

func (a *Attachment) UnmarshalJSON(data []byte) error {
	w := attachmentJSON{attachmentAlias: (*attachmentAlias)(a)}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	content, err := decodeParts(w.Content)
	if err != nil {
		return err
	}
	a.Content = content
	return nil
}

type messageAlias Message

type messageJSON struct {
	*messageAlias
	Parts       []partJSON    `json:"parts,omitempty"`
	Attachments []*Attachment `json:"attachments,omitempty"`
}

func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageJSON{
		messageAlias: (*messageAlias)(m),
		Parts:        encodeParts(m.Parts),
		Attachments:  m.Attachments,
	})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	w := messageJSON{messageAlias: (*messageAlias)(m)}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parts, err := decodeParts(w.Parts)
	if err != nil {
		return fmt.Errorf("message %q: %w", m.ID, err)
	}
	m.Parts = parts
	m.Attachments = w.Attachments
	return nil
}
