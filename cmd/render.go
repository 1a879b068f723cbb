package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/history"
	"github.com/killallgit/threadline/pkg/index"
	"github.com/killallgit/threadline/pkg/logger"
)

// Printer writes messages and trees to a terminal. Without color it emits
// plain text, which is what tests and pipes get.
type Printer struct {
	out       io.Writer
	color     bool
	formatter chroma.Formatter

	roleStyle      map[chat.Role]lipgloss.Style
	reasoningStyle lipgloss.Style
	toolStyle      lipgloss.Style
	errorStyle     lipgloss.Style
	dimStyle       lipgloss.Style
}

func NewPrinter(out io.Writer, color bool) *Printer {
	formatter := formatters.Get("terminal16m")
	if formatter == nil {
		formatter = formatters.Fallback
	}
	return &Printer{
		out:       out,
		color:     color,
		formatter: formatter,
		roleStyle: map[chat.Role]lipgloss.Style{
			chat.RoleUser:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#98FB98")),
			chat.RoleAssistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#87CEEB")),
			chat.RoleSystem:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFD700")),
		},
		reasoningStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Italic(true),
		toolStyle:      lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB000")),
		errorStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		dimStyle:       lipgloss.NewStyle().Foreground(lipgloss.Color("243")),
	}
}

func (p *Printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

// Header prints the role line of a message, with its branch position when it
// has siblings.
func (p *Printer) Header(m *chat.Message, info chat.BranchInfo) {
	line := p.style(p.roleStyle[m.Role], string(m.Role))
	if info.Count > 1 {
		line += p.style(p.dimStyle, fmt.Sprintf(" (%d/%d)", info.Number, info.Count))
	}
	fmt.Fprintln(p.out, line)
}

// Message prints a finished message part by part.
func (p *Printer) Message(m *chat.Message, info chat.BranchInfo) {
	p.Header(m, info)
	p.Body(m)
}

// Body prints the parts and the status of a message without its header.
func (p *Printer) Body(m *chat.Message) {
	for _, group := range chat.GroupPartsByParentID(m.Parts) {
		for _, i := range group.Indices {
			p.part(m.Parts[i])
		}
	}
	for _, att := range m.Attachments {
		fmt.Fprintln(p.out, p.style(p.dimStyle, fmt.Sprintf("[attachment %s %s]", att.Name, att.ContentType)))
	}
	p.Status(m)
}

// Status prints the status line of messages that did not complete normally.
func (p *Printer) Status(m *chat.Message) {
	switch m.Status.Type {
	case chat.StatusIncomplete:
		msg := "incomplete: " + m.Status.Reason
		if m.Status.Error != "" {
			msg += ": " + m.Status.Error
		}
		fmt.Fprintln(p.out, p.style(p.errorStyle, msg))
	case chat.StatusRequiresAction:
		fmt.Fprintln(p.out, p.style(p.toolStyle, "waiting for tool results"))
	case chat.StatusComplete, chat.StatusRunning:
	default:
		panic(fmt.Sprintf("cmd: unhandled status %q", m.Status.Type))
	}
}

func (p *Printer) part(part chat.Part) {
	switch v := part.(type) {
	case *chat.TextPart:
		fmt.Fprintln(p.out, v.Text)
	case *chat.ReasoningPart:
		fmt.Fprintln(p.out, p.style(p.reasoningStyle, "thinking: "+v.Text))
	case *chat.ToolCallPart:
		fmt.Fprintln(p.out, p.style(p.toolStyle, "tool "+v.ToolName+" "+v.ToolCallID))
		if v.ArgsText != "" {
			fmt.Fprintln(p.out, p.JSON(v.ArgsText))
		}
		if v.Resolved {
			label := "result"
			if v.IsError {
				label = "error"
			}
			raw, err := json.Marshal(v.Result)
			if err != nil {
				raw = []byte(fmt.Sprint(v.Result))
			}
			fmt.Fprintln(p.out, p.style(p.dimStyle, label+":")+" "+p.JSON(string(raw)))
		}
	case *chat.SourcePart:
		fmt.Fprintln(p.out, p.style(p.dimStyle, fmt.Sprintf("source: %s %s", v.Title, v.URL)))
	case *chat.ImagePart:
		fmt.Fprintln(p.out, p.style(p.dimStyle, "[image "+v.Filename+"]"))
	case *chat.FilePart:
		fmt.Fprintln(p.out, p.style(p.dimStyle, fmt.Sprintf("[file %s %s]", v.Filename, v.MimeType)))
	case *chat.AudioPart:
		fmt.Fprintln(p.out, p.style(p.dimStyle, "[audio "+v.Format+"]"))
	default:
		panic(fmt.Sprintf("cmd: unhandled part type %T", part))
	}
}

// JSON highlights a JSON document. Invalid documents are printed as is.
func (p *Printer) JSON(text string) string {
	if !p.color {
		return text
	}
	log := logger.WithComponent("render")

	iterator, err := lexers.Get("json").Tokenise(nil, text)
	if err != nil {
		log.Debug("Failed to tokenize JSON: %v", err)
		return text
	}
	var buf strings.Builder
	if err := p.formatter.Format(&buf, styles.Get("monokai"), iterator); err != nil {
		log.Debug("Failed to format JSON: %v", err)
		return text
	}
	return buf.String()
}

// Tree prints every message of the tree indented by depth. Messages on the
// active path are marked with '*'.
func (p *Printer) Tree(tree *chat.MessageTree) {
	var walk func(parentID string, depth int)
	walk = func(parentID string, depth int) {
		for _, id := range tree.Children(parentID) {
			m, _ := tree.Get(id)
			marker := " "
			if tree.OnActivePath(id) {
				marker = "*"
			}
			summary := strings.ReplaceAll(m.Text(), "\n", " ")
			if len(summary) > 60 {
				summary = summary[:57] + "..."
			}
			fmt.Fprintf(p.out, "%s%s %s %s [%s] %s\n",
				strings.Repeat("  ", depth), marker,
				p.style(p.roleStyle[m.Role], string(m.Role)),
				p.style(p.dimStyle, m.ID), m.Status.Type, summary)
			walk(id, depth+1)
		}
	}
	walk("", 0)
}

func (p *Printer) Threads(threads []history.ThreadInfo) {
	for _, t := range threads {
		fmt.Fprintf(p.out, "%s  %d messages  %s\n",
			p.style(p.roleStyle[chat.RoleAssistant], t.ID), t.Messages,
			p.style(p.dimStyle, t.UpdatedAt.Format("2006-01-02 15:04")))
	}
}

func (p *Printer) Hits(hits []index.Hit) {
	for _, h := range hits {
		fmt.Fprintf(p.out, "%.3f %s/%s %s\n  %s\n",
			h.Similarity, h.ThreadID, h.MessageID,
			p.style(p.roleStyle[h.Role], string(h.Role)), h.Text)
	}
}
