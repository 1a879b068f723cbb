package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/killallgit/threadline/pkg/chat"
)

func TestPrinter_Message(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)

	m := chat.NewAssistantMessage("a1", "u1")
	m.Parts = []chat.Part{
		&chat.ReasoningPart{Text: "hmm"},
		&chat.TextPart{Text: "partial"},
		&chat.ToolCallPart{ToolCallID: "c1", ToolName: "add", ArgsText: `{"a":1}`, Result: "boom", IsError: true, Resolved: true},
	}
	m.Status = chat.MessageStatus{Type: chat.StatusIncomplete, Reason: chat.ReasonError, Error: "stream failed"}

	p.Message(m, chat.BranchInfo{Number: 1, Count: 3})

	assert.Equal(t, "assistant (1/3)\n"+
		"thinking: hmm\n"+
		"partial\n"+
		"tool add c1\n"+
		`{"a":1}`+"\n"+
		`error: "boom"`+"\n"+
		"incomplete: error: stream failed\n", buf.String())
}

func TestPrinter_Tree(t *testing.T) {
	tree := chat.NewMessageTree()
	require.NoError(t, tree.Insert(chat.NewUserMessage("u1", "", "first")))
	require.NoError(t, tree.Insert(chat.NewUserMessage("u2", "", "second")))
	require.NoError(t, tree.SetHead("u2"))

	var buf bytes.Buffer
	NewPrinter(&buf, false).Tree(tree)

	assert.Equal(t, "  user u1 [complete] first\n* user u2 [complete] second\n", buf.String())
}

func TestPrinter_JSON(t *testing.T) {
	plain := NewPrinter(&bytes.Buffer{}, false)
	assert.Equal(t, `{"a":1}`, plain.JSON(`{"a":1}`))

	colored := NewPrinter(&bytes.Buffer{}, true)
	out := colored.JSON(`{"a":1}`)
	assert.Contains(t, out, "\x1b[")
	assert.Contains(t, out, "1")
}
