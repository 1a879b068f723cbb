package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/thread"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ thread.History = (*SQLiteThread)(nil)
	_ thread.History = (*MemoryThread)(nil)
)

func sampleExport() chat.Export {
	user := chat.NewUserMessage("u1", "", "what is 2+2")
	answer := chat.NewAssistantMessage("a1", "u1").With(func(m *chat.Message) {
		m.Parts = []chat.Part{
			&chat.ReasoningPart{Text: "simple sum", Status: chat.PartComplete},
			&chat.ToolCallPart{
				ToolCallID:   "c1",
				ToolName:     "add",
				ArgsText:     `{"a":2,"b":2}`,
				Args:         map[string]any{"a": float64(2), "b": float64(2)},
				ArgsComplete: true,
				Result:       float64(4),
				Resolved:     true,
				Status:       chat.PartComplete,
			},
			&chat.TextPart{Text: "4", Status: chat.PartComplete},
		}
		m.Status = chat.MessageStatus{Type: chat.StatusComplete, Reason: chat.ReasonStop}
	})
	retry := chat.NewAssistantMessage("a2", "u1").With(func(m *chat.Message) {
		m.Parts = []chat.Part{&chat.TextPart{Text: "four", Status: chat.PartComplete}}
		m.Status = chat.MessageStatus{Type: chat.StatusComplete, Reason: chat.ReasonStop}
	})
	return chat.Export{HeadID: "a1", Messages: []*chat.Message{user, answer, retry}}
}

func openTestDB(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLite_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	h := db.Thread("t1")

	require.NoError(t, h.Save(ctx, sampleExport()))
	loaded, err := h.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, "a1", loaded.HeadID)
	require.Len(t, loaded.Messages, 3)
	assert.Equal(t, "what is 2+2", loaded.Messages[0].Text())

	tc, _, ok := loaded.Messages[1].ToolCall("c1")
	require.True(t, ok)
	assert.Equal(t, float64(4), tc.Result)
	assert.True(t, tc.Resolved)

	tree, err := chat.ImportTree(loaded)
	require.NoError(t, err)
	assert.Equal(t, "a1", tree.Head())
	info, _ := tree.BranchInfo("a2")
	assert.Equal(t, chat.BranchInfo{Number: 2, Count: 2}, info)
}

func TestSQLite_SaveReplaces(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	h := db.Thread("t1")

	require.NoError(t, h.Save(ctx, sampleExport()))
	smaller := sampleExport()
	smaller.Messages = smaller.Messages[:2]
	require.NoError(t, h.Save(ctx, smaller))

	loaded, err := h.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 2)
}

func TestSQLite_ThreadsAreIsolated(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, db.Thread("t1").Save(ctx, sampleExport()))

	empty, err := db.Thread("t2").Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty.Messages)
	assert.Empty(t, empty.HeadID)

	threads, err := db.Threads(ctx)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "t1", threads[0].ID)
	assert.Equal(t, 3, threads[0].Messages)
	assert.False(t, threads[0].UpdatedAt.IsZero())

	require.NoError(t, db.Delete(ctx, "t1"))
	threads, err = db.Threads(ctx)
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	_, err := OpenSQLite(context.Background(), "")
	assert.Error(t, err)
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	h := mem.Thread("t1")

	export := sampleExport()
	require.NoError(t, h.Save(ctx, export))
	export.Messages[0] = nil

	loaded, err := h.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 3)
	assert.NotNil(t, loaded.Messages[0])

	other, err := mem.Thread("t2").Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, other.Messages)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, h.Save(cancelled, export), context.Canceled)
}
