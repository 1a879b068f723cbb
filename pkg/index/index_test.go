package index

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/killallgit/threadline/pkg/chat"
)

// bagOfWords hashes lowercase words into a fixed vector.
func bagOfWords(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 64)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return nil, errors.New("no words")
	}
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%uint32(len(vec))]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

type fakeEmbedder struct {
	queries []string
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := bagOfWords(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	f.queries = append(f.queries, text)
	return bagOfWords(ctx, text)
}

func assistantText(id, parentID, text string) *chat.Message {
	m := chat.NewAssistantMessage(id, parentID)
	m.Parts = []chat.Part{&chat.TextPart{Text: text, Status: chat.PartComplete}}
	m.Status = chat.MessageStatus{Type: chat.StatusComplete, Reason: chat.ReasonStop}
	return m
}

func newIndex(t *testing.T, opts ...Option) *MessageIndex {
	t.Helper()
	x, err := New(bagOfWords, opts...)
	require.NoError(t, err)
	return x
}

func TestMessageIndex_Search(t *testing.T) {
	ctx := context.Background()
	x := newIndex(t)

	require.NoError(t, x.Add(ctx, "t1", chat.NewUserMessage("u1", "", "what is the weather in Oslo")))
	require.NoError(t, x.Add(ctx, "t1", assistantText("a1", "u1", "The weather in Oslo is cold")))
	require.NoError(t, x.Add(ctx, "t2", chat.NewUserMessage("u1", "", "add two numbers please")))
	assert.Equal(t, 3, x.Count())

	hits, err := x.Search(ctx, "Oslo weather", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "t1", hits[0].ThreadID)
	assert.Contains(t, hits[0].Text, "Oslo")

	hits, err = x.Search(ctx, "numbers", 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "t2", hits[0].ThreadID)
	assert.Equal(t, chat.RoleUser, hits[0].Role)
	assert.Equal(t, "u1", hits[0].MessageID)
}

func TestMessageIndex_SearchThread(t *testing.T) {
	ctx := context.Background()
	x := newIndex(t)

	require.NoError(t, x.Add(ctx, "t1", chat.NewUserMessage("u1", "", "weather report")))
	require.NoError(t, x.Add(ctx, "t2", chat.NewUserMessage("u1", "", "weather forecast")))

	hits, err := x.SearchThread(ctx, "t2", "weather", 2)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "weather forecast", hits[0].Text)
}

func TestMessageIndex_Empty(t *testing.T) {
	x := newIndex(t)

	hits, err := x.Search(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// messages without text are skipped
	require.NoError(t, x.Add(context.Background(), "t1", chat.NewAssistantMessage("a1", "")))
	assert.Equal(t, 0, x.Count())
}

func TestMessageIndex_ReindexReplaces(t *testing.T) {
	ctx := context.Background()
	x := newIndex(t)

	require.NoError(t, x.Add(ctx, "t1", assistantText("a1", "", "first draft")))
	require.NoError(t, x.Add(ctx, "t1", assistantText("a1", "", "final answer")))
	assert.Equal(t, 1, x.Count())

	hits, err := x.Search(ctx, "answer", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "final answer", hits[0].Text)
}

func TestMessageIndex_AddExport(t *testing.T) {
	ctx := context.Background()
	x := newIndex(t)

	export := chat.Export{
		Messages: []*chat.Message{
			chat.NewSystemMessage("s1", "you are terse"),
			chat.NewUserMessage("u1", "s1", "hello there"),
			assistantText("a1", "u1", "hi"),
			chat.NewAssistantMessage("a2", "u1"),
		},
		HeadID: "a1",
	}

	n, err := x.AddExport(ctx, "t1", export)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, x.Count())
}

func TestMessageIndex_Observer(t *testing.T) {
	x := newIndex(t)
	obs := x.Observer("t1")

	obs.RunStarted("a1")
	obs.RunFinished(assistantText("a1", "u1", "tool output summarised"), nil)

	hits, err := x.Search(context.Background(), "summarised", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a1", hits[0].MessageID)
}

func TestMessageIndex_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	x := newIndex(t, WithPersistence(dir), WithCollection("notes"))
	require.NoError(t, x.Add(ctx, "t1", chat.NewUserMessage("u1", "", "remember the milk")))

	reopened := newIndex(t, WithPersistence(dir), WithCollection("notes"))
	assert.Equal(t, 1, reopened.Count())
}

func TestEmbedderFunc(t *testing.T) {
	e := &fakeEmbedder{}
	x, err := New(EmbedderFunc(e))
	require.NoError(t, err)

	require.NoError(t, x.Add(context.Background(), "t1", chat.NewUserMessage("u1", "", "embed me")))
	assert.Equal(t, []string{"embed me"}, e.queries)
}
