package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/tools"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)
	return c, reg
}

func TestCollector_Chunks(t *testing.T) {
	c, _ := newTestCollector(t)

	acc := chat.NewAccumulator(chat.WithDiagnostics(c))
	for _, chunk := range []chat.Chunk{
		chat.TextDelta("a"),
		chat.TextDelta("b"),
		{Type: "future-thing"},
		chat.Finish(chat.ReasonStop),
	} {
		require.NoError(t, acc.Apply(chunk))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(c.chunksApplied.WithLabelValues(string(chat.ChunkTextDelta))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.chunksApplied.WithLabelValues(string(chat.ChunkFinish))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.chunksUnknown.WithLabelValues("future-thing")))
}

func TestCollector_Tools(t *testing.T) {
	c, _ := newTestCollector(t)

	c.ToolExecuted("add", tools.OutcomeSuccess, 10*time.Millisecond)
	c.ToolExecuted("add", tools.OutcomeError, 5*time.Millisecond)
	c.ToolExecuted("rm", tools.OutcomeDisabled, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.toolRuns.WithLabelValues("add", tools.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.toolRuns.WithLabelValues("add", tools.OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.toolRuns.WithLabelValues("rm", tools.OutcomeDisabled)))
	assert.Equal(t, 1, testutil.CollectAndCount(c.toolDuration))
}

func TestCollector_Runs(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RunStarted("a1")
	c.RunStarted("a2")
	assert.Equal(t, 2.0, testutil.ToFloat64(c.runsInFlight))

	done := chat.NewAssistantMessage("a1", "u1")
	done.Status = chat.MessageStatus{Type: chat.StatusComplete, Reason: chat.ReasonStop}
	c.RunFinished(done, nil)

	failed := chat.NewAssistantMessage("a2", "u1")
	failed.Status = chat.MessageStatus{Type: chat.StatusIncomplete, Reason: chat.ReasonError, Error: "boom"}
	c.RunFinished(failed, chat.ErrStream)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.runsStarted))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.runsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsFinished.WithLabelValues(string(chat.StatusComplete))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsFinished.WithLabelValues(chat.ReasonError)))
}

func TestCollector_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewCollector(reg)
	require.NoError(t, err)

	_, err = NewCollector(reg)
	assert.Error(t, err)
}

func TestHandler(t *testing.T) {
	c, reg := newTestCollector(t)
	c.RunStarted("a1")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "threadline_runs_started_total 1")
}
