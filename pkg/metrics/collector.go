// Package metrics exports thread runtime activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/thread"
	"github.com/killallgit/threadline/pkg/tools"
)

const namespace = "threadline"

var (
	_ chat.Diagnostics   = (*Collector)(nil)
	_ tools.Recorder     = (*Collector)(nil)
	_ thread.RunObserver = (*Collector)(nil)
)

// Collector counts chunks, tool executions and runs. Pass it to
// thread.WithDiagnostics, tools.WithRecorder and thread.WithRunObserver.
type Collector struct {
	chunksApplied *prometheus.CounterVec
	chunksUnknown *prometheus.CounterVec
	toolRuns      *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
	runsStarted   prometheus.Counter
	runsFinished  *prometheus.CounterVec
	runDuration   prometheus.Histogram
	runsInFlight  prometheus.Gauge

	mu     sync.Mutex
	starts map[string]time.Time
}

// NewCollector creates the metrics and registers them on reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		chunksApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_applied_total",
			Help:      "Stream chunks merged into assistant messages, by chunk type.",
		}, []string{"type"}),
		chunksUnknown: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_unknown_total",
			Help:      "Stream chunks of unrecognised types that were ignored.",
		}, []string{"type"}),
		toolRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_executions_total",
			Help:      "Local tool executions, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Duration of local tool executions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Assistant runs started.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Assistant runs settled, by final message status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Time from run start to settlement.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		runsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Runs currently streaming.",
		}),
		starts: make(map[string]time.Time),
	}

	for _, m := range []prometheus.Collector{
		c.chunksApplied, c.chunksUnknown, c.toolRuns, c.toolDuration,
		c.runsStarted, c.runsFinished, c.runDuration, c.runsInFlight,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) ChunkApplied(t chat.ChunkType) {
	c.chunksApplied.WithLabelValues(string(t)).Inc()
}

func (c *Collector) UnknownChunk(t chat.ChunkType) {
	c.chunksUnknown.WithLabelValues(string(t)).Inc()
}

func (c *Collector) ToolExecuted(name, outcome string, d time.Duration) {
	c.toolRuns.WithLabelValues(name, outcome).Inc()
	if outcome != tools.OutcomeDisabled {
		c.toolDuration.WithLabelValues(name).Observe(d.Seconds())
	}
}

func (c *Collector) RunStarted(messageID string) {
	c.mu.Lock()
	c.starts[messageID] = time.Now()
	c.mu.Unlock()
	c.runsStarted.Inc()
	c.runsInFlight.Inc()
}

func (c *Collector) RunFinished(msg *chat.Message, _ error) {
	c.mu.Lock()
	start, ok := c.starts[msg.ID]
	delete(c.starts, msg.ID)
	c.mu.Unlock()

	status := string(msg.Status.Type)
	if msg.Status.Reason == chat.ReasonError {
		status = chat.ReasonError
	}
	c.runsFinished.WithLabelValues(status).Inc()
	if ok {
		c.runDuration.Observe(time.Since(start).Seconds())
		c.runsInFlight.Dec()
	}
}

// Handler serves the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
