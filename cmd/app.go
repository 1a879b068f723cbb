package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/killallgit/threadline/pkg/config"
	"github.com/killallgit/threadline/pkg/history"
	"github.com/killallgit/threadline/pkg/index"
	"github.com/killallgit/threadline/pkg/logger"
	"github.com/killallgit/threadline/pkg/metrics"
	"github.com/killallgit/threadline/pkg/thread"
	"github.com/killallgit/threadline/pkg/tools"
	"github.com/killallgit/threadline/pkg/transport"
)

// app holds what every thread command shares: storage, tools, metrics and
// the optional message index.
type app struct {
	cfg         *config.Config
	history     *history.SQLite
	coordinator *tools.Coordinator
	collector   *metrics.Collector
	registry    *prometheus.Registry
	index       *index.MessageIndex
	server      *http.Server
	printer     *Printer
	log         *logger.ComponentLogger
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg := config.Get()
	a := &app{
		cfg:     cfg,
		printer: NewPrinter(cmd.OutOrStdout(), colorEnabled(cmd)),
		log:     logger.WithComponent("cmd"),
	}

	store, err := history.OpenSQLite(cmd.Context(), config.ResolvePath(cfg.Thread.HistoryPath))
	if err != nil {
		return nil, err
	}
	a.history = store

	var recorder tools.Recorder
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.collector, err = metrics.NewCollector(a.registry)
		if err != nil {
			a.Close()
			return nil, err
		}
		recorder = a.collector
	}

	registry := tools.NewRegistry()
	registry.MustRegister(builtinTools()...)
	opts := []tools.CoordinatorOption{tools.WithTimeout(cfg.Thread.ToolTimeout)}
	if recorder != nil {
		opts = append(opts, tools.WithRecorder(recorder))
	}
	a.coordinator = tools.NewCoordinator(registry, opts...)

	if cfg.Index.Enabled {
		if a.index, err = openIndex(cfg); err != nil {
			a.Close()
			return nil, err
		}
	}

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" && a.registry != nil {
		a.serveMetrics(addr)
	}
	return a, nil
}

func colorEnabled(cmd *cobra.Command) bool {
	noColor, _ := cmd.Flags().GetBool("no-color")
	if noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := cmd.OutOrStdout().(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.registry))
	a.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		a.log.Info("Serving metrics on %s", addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Metrics server failed: %v", err)
		}
	}()
}

// openThread loads threadID from history and wires the runtime to the shared
// services.
func (a *app) openThread(ctx context.Context, tr thread.Transport, threadID string) (*thread.Runtime, error) {
	opts := []thread.Option{
		thread.WithThreadID(threadID),
		thread.WithHistory(a.history.Thread(threadID)),
		thread.WithCoordinator(a.coordinator),
		thread.WithAttachmentEncoder(thread.DataURLEncoder{MaxSize: a.cfg.Thread.MaxAttachmentSize}),
		thread.WithErrorHandler(func(err error) {
			a.log.Warn("Thread %s: %v", threadID, err)
		}),
	}
	if a.collector != nil {
		opts = append(opts, thread.WithDiagnostics(a.collector), thread.WithRunObserver(a.collector))
	}
	if a.index != nil {
		opts = append(opts, thread.WithRunObserver(a.index.Observer(threadID)))
	}
	return thread.Load(ctx, tr, opts...)
}

// transport builds the configured model transport. A script path selects the
// scripted transport regardless of provider.name.
func (a *app) transport(scriptPath string) (thread.Transport, error) {
	if scriptPath != "" {
		script, err := transport.LoadScript(scriptPath)
		if err != nil {
			return nil, err
		}
		return transport.NewScripted(script), nil
	}

	p := a.cfg.Provider
	switch p.Name {
	case "ollama":
		llm, err := ollama.New(
			ollama.WithServerURL(p.URL),
			ollama.WithModel(p.Model),
			ollama.WithHTTPClient(&http.Client{Timeout: p.Timeout}),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama LLM: %w", err)
		}
		var opts []transport.LangChainOption
		if p.SystemPrompt != "" {
			opts = append(opts, transport.WithSystemPrompt(p.SystemPrompt))
		}
		return transport.NewLangChain(llm, opts...), nil
	case "script":
		return nil, fmt.Errorf("provider %q needs a script path", p.Name)
	default:
		return nil, fmt.Errorf("unknown provider %q", p.Name)
	}
}

func openIndex(cfg *config.Config) (*index.MessageIndex, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.Provider.URL),
		ollama.WithModel(cfg.Index.EmbedderModel),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Ollama embedder: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	opts := []index.Option{index.WithCollection(cfg.Index.Collection)}
	if cfg.Index.PersistenceDir != "" {
		opts = append(opts, index.WithPersistence(config.ResolvePath(cfg.Index.PersistenceDir)))
	}
	return index.New(index.EmbedderFunc(embedder), opts...)
}

func (a *app) Close() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		a.server.Shutdown(ctx)
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.log.Warn("Failed to close history: %v", err)
		}
	}
}
