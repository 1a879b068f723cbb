package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/history"
)

// harness runs the root command against a private config and database.
type harness struct {
	t       *testing.T
	config  string
	history string
	thread  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("logging:\n  level: debug\nmetrics:\n  enabled: true\n"), 0644))
	return &harness{
		t:       t,
		config:  cfg,
		history: filepath.Join(dir, "history.db"),
		thread:  strings.ReplaceAll(t.Name(), "/", "-"),
	}
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	defer resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(append([]string{
		"--config", h.config,
		"--history", h.history,
		"--thread", h.thread,
		"--no-color",
	}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func TestRootCommandFlags(t *testing.T) {
	for name, typ := range map[string]string{
		"config":       "string",
		"log-level":    "string",
		"thread":       "string",
		"history":      "string",
		"metrics-addr": "string",
		"no-color":     "bool",
	} {
		flag := rootCmd.PersistentFlags().Lookup(name)
		require.NotNil(t, flag, name)
		assert.Equal(t, typ, flag.Value.Type(), name)
	}

	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"chat", "replay", "tree", "search", "init"} {
		assert.True(t, names[want], want)
	}
}

func TestReplay_StreamsReply(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("replay", "testdata/demo.yaml", "hi")
	require.NoError(t, err)
	assert.Contains(t, out, "assistant\nHello there.")

	stored, err := h.run("tree")
	require.NoError(t, err)
	assert.Contains(t, stored, "* user")
	assert.Contains(t, stored, "[complete] Hello there.")
}

func TestReplay_ExecutesLocalTools(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("replay", "testdata/demo.yaml", "what time is it")
	require.NoError(t, err)
	assert.Contains(t, out, "tool clock call-1")
	assert.Contains(t, out, `{"timezone":"UTC"}`)
	assert.Contains(t, out, `result: {"time":`)
	assert.NotContains(t, out, "waiting for tool results")
}

func TestReplay_PendingToolResult(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("replay", "testdata/demo.yaml", "please approve", `/result call-2 "yes"`)
	require.NoError(t, err)
	assert.Contains(t, out, "tool ask_user call-2")
	assert.Contains(t, out, "waiting for tool results")
	assert.Contains(t, out, "result recorded for call-2")

	store, err := history.OpenSQLite(context.Background(), h.history)
	require.NoError(t, err)
	defer store.Close()
	export, err := store.Thread(h.thread).Load(context.Background())
	require.NoError(t, err)
	tree, err := chat.ImportTree(export)
	require.NoError(t, err)

	path := tree.ActivePath()
	require.Len(t, path, 2)
	call, _, ok := path[1].ToolCall("call-2")
	require.True(t, ok)
	assert.Equal(t, "yes", call.Result)
	assert.Equal(t, chat.StatusComplete, path[1].Status.Type)
}

func TestReplay_RegenerateBranches(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("replay", "testdata/demo.yaml", "hi", "/regen", "/history")
	require.NoError(t, err)
	assert.Contains(t, out, "assistant (2/2)")
	assert.Contains(t, out, "1. user")

	// history survives the process; the next session continues the thread
	out, err = h.run("replay", "testdata/demo.yaml", "/history")
	require.NoError(t, err)
	assert.Contains(t, out, "2. assistant (2/2)")
}

func TestReplay_Errors(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("replay", "testdata/demo.yaml", "/bogus")
	assert.ErrorContains(t, err, "unknown command")

	_, err = h.run("replay", "testdata/demo.yaml", "/edit 7 nothing there")
	assert.ErrorIs(t, err, chat.ErrInvalidTarget)

	_, err = h.run("replay", "testdata/missing.yaml")
	assert.Error(t, err)
}

func TestTree_ListAndDelete(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("replay", "testdata/demo.yaml", "hi")
	require.NoError(t, err)

	out, err := h.run("tree", "--list")
	require.NoError(t, err)
	assert.Contains(t, out, h.thread+"  2 messages")

	out, err = h.run("tree", "--delete")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted thread "+h.thread)

	out, err = h.run("tree")
	require.NoError(t, err)
	assert.Contains(t, out, "is empty")
}

func TestInit_WritesDefaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "conf")
	defer resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"init", dir})
	require.NoError(t, rootCmd.Execute())

	data, err := os.ReadFile(filepath.Join(dir, "settings.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "history_path")
	assert.Contains(t, out.String(), "settings written to")
}
