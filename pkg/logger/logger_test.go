package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "test.log")

	t.Run("should truncate when persist is false", func(t *testing.T) {
		require.NoError(t, os.MkdirAll(filepath.Dir(logPath), 0755))
		require.NoError(t, os.WriteFile(logPath, []byte("existing content\n"), 0644))

		l, err := New(LevelInfo, logPath, false)
		require.NoError(t, err)
		l.Info("fresh %d", 1)
		require.NoError(t, l.Close())

		content, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(content), "[INFO] fresh 1")
		assert.NotContains(t, string(content), "existing content")
	})

	t.Run("should append when persist is true", func(t *testing.T) {
		l, err := New(LevelInfo, logPath, true)
		require.NoError(t, err)
		l.Warn("second")
		require.NoError(t, l.Close())

		content, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(content), "fresh 1")
		assert.Contains(t, string(content), "[WARN] second")
	})
}

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(LevelWarn, &buf)

	l.Debug("hidden")
	l.Info("hidden too")
	l.Warn("shown")
	l.Error("also shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown")
	assert.Contains(t, out, "[ERROR] also shown")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	prev := SetDefault(NewWriter(LevelDebug, &buf))
	t.Cleanup(func() { SetDefault(prev) })

	log := WithComponent("runtime")
	log.Debug("run %s started", "r1")

	bound := NewWriter(LevelDebug, &buf).WithComponent("tools")
	bound.Info("executed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[DEBUG] [runtime] run r1 started", lines[0])
	assert.Equal(t, "[INFO] [tools] executed", lines[1])
}

func TestPackageFunctionsWithoutInit(t *testing.T) {
	prev := SetDefault(nil)
	t.Cleanup(func() { SetDefault(prev) })

	assert.NotPanics(t, func() {
		Debug("x")
		Info("x")
		Warn("x")
		Error("x")
		WithComponent("c").Error("x")
	})
	assert.NoError(t, Close())
}
