package logger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Gopher0727/TimeChat/config"
)

func fileLogger(t *testing.T, level string) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := NewLogger(&config.LoggingConfig{
		Level:    level,
		Format:   "json",
		Output:   "file",
		FilePath: path,
	})
	require.NoError(t, err)
	return l, path
}

func readEntries(t *testing.T, path string) []map[string]any {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)

	var entries []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNewLogger(t *testing.T) {
	t.Run("stdout json", func(t *testing.T) {
		l, err := NewLogger(&config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"})
		require.NoError(t, err)
		l.Info("hello")
		assert.NoError(t, l.Close())
	})

	t.Run("text format", func(t *testing.T) {
		l, err := NewLogger(&config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"})
		require.NoError(t, err)
		l.Debug("hello")
	})

	t.Run("rejects unknown format", func(t *testing.T) {
		_, err := NewLogger(&config.LoggingConfig{Level: "info", Format: "xml"})
		assert.Error(t, err)
	})

	t.Run("rejects unknown level", func(t *testing.T) {
		_, err := NewLogger(&config.LoggingConfig{Level: "verbose", Format: "json"})
		assert.Error(t, err)
	})

	t.Run("file output requires a path", func(t *testing.T) {
		_, err := NewLogger(&config.LoggingConfig{Level: "info", Format: "json", Output: "file"})
		assert.Error(t, err)
	})
}

func TestLogLevelFiltering(t *testing.T) {
	l, path := fileLogger(t, "warn")

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")
	require.NoError(t, l.Close())

	entries := readEntries(t, path)
	require.Len(t, entries, 2)
	assert.Equal(t, "warn message", entries[0]["message"])
	assert.Equal(t, "error message", entries[1]["message"])
}

func TestTraceIDInLogs(t *testing.T) {
	l, path := fileLogger(t, "info")

	ctx := WithTraceID(context.Background(), "trace-abc-123")
	l.InfoContext(ctx, "with trace", zap.String("chat_id", "c1"))
	l.InfoContext(context.Background(), "without trace")
	l.Named("sweeper").WithFields(zap.Int("removed", 2)).Info("named")
	require.NoError(t, l.Close())

	entries := readEntries(t, path)
	require.Len(t, entries, 3)

	assert.Equal(t, "trace-abc-123", entries[0]["trace_id"])
	assert.Equal(t, "c1", entries[0]["chat_id"])

	_, hasTrace := entries[1]["trace_id"]
	assert.False(t, hasTrace)

	assert.Equal(t, "sweeper", entries[2]["logger"])
	assert.Equal(t, float64(2), entries[2]["removed"])
}

func TestParseLogLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "warning", "error", "fatal", "", "INFO"} {
		_, err := parseLogLevel(level)
		assert.NoError(t, err, level)
	}
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.ErrorContext(context.Background(), "dropped")
	assert.NoError(t, l.Close())
}
