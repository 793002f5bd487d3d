package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := New("debug", "json", &buf).With("replica", "backup")
	log.Debug("selection changed", "to", "e2")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "selection changed", entry["msg"])
	assert.Equal(t, "backup", entry["replica"])
	assert.Equal(t, "e2", entry["to"])
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := New("warn", "text", &buf)
	log.Info("hidden")
	assert.Empty(t, buf.String())
	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "execwatch.log")
	log, closer, err := NewFile("info", "text", path)
	require.NoError(t, err)
	log.Info("hello")
	require.NoError(t, closer.Close())
	assert.FileExists(t, path)
}
