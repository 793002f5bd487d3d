package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("EXECWATCH_DATA_DIR", dir)

	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "execwatch.db"), c.DBPath)
	assert.Equal(t, filepath.Join(dir, "replicas"), c.UserSpecDir)
	assert.Equal(t, filepath.Join(dir, "executions"), c.WorkspacesDir())
	assert.Equal(t, 2*time.Second, c.RefreshInterval)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, []string{".execwatch/replicas", filepath.Join(dir, "replicas")}, c.SpecDirs())
}

func TestNew_ConfigFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("EXECWATCH_DATA_DIR", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(
		"refresh_interval: 5s\nlist_limit: 10\nlog_level: debug\nlog_format: json\n"), 0644))

	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, c.RefreshInterval)
	assert.Equal(t, 10, c.ListLimit)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, "json", c.LogFormat)

	t.Setenv("EXECWATCH_REFRESH", "500ms")
	t.Setenv("EXECWATCH_LOG_LEVEL", "warn")
	c, err = New()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, c.RefreshInterval)
	assert.Equal(t, "warn", c.LogLevel)
}

func TestNew_RejectsBadRefresh(t *testing.T) {
	t.Setenv("EXECWATCH_DATA_DIR", t.TempDir())

	t.Setenv("EXECWATCH_REFRESH", "soon")
	_, err := New()
	assert.Error(t, err)

	t.Setenv("EXECWATCH_REFRESH", "-1s")
	_, err = New()
	assert.Error(t, err)
}

func TestEnsureDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	t.Setenv("EXECWATCH_DATA_DIR", dir)

	c, err := New()
	require.NoError(t, err)
	require.NoError(t, c.EnsureDataDir())
	assert.DirExists(t, c.UserSpecDir)
}
