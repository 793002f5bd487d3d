package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOpenRemove(t *testing.T) {
	base := t.TempDir()

	ws, err := Create(base, "abc")
	require.NoError(t, err)
	assert.DirExists(t, ws.WorkDir)
	assert.DirExists(t, ws.LogDir)

	opened, err := Open(base, "abc")
	require.NoError(t, err)
	assert.Equal(t, ws.Path, opened.Path)

	require.NoError(t, Remove(base, "abc"))
	_, err = Open(base, "abc")
	assert.Error(t, err)

	assert.NoError(t, Remove(base, "abc"))
}

func TestMetadataRoundTrip(t *testing.T) {
	ws, err := Create(t.TempDir(), "abc")
	require.NoError(t, err)

	meta := &ExecutionMetadata{ExecutionID: "abc", ReplicaName: "backup", Number: 3, Tasks: []string{"dump"}}
	require.NoError(t, ws.WriteMetadata(meta))

	got, err := ws.ReadMetadata()
	require.NoError(t, err)
	assert.Equal(t, meta, got)
}

func TestTaskLog(t *testing.T) {
	ws, err := Create(t.TempDir(), "abc")
	require.NoError(t, err)

	f, err := ws.OpenTaskLog("../escape/me")
	require.NoError(t, err)
	_, err = f.WriteString("hello\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Equal(t, ws.LogDir, filepath.Dir(ws.TaskLogPath("../escape/me")))

	out, err := ws.ReadTaskLog("../escape/me")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)

	_, err = ws.ReadTaskLog("missing")
	assert.True(t, os.IsNotExist(err))
}
