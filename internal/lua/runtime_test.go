package lua

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/execwatch/internal/models"
)

type fakeRunner struct {
	calls   []string
	results map[string]models.ExecStatus
}

func (f *fakeRunner) RunTask(_ context.Context, name, command string) (*models.Task, error) {
	f.calls = append(f.calls, name+":"+command)
	status, ok := f.results[name]
	if !ok {
		status = models.ExecStatusCompleted
	}
	code := 0
	if status == models.ExecStatusError {
		code = 1
	}
	return &models.Task{Name: name, Command: command, Status: status, ExitCode: &code}, nil
}

var info = Info{ExecutionID: "e1", Number: 4, Replica: "migrate", WorkDir: "/tmp/work"}

func TestExecute_RunsTasksInOrder(t *testing.T) {
	runner := &fakeRunner{}
	rt := NewRuntime(runner, info)

	err := rt.ExecuteString(context.Background(), `
function replica(ctx)
  log("starting #" .. ctx.number .. " of " .. ctx.replica)
  local r = task("export", "echo export")
  if r.ok then
    task("import", "echo import")
  end
end
`)
	require.NoError(t, err)
	assert.Equal(t, []string{"export:echo export", "import:echo import"}, runner.calls)
	assert.Equal(t, []string{"starting #4 of migrate"}, rt.Logs())
}

func TestExecute_ScriptSeesTaskFailure(t *testing.T) {
	runner := &fakeRunner{results: map[string]models.ExecStatus{"export": models.ExecStatusError}}
	rt := NewRuntime(runner, info)

	err := rt.ExecuteString(context.Background(), `
function replica(ctx)
  local r = task("export", "false")
  if not r.ok then
    fail("export exited " .. r.exit_code)
  end
  task("import", "true")
end
`)
	require.ErrorIs(t, err, ErrFailed)
	assert.Contains(t, err.Error(), "export exited 1")
	assert.Len(t, runner.calls, 1)
}

func TestExecute_CanceledTaskStopsScript(t *testing.T) {
	runner := &fakeRunner{results: map[string]models.ExecStatus{"export": models.ExecStatusCanceled}}
	rt := NewRuntime(runner, info)

	err := rt.ExecuteString(context.Background(), `
function replica(ctx)
  pcall(function() task("export", "sleep 60") end)
  task("import", "true")
end
`)
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestExecute_RequiresEntryPoint(t *testing.T) {
	rt := NewRuntime(&fakeRunner{}, info)
	err := rt.ExecuteString(context.Background(), `x = 1`)
	assert.Error(t, err)
}

func TestExecute_Sandboxed(t *testing.T) {
	rt := NewRuntime(&fakeRunner{}, info)
	err := rt.ExecuteString(context.Background(), `
function replica(ctx)
  dofile("/etc/passwd")
end
`)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrFailed)
}

func TestExecute_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.lua")
	require.NoError(t, os.WriteFile(path, []byte(`function replica(ctx) task("only", ctx.workdir) end`), 0644))

	runner := &fakeRunner{}
	require.NoError(t, NewRuntime(runner, info).Execute(context.Background(), path))
	assert.Equal(t, []string{"only:/tmp/work"}, runner.calls)

	_, err := os.Stat(path)
	require.NoError(t, err)
	assert.Error(t, NewRuntime(runner, info).Execute(context.Background(), path+".missing"))
}
