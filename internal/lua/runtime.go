package lua

import (
	"context"
	"errors"
	"fmt"
	"os"

	lua "github.com/yuin/gopher-lua"

	"github.com/mpataki/execwatch/internal/models"
)

var (
	// ErrFailed is returned when the script called fail().
	ErrFailed = errors.New("replica script failed")

	// ErrCanceled is returned when a task was canceled mid-script.
	ErrCanceled = errors.New("execution canceled")
)

// TaskRunner runs one task of the current execution and returns it in its
// final state. A canceled task is reported with status CANCELED.
type TaskRunner interface {
	RunTask(ctx context.Context, name, command string) (*models.Task, error)
}

// Info is exposed to scripts through context().
type Info struct {
	ExecutionID string
	Number      int
	Replica     string
	WorkDir     string
}

// Runtime executes Lua replica scripts in a sandboxed environment
type Runtime struct {
	runner TaskRunner
	info   Info
	logs   []string

	failReason string
	failed     bool
	canceled   bool
}

func NewRuntime(runner TaskRunner, info Info) *Runtime {
	return &Runtime{
		runner: runner,
		info:   info,
		logs:   make([]string, 0),
	}
}

// Execute loads the script and calls its replica(ctx) function.
func (r *Runtime) Execute(ctx context.Context, scriptPath string) error {
	script, err := os.ReadFile(scriptPath)
	if err != nil {
		return fmt.Errorf("failed to read script: %w", err)
	}
	return r.ExecuteString(ctx, string(script))
}

func (r *Runtime) ExecuteString(ctx context.Context, script string) error {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true, // Don't load any libraries by default
	})
	defer L.Close()
	L.SetContext(ctx)

	r.openSafeLibs(L)
	r.registerAPI(L, ctx)

	if err := L.DoString(script); err != nil {
		return fmt.Errorf("failed to load script: %w", err)
	}

	entry := L.GetGlobal("replica")
	if entry.Type() != lua.LTFunction {
		return fmt.Errorf("script must define a 'replica' function")
	}

	L.Push(entry)
	L.Push(r.contextTable(L))
	err := L.PCall(1, 0, nil)

	switch {
	case r.canceled:
		return ErrCanceled
	case r.failed:
		return fmt.Errorf("%w: %s", ErrFailed, r.failReason)
	case err != nil:
		return fmt.Errorf("replica script error: %w", err)
	}
	return nil
}

// openSafeLibs loads only the safe standard libraries
func (r *Runtime) openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)

	// Remove dangerous base functions
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil) // Use log() instead

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

func (r *Runtime) registerAPI(L *lua.LState, ctx context.Context) {
	L.SetGlobal("task", L.NewFunction(func(L *lua.LState) int {
		return r.luaTask(L, ctx)
	}))
	L.SetGlobal("fail", L.NewFunction(r.luaFail))
	L.SetGlobal("context", L.NewFunction(func(L *lua.LState) int {
		L.Push(r.contextTable(L))
		return 1
	}))
	L.SetGlobal("log", L.NewFunction(r.luaLog))
}

// luaTask implements task(name, command) -> {status, exit_code, ok}
func (r *Runtime) luaTask(L *lua.LState, ctx context.Context) int {
	name := L.CheckString(1)
	command := L.CheckString(2)

	task, err := r.runner.RunTask(ctx, name, command)
	if err != nil {
		L.RaiseError("task %q: %v", name, err)
		return 0
	}
	if task.Status == models.ExecStatusCanceled {
		r.canceled = true
		L.RaiseError("task %q canceled", name)
		return 0
	}

	tbl := L.NewTable()
	L.SetField(tbl, "status", lua.LString(task.Status))
	L.SetField(tbl, "ok", lua.LBool(task.Status == models.ExecStatusCompleted))
	if task.ExitCode != nil {
		L.SetField(tbl, "exit_code", lua.LNumber(*task.ExitCode))
	}
	L.Push(tbl)
	return 1
}

// luaFail implements fail(reason?)
func (r *Runtime) luaFail(L *lua.LState) int {
	r.failReason = L.OptString(1, "replica failed")
	r.failed = true
	L.RaiseError("fail: %s", r.failReason)
	return 0
}

func (r *Runtime) luaLog(L *lua.LState) int {
	r.logs = append(r.logs, L.CheckString(1))
	return 0
}

func (r *Runtime) contextTable(L *lua.LState) *lua.LTable {
	tbl := L.NewTable()
	L.SetField(tbl, "execution_id", lua.LString(r.info.ExecutionID))
	L.SetField(tbl, "number", lua.LNumber(r.info.Number))
	L.SetField(tbl, "replica", lua.LString(r.info.Replica))
	L.SetField(tbl, "workdir", lua.LString(r.info.WorkDir))
	return tbl
}

// Logs returns the messages collected through log().
func (r *Runtime) Logs() []string {
	return r.logs
}
