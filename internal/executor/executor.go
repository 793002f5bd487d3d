package executor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/mpataki/execwatch/internal/logger"
	shopLua "github.com/mpataki/execwatch/internal/lua"
	"github.com/mpataki/execwatch/internal/models"
	"github.com/mpataki/execwatch/internal/selection"
	"github.com/mpataki/execwatch/internal/spec"
	"github.com/mpataki/execwatch/internal/storage"
	"github.com/mpataki/execwatch/internal/workspace"
)

var (
	// ErrNotRunning is returned when canceling an execution that is not
	// running.
	ErrNotRunning = errors.New("execution is not running")

	// ErrRunning is returned when deleting an execution that is still
	// running or being canceled.
	ErrRunning = errors.New("execution is still running")
)

const defaultShell = "/bin/sh"

type Executor struct {
	storage      *storage.Storage
	workspaceDir string
	log          *logger.Logger
}

func New(store *storage.Storage, workspaceDir string, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.Nop()
	}
	return &Executor{
		storage:      store,
		workspaceDir: workspaceDir,
		log:          log,
	}
}

// SyncReplicas records every definition found on disk as a replica.
func (e *Executor) SyncReplicas(defs map[string]*spec.Definition) error {
	for _, def := range defs {
		r := &models.Replica{Name: def.Name, Description: def.Description, SpecPath: def.Path}
		if err := e.storage.SaveReplica(r); err != nil {
			return fmt.Errorf("failed to save replica %q: %w", def.Name, err)
		}
	}
	return nil
}

// StartExecution records a new running execution of the replica. Tasks of
// YAML definitions are created up front; Lua definitions add theirs as the
// script runs.
func (e *Executor) StartExecution(replica *models.Replica, def *spec.Definition) (*models.Execution, error) {
	now := time.Now().UTC()
	execution := &models.Execution{
		ReplicaID: replica.ID,
		Status:    models.ExecStatusRunning,
		CreatedAt: now,
	}
	if def.Spec != nil {
		for _, t := range def.Spec.Tasks {
			execution.Tasks = append(execution.Tasks, &models.Task{Name: t.Name, Command: t.Command})
		}
	}

	if err := e.storage.CreateExecution(execution); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	ws, err := workspace.Create(e.workspaceDir, execution.ID)
	if err != nil {
		e.finish(execution, models.ExecStatusError)
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	meta := &workspace.ExecutionMetadata{
		ExecutionID: execution.ID,
		ReplicaName: replica.Name,
		Number:      execution.Number,
	}
	for _, t := range execution.Tasks {
		meta.Tasks = append(meta.Tasks, t.Name)
	}
	if err := ws.WriteMetadata(meta); err != nil {
		e.finish(execution, models.ExecStatusError)
		return nil, err
	}

	e.log.Info("execution started", "replica", replica.Name, "execution", execution.ID, "number", execution.Number)
	return execution, nil
}

// Execute runs a started execution to completion and records its final
// status, which is also returned.
func (e *Executor) Execute(ctx context.Context, execution *models.Execution, def *spec.Definition) (models.ExecStatus, error) {
	ws, err := workspace.Open(e.workspaceDir, execution.ID)
	if err != nil {
		return e.finish(execution, models.ExecStatusError), err
	}

	shell, timeout := defaultShell, time.Duration(0)
	if def.Spec != nil && def.Spec.Settings != nil {
		if def.Spec.Settings.Shell != "" {
			shell = def.Spec.Settings.Shell
		}
		timeout = def.Spec.Settings.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if def.IsLua() {
		return e.executeLua(ctx, execution, def, ws, shell)
	}

	for _, task := range execution.Tasks {
		if e.cancelRequested(execution.ID) {
			return e.finish(execution, models.ExecStatusCanceled), nil
		}

		if err := e.runTask(ctx, ws, shell, task); err != nil {
			return e.finish(execution, models.ExecStatusError), err
		}

		switch task.Status {
		case models.ExecStatusCanceled:
			return e.finish(execution, models.ExecStatusCanceled), nil
		case models.ExecStatusError:
			e.log.Warn("task failed", "execution", execution.ID, "task", task.Name, "exit_code", derefInt(task.ExitCode))
			return e.finish(execution, models.ExecStatusError), nil
		}
	}

	if e.cancelRequested(execution.ID) {
		return e.finish(execution, models.ExecStatusCanceled), nil
	}
	return e.finish(execution, models.ExecStatusCompleted), nil
}

func (e *Executor) executeLua(ctx context.Context, execution *models.Execution, def *spec.Definition, ws *workspace.Workspace, shell string) (models.ExecStatus, error) {
	replica, err := e.storage.GetReplica(execution.ReplicaID)
	if err != nil {
		return e.finish(execution, models.ExecStatusError), err
	}

	runner := &taskRunner{executor: e, execution: execution, ws: ws, shell: shell}
	rt := shopLua.NewRuntime(runner, shopLua.Info{
		ExecutionID: execution.ID,
		Number:      execution.Number,
		Replica:     replica.Name,
		WorkDir:     ws.WorkDir,
	})

	err = rt.Execute(ctx, def.Path)
	for _, line := range rt.Logs() {
		e.log.Info("script", "execution", execution.ID, "message", line)
	}

	switch {
	case errors.Is(err, shopLua.ErrCanceled):
		return e.finish(execution, models.ExecStatusCanceled), nil
	case errors.Is(err, shopLua.ErrFailed):
		e.log.Warn("script failed", "execution", execution.ID, "error", err)
		return e.finish(execution, models.ExecStatusError), nil
	case err != nil:
		return e.finish(execution, models.ExecStatusError), err
	}

	if e.cancelRequested(execution.ID) {
		return e.finish(execution, models.ExecStatusCanceled), nil
	}
	return e.finish(execution, models.ExecStatusCompleted), nil
}

// taskRunner adds and runs tasks for a Lua script.
type taskRunner struct {
	executor  *Executor
	execution *models.Execution
	ws        *workspace.Workspace
	shell     string
}

func (r *taskRunner) RunTask(ctx context.Context, name, command string) (*models.Task, error) {
	task := &models.Task{ExecutionID: r.execution.ID, Name: name, Command: command}
	if r.executor.cancelRequested(r.execution.ID) {
		task.Status = models.ExecStatusCanceled
		return task, nil
	}
	if err := r.executor.storage.AddTask(task); err != nil {
		return nil, err
	}
	r.execution.Tasks = append(r.execution.Tasks, task)
	if err := r.executor.runTask(ctx, r.ws, r.shell, task); err != nil {
		return nil, err
	}
	return task, nil
}

// runTask runs one task in its own process group so cancellation can take
// down everything it spawned. The task's final state is stored and left
// in task.
func (e *Executor) runTask(ctx context.Context, ws *workspace.Workspace, shell string, task *models.Task) error {
	logFile, err := ws.OpenTaskLog(task.Name)
	if err != nil {
		return err
	}
	defer logFile.Close()

	cmd := exec.Command(shell, "-c", task.Command)
	cmd.Dir = ws.WorkDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	now := time.Now().UTC()
	task.StartedAt = &now
	task.Status = models.ExecStatusRunning
	if err := e.storage.UpdateTask(task); err != nil {
		return err
	}

	// A cancel that lands before the PID is stored finds no process to
	// signal, so both sides of that window check for it here.
	if e.cancelRequested(task.ExecutionID) {
		return e.completeTask(task, models.ExecStatusCanceled, -1)
	}

	if err := cmd.Start(); err != nil {
		return e.completeTask(task, models.ExecStatusError, -1)
	}

	// Store PID immediately
	pid := cmd.Process.Pid
	task.PID = &pid
	if err := e.storage.UpdateTaskPID(task.ID, pid); err != nil {
		e.log.Warn("failed to store task pid", "task", task.ID, "error", err)
	}
	if e.cancelRequested(task.ExecutionID) {
		syscall.Kill(-pid, syscall.SIGTERM)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		syscall.Kill(-pid, syscall.SIGKILL)
		waitErr = <-done
	}

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case e.cancelRequested(task.ExecutionID):
		return e.completeTask(task, models.ExecStatusCanceled, exitCode)
	case errors.Is(ctx.Err(), context.Canceled):
		e.log.Info("task canceled by caller", "task", task.Name)
		return e.completeTask(task, models.ExecStatusCanceled, exitCode)
	case ctx.Err() != nil:
		e.log.Warn("task interrupted", "task", task.Name, "error", ctx.Err())
		return e.completeTask(task, models.ExecStatusError, exitCode)
	case waitErr != nil:
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return waitErr
		}
		return e.completeTask(task, models.ExecStatusError, exitErr.ExitCode())
	}
	return e.completeTask(task, models.ExecStatusCompleted, exitCode)
}

func (e *Executor) completeTask(task *models.Task, status models.ExecStatus, exitCode int) error {
	now := time.Now().UTC()
	task.Status = status
	task.ExitCode = &exitCode
	task.CompletedAt = &now
	return e.storage.UpdateTask(task)
}

func (e *Executor) cancelRequested(executionID string) bool {
	current, err := e.storage.GetExecution(executionID)
	if err != nil {
		return false
	}
	return current.Status == models.ExecStatusCancelling || current.Status == models.ExecStatusCanceled
}

// finish stores the final status. Storage failures are logged; the status
// is returned either way so callers can report it.
func (e *Executor) finish(execution *models.Execution, status models.ExecStatus) models.ExecStatus {
	now := time.Now().UTC()
	execution.Status = status
	execution.CompletedAt = &now
	if err := e.storage.UpdateExecutionStatus(execution.ID, status, &now); err != nil {
		e.log.Error("failed to record execution status", "execution", execution.ID, "status", status, "error", err)
	}
	e.log.Info("execution finished", "execution", execution.ID, "status", status)
	return status
}

// CancelExecution asks a running execution to stop. The running task's
// process group is terminated; the execution loop then records CANCELED.
// When no process is alive to notice, the execution is closed here.
func (e *Executor) CancelExecution(id string) error {
	ok, err := e.storage.TransitionExecution(id, models.ExecStatusRunning, models.ExecStatusCancelling)
	if err != nil {
		return err
	}
	if !ok {
		if _, err := e.storage.GetExecution(id); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	}

	task, err := e.storage.RunningTask(id)
	if err != nil {
		return fmt.Errorf("failed to get running task: %w", err)
	}

	if task != nil && task.PID != nil {
		if err := syscall.Kill(-*task.PID, syscall.SIGTERM); err == nil {
			e.log.Info("cancel requested", "execution", id, "task", task.Name, "pid", *task.PID)
			return nil
		}
	}

	// Nothing is running that could observe the request.
	if task != nil {
		if err := e.completeTask(task, models.ExecStatusCanceled, -1); err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	e.log.Info("execution canceled", "execution", id)
	return e.storage.UpdateExecutionStatus(id, models.ExecStatusCanceled, &now)
}

// DeleteExecution removes a finished execution and its workspace.
func (e *Executor) DeleteExecution(id string) error {
	execution, err := e.storage.GetExecution(id)
	if err != nil {
		return fmt.Errorf("failed to get execution: %w", err)
	}
	if !execution.Status.Terminal() && execution.Status != models.ExecStatusPending {
		return fmt.Errorf("%w: %s", ErrRunning, id)
	}

	if err := workspace.Remove(e.workspaceDir, id); err != nil {
		return fmt.Errorf("failed to remove workspace: %w", err)
	}
	if err := e.storage.DeleteExecution(id); err != nil {
		return err
	}
	e.log.Info("execution deleted", "execution", id)
	return nil
}

// Read methods for TUI

func (e *Executor) ListReplicas() ([]*models.Replica, error) {
	return e.storage.ListReplicas()
}

func (e *Executor) GetReplica(name string) (*models.Replica, error) {
	return e.storage.GetReplicaByName(name)
}

func (e *Executor) GetExecution(id string) (*models.Execution, error) {
	return e.storage.GetExecution(id)
}

// ListExecutions returns a replica's executions as a snapshot ordered
// oldest first, ready for selection.Controller.Observe.
func (e *Executor) ListExecutions(replicaID string) ([]*models.Execution, error) {
	execs, err := e.storage.ListExecutions(replicaID)
	if err != nil {
		return nil, err
	}
	selection.SortByCreated(execs)
	return execs, nil
}

func (e *Executor) TaskLog(executionID, taskName string) (string, error) {
	ws, err := workspace.Open(e.workspaceDir, executionID)
	if err != nil {
		return "", err
	}
	return ws.ReadTaskLog(taskName)
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
