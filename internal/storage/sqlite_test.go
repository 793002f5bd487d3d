package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/execwatch/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newReplica(t *testing.T, s *Storage, name string) *models.Replica {
	t.Helper()
	r := &models.Replica{Name: name, Description: "test replica"}
	require.NoError(t, s.SaveReplica(r))
	return r
}

func TestSaveReplica_UpsertsByName(t *testing.T) {
	s := newTestStorage(t)

	r := newReplica(t, s, "backup")
	require.NotEmpty(t, r.ID)

	again := &models.Replica{Name: "backup", Description: "changed", SpecPath: "/tmp/backup.yaml"}
	require.NoError(t, s.SaveReplica(again))
	assert.Equal(t, r.ID, again.ID)

	got, err := s.GetReplica(r.ID)
	require.NoError(t, err)
	assert.Equal(t, "changed", got.Description)
	assert.Equal(t, "/tmp/backup.yaml", got.SpecPath)

	replicas, err := s.ListReplicas()
	require.NoError(t, err)
	assert.Len(t, replicas, 1)
}

func TestGetReplica_NotFound(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.GetReplica("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateExecution_NumbersAndTasks(t *testing.T) {
	s := newTestStorage(t)
	r := newReplica(t, s, "sync")

	for i := 0; i < 3; i++ {
		exec := &models.Execution{
			ReplicaID: r.ID,
			Status:    models.ExecStatusCompleted,
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
			Tasks: []*models.Task{
				{Name: "prepare", Command: "true"},
				{Name: "copy", Command: "true"},
			},
		}
		require.NoError(t, s.CreateExecution(exec))
		assert.Equal(t, i+1, exec.Number)
		assert.NotEmpty(t, exec.ID)
	}

	execs, err := s.ListExecutions(r.ID)
	require.NoError(t, err)
	require.Len(t, execs, 3)
	for i, exec := range execs {
		assert.Equal(t, i+1, exec.Number)
		require.Len(t, exec.Tasks, 2)
		assert.Equal(t, "prepare", exec.Tasks[0].Name)
		assert.Equal(t, "copy", exec.Tasks[1].Name)
		assert.Equal(t, models.ExecStatusPending, exec.Tasks[0].Status)
	}
}

func TestUpdateExecutionStatus(t *testing.T) {
	s := newTestStorage(t)
	r := newReplica(t, s, "sync")

	exec := &models.Execution{ReplicaID: r.ID, Status: models.ExecStatusRunning}
	require.NoError(t, s.CreateExecution(exec))

	now := time.Now().UTC()
	require.NoError(t, s.UpdateExecutionStatus(exec.ID, models.ExecStatusCompleted, &now))

	got, err := s.GetExecution(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	err = s.UpdateExecutionStatus("missing", models.ExecStatusError, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionExecution(t *testing.T) {
	s := newTestStorage(t)
	r := newReplica(t, s, "sync")

	exec := &models.Execution{ReplicaID: r.ID, Status: models.ExecStatusRunning}
	require.NoError(t, s.CreateExecution(exec))

	ok, err := s.TransitionExecution(exec.ID, models.ExecStatusRunning, models.ExecStatusCancelling)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TransitionExecution(exec.ID, models.ExecStatusRunning, models.ExecStatusCancelling)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTaskUpdatesAndRunningTask(t *testing.T) {
	s := newTestStorage(t)
	r := newReplica(t, s, "sync")

	exec := &models.Execution{
		ReplicaID: r.ID,
		Status:    models.ExecStatusRunning,
		Tasks:     []*models.Task{{Name: "a", Command: "sleep 1"}, {Name: "b", Command: "true"}},
	}
	require.NoError(t, s.CreateExecution(exec))

	task, err := s.RunningTask(exec.ID)
	require.NoError(t, err)
	assert.Nil(t, task)

	started := time.Now().UTC()
	first := exec.Tasks[0]
	first.Status = models.ExecStatusRunning
	first.StartedAt = &started
	require.NoError(t, s.UpdateTask(first))
	require.NoError(t, s.UpdateTaskPID(first.ID, 4242))

	task, err = s.RunningTask(exec.ID)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, first.ID, task.ID)
	require.NotNil(t, task.PID)
	assert.Equal(t, 4242, *task.PID)
}

func TestDeleteExecution(t *testing.T) {
	s := newTestStorage(t)
	r := newReplica(t, s, "sync")

	exec := &models.Execution{
		ReplicaID: r.ID,
		Status:    models.ExecStatusCompleted,
		Tasks:     []*models.Task{{Name: "a", Command: "true"}},
	}
	require.NoError(t, s.CreateExecution(exec))
	require.NoError(t, s.DeleteExecution(exec.ID))

	_, err := s.GetExecution(exec.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteExecution(exec.ID), ErrNotFound)

	execs, err := s.ListExecutions(r.ID)
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestAddTask(t *testing.T) {
	s := newTestStorage(t)
	r := newReplica(t, s, "scripted")

	exec := &models.Execution{ReplicaID: r.ID, Status: models.ExecStatusRunning}
	require.NoError(t, s.CreateExecution(exec))

	first := &models.Task{ExecutionID: exec.ID, Name: "one", Command: "true"}
	second := &models.Task{ExecutionID: exec.ID, Name: "two", Command: "true"}
	require.NoError(t, s.AddTask(first))
	require.NoError(t, s.AddTask(second))
	assert.Equal(t, 0, first.Position)
	assert.Equal(t, 1, second.Position)

	got, err := s.GetExecution(exec.ID)
	require.NoError(t, err)
	require.Len(t, got.Tasks, 2)
	assert.Equal(t, "two", got.Tasks[1].Name)
}
