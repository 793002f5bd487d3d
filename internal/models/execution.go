package models

import "time"

type ExecStatus string

const (
	ExecStatusPending    ExecStatus = "PENDING"
	ExecStatusRunning    ExecStatus = "RUNNING"
	ExecStatusCompleted  ExecStatus = "COMPLETED"
	ExecStatusError      ExecStatus = "ERROR"
	ExecStatusCanceled   ExecStatus = "CANCELED"
	ExecStatusCancelling ExecStatus = "CANCELLING"
)

// Terminal reports whether no further transitions are expected.
func (s ExecStatus) Terminal() bool {
	switch s {
	case ExecStatusCompleted, ExecStatusError, ExecStatusCanceled:
		return true
	}
	return false
}

type Execution struct {
	ID          string
	ReplicaID   string
	Number      int
	Status      ExecStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	Tasks       []*Task
}

func (e *Execution) IsRunning() bool {
	return e != nil && e.Status == ExecStatusRunning
}

type Task struct {
	ID          string
	ExecutionID string
	Position    int
	Name        string
	Command     string
	Status      ExecStatus
	ExitCode    *int
	PID         *int
	StartedAt   *time.Time
	CompletedAt *time.Time
}
