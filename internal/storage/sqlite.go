package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mpataki/execwatch/internal/models"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// The executor and the TUI refresh share one handle; sqlite allows a
	// single writer.
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS replicas (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		spec_path TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		replica_id TEXT NOT NULL REFERENCES replicas(id) ON DELETE CASCADE,
		number INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		UNIQUE(replica_id, number)
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		execution_id TEXT NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		command TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		exit_code INTEGER,
		pid INTEGER,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		UNIQUE(execution_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_executions_replica ON executions(replica_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_execution ON tasks(execution_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveReplica inserts the replica or updates the one with the same name.
// The stored id is written back into r.
func (s *Storage) SaveReplica(r *models.Replica) error {
	existing, err := s.GetReplicaByName(r.Name)
	switch {
	case errors.Is(err, ErrNotFound):
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now().UTC()
		}
		_, err = s.db.Exec(
			`INSERT INTO replicas (id, name, description, spec_path, created_at) VALUES (?, ?, ?, ?, ?)`,
			r.ID, r.Name, r.Description, r.SpecPath, r.CreatedAt,
		)
		return err
	case err != nil:
		return err
	}

	r.ID = existing.ID
	r.CreatedAt = existing.CreatedAt
	_, err = s.db.Exec(
		`UPDATE replicas SET description = ?, spec_path = ? WHERE id = ?`,
		r.Description, r.SpecPath, r.ID,
	)
	return err
}

func (s *Storage) GetReplica(id string) (*models.Replica, error) {
	return s.getReplica(`WHERE id = ?`, id)
}

func (s *Storage) GetReplicaByName(name string) (*models.Replica, error) {
	return s.getReplica(`WHERE name = ?`, name)
}

func (s *Storage) getReplica(where string, arg any) (*models.Replica, error) {
	row := s.db.QueryRow(
		`SELECT id, name, description, spec_path, created_at FROM replicas `+where, arg,
	)

	var r models.Replica
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.SpecPath, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("replica %v: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Storage) ListReplicas() ([]*models.Replica, error) {
	rows, err := s.db.Query(
		`SELECT id, name, description, spec_path, created_at FROM replicas ORDER BY name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var replicas []*models.Replica
	for rows.Next() {
		var r models.Replica
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.SpecPath, &r.CreatedAt); err != nil {
			return nil, err
		}
		replicas = append(replicas, &r)
	}

	return replicas, rows.Err()
}

// CreateExecution stores exec and its tasks in one transaction. Missing
// ids are generated and the execution number continues the replica's
// sequence.
func (s *Storage) CreateExecution(exec *models.Execution) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = now
	}
	exec.UpdatedAt = now

	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(number), 0) + 1 FROM executions WHERE replica_id = ?`, exec.ReplicaID,
	).Scan(&exec.Number); err != nil {
		return err
	}

	if _, err := tx.Exec(
		`INSERT INTO executions (id, replica_id, number, status, created_at, updated_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.ReplicaID, exec.Number, exec.Status, exec.CreatedAt, exec.UpdatedAt, exec.CompletedAt,
	); err != nil {
		return err
	}

	for i, task := range exec.Tasks {
		if task.ID == "" {
			task.ID = uuid.NewString()
		}
		task.ExecutionID = exec.ID
		task.Position = i
		if task.Status == "" {
			task.Status = models.ExecStatusPending
		}
		if _, err := tx.Exec(
			`INSERT INTO tasks (id, execution_id, position, name, command, status, exit_code, pid, started_at, completed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			task.ID, task.ExecutionID, task.Position, task.Name, task.Command, task.Status,
			task.ExitCode, task.PID, task.StartedAt, task.CompletedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// AddTask appends a task to an existing execution, for definitions that
// discover their tasks while running.
func (s *Storage) AddTask(task *models.Task) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = models.ExecStatusPending
	}
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(position), -1) + 1 FROM tasks WHERE execution_id = ?`, task.ExecutionID,
	).Scan(&task.Position); err != nil {
		return err
	}

	if _, err := tx.Exec(
		`INSERT INTO tasks (id, execution_id, position, name, command, status, exit_code, pid, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.ExecutionID, task.Position, task.Name, task.Command, task.Status,
		task.ExitCode, task.PID, task.StartedAt, task.CompletedAt,
	); err != nil {
		return err
	}

	return tx.Commit()
}

const executionColumns = `id, replica_id, number, status, created_at, updated_at, completed_at`

func (s *Storage) GetExecution(id string) (*models.Execution, error) {
	row := s.db.QueryRow(`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)

	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	tasks, err := s.tasksFor(`WHERE execution_id = ?`, id)
	if err != nil {
		return nil, err
	}
	exec.Tasks = tasks[exec.ID]

	return exec, nil
}

// ListExecutions returns every execution of a replica, oldest first, with
// tasks attached.
func (s *Storage) ListExecutions(replicaID string) ([]*models.Execution, error) {
	rows, err := s.db.Query(
		`SELECT `+executionColumns+` FROM executions WHERE replica_id = ? ORDER BY created_at, number`, replicaID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*models.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tasks, err := s.tasksFor(
		`WHERE execution_id IN (SELECT id FROM executions WHERE replica_id = ?)`, replicaID,
	)
	if err != nil {
		return nil, err
	}
	for _, exec := range execs {
		exec.Tasks = tasks[exec.ID]
	}

	return execs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*models.Execution, error) {
	var exec models.Execution
	var completedAt sql.NullTime

	err := row.Scan(
		&exec.ID, &exec.ReplicaID, &exec.Number, &exec.Status,
		&exec.CreatedAt, &exec.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		exec.CompletedAt = &completedAt.Time
	}
	return &exec, nil
}

func (s *Storage) tasksFor(where string, arg any) (map[string][]*models.Task, error) {
	rows, err := s.db.Query(
		`SELECT id, execution_id, position, name, command, status, exit_code, pid, started_at, completed_at
		 FROM tasks `+where+` ORDER BY execution_id, position`, arg,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make(map[string][]*models.Task)
	for rows.Next() {
		var task models.Task
		var exitCode, pid sql.NullInt64
		var startedAt, completedAt sql.NullTime

		err := rows.Scan(
			&task.ID, &task.ExecutionID, &task.Position, &task.Name, &task.Command, &task.Status,
			&exitCode, &pid, &startedAt, &completedAt,
		)
		if err != nil {
			return nil, err
		}

		if exitCode.Valid {
			code := int(exitCode.Int64)
			task.ExitCode = &code
		}
		if pid.Valid {
			p := int(pid.Int64)
			task.PID = &p
		}
		if startedAt.Valid {
			task.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			task.CompletedAt = &completedAt.Time
		}

		tasks[task.ExecutionID] = append(tasks[task.ExecutionID], &task)
	}

	return tasks, rows.Err()
}

func (s *Storage) UpdateExecutionStatus(id string, status models.ExecStatus, completedAt *time.Time) error {
	result, err := s.db.Exec(
		`UPDATE executions SET status = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
		status, time.Now().UTC(), completedAt, id,
	)
	if err != nil {
		return err
	}
	return expectRow(result, "execution", id)
}

// TransitionExecution moves an execution from one status to another and
// reports whether the row was in the expected status.
func (s *Storage) TransitionExecution(id string, from, to models.ExecStatus) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE executions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, time.Now().UTC(), id, from,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Storage) UpdateTask(task *models.Task) error {
	_, err := s.db.Exec(
		`UPDATE tasks SET status = ?, exit_code = ?, pid = ?, started_at = ?, completed_at = ? WHERE id = ?`,
		task.Status, task.ExitCode, task.PID, task.StartedAt, task.CompletedAt, task.ID,
	)
	return err
}

func (s *Storage) UpdateTaskPID(taskID string, pid int) error {
	_, err := s.db.Exec(`UPDATE tasks SET pid = ? WHERE id = ?`, pid, taskID)
	return err
}

// RunningTask returns the task currently running for an execution, or nil.
func (s *Storage) RunningTask(executionID string) (*models.Task, error) {
	tasks, err := s.tasksFor(`WHERE execution_id = ?`, executionID)
	if err != nil {
		return nil, err
	}
	for _, task := range tasks[executionID] {
		if task.Status == models.ExecStatusRunning {
			return task, nil
		}
	}
	return nil, nil
}

func (s *Storage) DeleteExecution(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM tasks WHERE execution_id = ?`, id); err != nil {
		return err
	}
	result, err := tx.Exec(`DELETE FROM executions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if err := expectRow(result, "execution", id); err != nil {
		return err
	}

	return tx.Commit()
}

func expectRow(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
