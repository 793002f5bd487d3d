package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace is the directory an execution's tasks run in.
type Workspace struct {
	Path    string
	WorkDir string
	LogDir  string
}

type ExecutionMetadata struct {
	ExecutionID string   `json:"execution_id"`
	ReplicaName string   `json:"replica_name"`
	Number      int      `json:"number"`
	Tasks       []string `json:"tasks"`
}

func pathFor(baseDir, executionID string) string {
	return filepath.Join(baseDir, "exec-"+executionID)
}

func Create(baseDir, executionID string) (*Workspace, error) {
	path := pathFor(baseDir, executionID)
	w := &Workspace{
		Path:    path,
		WorkDir: filepath.Join(path, "work"),
		LogDir:  filepath.Join(path, "logs"),
	}

	for _, dir := range []string{w.WorkDir, w.LogDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return w, nil
}

func Open(baseDir, executionID string) (*Workspace, error) {
	path := pathFor(baseDir, executionID)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("workspace not found: %w", err)
	}

	return &Workspace{
		Path:    path,
		WorkDir: filepath.Join(path, "work"),
		LogDir:  filepath.Join(path, "logs"),
	}, nil
}

// Remove deletes an execution's workspace. A missing workspace is not an
// error.
func Remove(baseDir, executionID string) error {
	return os.RemoveAll(pathFor(baseDir, executionID))
}

func (w *Workspace) WriteMetadata(meta *ExecutionMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(w.Path, "execution.json"), data, 0644)
}

func (w *Workspace) ReadMetadata() (*ExecutionMetadata, error) {
	data, err := os.ReadFile(filepath.Join(w.Path, "execution.json"))
	if err != nil {
		return nil, err
	}

	var meta ExecutionMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("invalid execution metadata: %w", err)
	}
	return &meta, nil
}

// TaskLogPath is where a task's combined output is written. Task names are
// flattened so they cannot escape the log directory.
func (w *Workspace) TaskLogPath(taskName string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(taskName)
	return filepath.Join(w.LogDir, safe+".log")
}

func (w *Workspace) OpenTaskLog(taskName string) (*os.File, error) {
	return os.OpenFile(w.TaskLogPath(taskName), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
}

func (w *Workspace) ReadTaskLog(taskName string) (string, error) {
	data, err := os.ReadFile(w.TaskLogPath(taskName))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
