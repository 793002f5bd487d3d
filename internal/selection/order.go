package selection

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mpataki/execwatch/internal/models"
)

var (
	// ErrDuplicateID indicates a snapshot listed the same execution twice.
	ErrDuplicateID = errors.New("duplicate execution id in snapshot")

	// ErrUnknownID indicates a pick named an execution outside the snapshot.
	ErrUnknownID = errors.New("execution id not in snapshot")
)

// Validate rejects snapshots that contain nil entries or repeat an id.
func Validate(list []*models.Execution) error {
	seen := make(map[string]struct{}, len(list))
	for i, e := range list {
		if e == nil {
			return fmt.Errorf("nil execution at index %d", i)
		}
		if _, ok := seen[e.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	return nil
}

// SortByCreated orders a snapshot oldest first. Executions created in the
// same instant fall back to their per-replica number.
func SortByCreated(list []*models.Execution) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Number < b.Number
	})
}

func indexOf(list []*models.Execution, id string) int {
	if id == "" {
		return -1
	}
	for i, e := range list {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func lastID(list []*models.Execution) string {
	if len(list) == 0 {
		return ""
	}
	return list[len(list)-1].ID
}
