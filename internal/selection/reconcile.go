package selection

import "github.com/mpataki/execwatch/internal/models"

// Snapshot is one observation of an execution list together with the id
// selected while it was current. An empty SelectedID means no selection.
type Snapshot struct {
	List       []*models.Execution
	SelectedID string
}

// Reconcile returns the id that should be selected once next replaces
// prev.List. Both snapshots must be ordered oldest first with unique ids;
// a repeated id yields ErrDuplicateID and an empty result.
//
// The first matching rule wins:
//   - an empty next clears the selection
//   - with nothing selected, the newest execution is picked
//   - when next grew and its newest execution is running, it is followed
//   - when next shrank, a surviving selection is kept; a removed one is
//     replaced by whatever now sits at its old position, or the one just
//     before it
//   - otherwise a surviving selection is kept and a vanished one falls
//     back to the newest execution
func Reconcile(prev Snapshot, next []*models.Execution) (string, error) {
	if err := Validate(prev.List); err != nil {
		return "", err
	}
	if err := Validate(next); err != nil {
		return "", err
	}

	if len(next) == 0 {
		return "", nil
	}
	if prev.SelectedID == "" {
		return lastID(next), nil
	}

	newest := next[len(next)-1]
	if len(next) > len(prev.List) && newest.IsRunning() {
		return newest.ID, nil
	}

	if indexOf(next, prev.SelectedID) >= 0 {
		return prev.SelectedID, nil
	}

	if len(next) < len(prev.List) {
		// The selection was removed. A selection that was never part of
		// prev.List has no position to inherit and falls through.
		if i := indexOf(prev.List, prev.SelectedID); i >= 0 {
			switch {
			case i < len(next):
				return next[i].ID, nil
			case i-1 < len(next):
				return next[i-1].ID, nil
			}
			return "", nil
		}
	}

	return lastID(next), nil
}
