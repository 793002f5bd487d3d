package selection

import (
	"fmt"
	"sync"

	"github.com/mpataki/execwatch/internal/models"
)

// Action is the destructive action offered for the current selection.
type Action int

const (
	ActionNone Action = iota
	ActionCancel
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionCancel:
		return "cancel"
	case ActionDelete:
		return "delete"
	default:
		return "none"
	}
}

// Controller owns the last observed execution list and the selected id.
// All methods are safe to call from multiple goroutines; mutations are
// serialized by an internal mutex.
type Controller struct {
	mu         sync.Mutex
	list       []*models.Execution
	selectedID string

	// OnChange, when set, is called with the previous and new selected id
	// after any operation that changed the selection. It runs with the
	// controller unlocked.
	OnChange func(from, to string)
}

func NewController() *Controller {
	return &Controller{}
}

// Observe replaces the current list with a copy of a fresh snapshot and
// reconciles the selection against it. A malformed snapshot is rejected
// and leaves the state untouched.
func (c *Controller) Observe(list []*models.Execution) error {
	c.mu.Lock()
	prev := Snapshot{List: c.list, SelectedID: c.selectedID}
	id, err := Reconcile(prev, list)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.list = append([]*models.Execution(nil), list...)
	c.selectedID = id
	c.mu.Unlock()

	c.changed(prev.SelectedID, id)
	return nil
}

// Reset forgets the list and the selection.
func (c *Controller) Reset() {
	c.mu.Lock()
	from := c.selectedID
	c.list = nil
	c.selectedID = ""
	c.mu.Unlock()

	c.changed(from, "")
}

func (c *Controller) SelectPrevious() {
	c.step(-1)
}

func (c *Controller) SelectNext() {
	c.step(1)
}

func (c *Controller) step(delta int) {
	c.mu.Lock()
	from := c.selectedID
	i := indexOf(c.list, from)
	j := i + delta
	if i < 0 || j < 0 || j >= len(c.list) {
		c.mu.Unlock()
		return
	}
	c.selectedID = c.list[j].ID
	to := c.selectedID
	c.mu.Unlock()

	c.changed(from, to)
}

// SelectByID selects the execution with the given id. Naming an execution
// that is not in the current list is a caller error and returns
// ErrUnknownID without touching the selection.
func (c *Controller) SelectByID(id string) error {
	c.mu.Lock()
	if indexOf(c.list, id) < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownID, id)
	}
	from := c.selectedID
	c.selectedID = id
	c.mu.Unlock()

	c.changed(from, id)
	return nil
}

func (c *Controller) SelectedID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedID
}

// Selected resolves the selected id against the current list.
func (c *Controller) Selected() *models.Execution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedLocked()
}

// SelectedIndex is the position of the selection in List, or -1.
func (c *Controller) SelectedIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return indexOf(c.list, c.selectedID)
}

// List returns the last observed snapshot. Callers must not modify it.
func (c *Controller) List() []*models.Execution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list
}

func (c *Controller) HasSelection() bool {
	return c.Selected() != nil
}

func (c *Controller) SelectedIsRunning() bool {
	return c.Selected().IsRunning()
}

func (c *Controller) HasAnyExecutions() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.list) > 0
}

// Action reports which destructive action the selection allows: a running
// execution can only be canceled, any other selected execution can only be
// deleted.
func (c *Controller) Action() Action {
	sel := c.Selected()
	switch {
	case sel == nil:
		return ActionNone
	case sel.IsRunning():
		return ActionCancel
	default:
		return ActionDelete
	}
}

func (c *Controller) selectedLocked() *models.Execution {
	if i := indexOf(c.list, c.selectedID); i >= 0 {
		return c.list[i]
	}
	return nil
}

func (c *Controller) changed(from, to string) {
	if from != to && c.OnChange != nil {
		c.OnChange(from, to)
	}
}
