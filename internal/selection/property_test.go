package selection

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/mpataki/execwatch/internal/models"
)

const poolSize = 8

// snapshotFrom builds a snapshot from a fixed pool of executions. Code 0
// leaves the slot out, 1 completed, 2 running, 3 error. Slots keep their
// pool order, so ids stay ordered the same way across snapshots.
func snapshotFrom(codes []int) []*models.Execution {
	var out []*models.Execution
	for i, code := range codes {
		var status models.ExecStatus
		switch code {
		case 1:
			status = models.ExecStatusCompleted
		case 2:
			status = models.ExecStatusRunning
		case 3:
			status = models.ExecStatusError
		default:
			continue
		}
		out = append(out, &models.Execution{
			ID:        fmt.Sprintf("e%d", i),
			Number:    i + 1,
			Status:    status,
			CreatedAt: epoch.Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}

func pickID(l []*models.Execution, k int) string {
	if len(l) == 0 {
		return ""
	}
	return l[k%len(l)].ID
}

func genCodes() gopter.Gen {
	return gen.SliceOfN(poolSize, gen.IntRange(0, 3))
}

func TestReconcile_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("result is empty or a member of next", prop.ForAll(
		func(prevCodes, nextCodes []int, k int) bool {
			prev := snapshotFrom(prevCodes)
			next := snapshotFrom(nextCodes)
			got, err := Reconcile(Snapshot{List: prev, SelectedID: pickID(prev, k)}, next)
			if err != nil {
				return false
			}
			return got == "" || indexOf(next, got) >= 0
		},
		genCodes(), genCodes(), gen.IntRange(0, poolSize-1),
	))

	properties.Property("reconciling is deterministic", prop.ForAll(
		func(prevCodes, nextCodes []int, k int) bool {
			prev := snapshotFrom(prevCodes)
			next := snapshotFrom(nextCodes)
			snap := Snapshot{List: prev, SelectedID: pickID(prev, k)}
			a, errA := Reconcile(snap, next)
			b, errB := Reconcile(snap, next)
			return a == b && errA == nil && errB == nil
		},
		genCodes(), genCodes(), gen.IntRange(0, poolSize-1),
	))

	properties.Property("unchanged snapshot keeps a member selection", prop.ForAll(
		func(codes []int, k int) bool {
			l := snapshotFrom(codes)
			sel := pickID(l, k)
			got, err := Reconcile(Snapshot{List: l, SelectedID: sel}, l)
			return err == nil && got == sel
		},
		genCodes(), gen.IntRange(0, poolSize-1),
	))

	properties.Property("first observation selects newest", prop.ForAll(
		func(codes []int) bool {
			l := snapshotFrom(codes)
			got, err := Reconcile(Snapshot{}, l)
			return err == nil && got == lastID(l)
		},
		genCodes(),
	))

	properties.Property("controller observe is idempotent", prop.ForAll(
		func(prevCodes, nextCodes []int) bool {
			c := NewController()
			if c.Observe(snapshotFrom(prevCodes)) != nil {
				return false
			}
			next := snapshotFrom(nextCodes)
			if c.Observe(next) != nil {
				return false
			}
			before := c.SelectedID()
			if c.Observe(next) != nil {
				return false
			}
			// A shrink may leave nothing selected, after which the repeat
			// observation picks the newest execution again.
			return before == "" || c.SelectedID() == before
		},
		genCodes(), genCodes(),
	))

	properties.Property("navigation stays inside the list", prop.ForAll(
		func(codes []int, moves []bool) bool {
			c := NewController()
			l := snapshotFrom(codes)
			if c.Observe(l) != nil {
				return false
			}
			for _, forward := range moves {
				if forward {
					c.SelectNext()
				} else {
					c.SelectPrevious()
				}
				if len(l) > 0 && c.Selected() == nil {
					return false
				}
			}
			return len(l) > 0 || c.SelectedID() == ""
		},
		genCodes(), gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
