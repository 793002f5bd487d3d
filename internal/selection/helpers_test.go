package selection

import (
	"time"

	"github.com/mpataki/execwatch/internal/models"
)

var epoch = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func exec(id string, status models.ExecStatus) *models.Execution {
	return &models.Execution{ID: id, Status: status}
}

func done(id string) *models.Execution {
	return exec(id, models.ExecStatusCompleted)
}

func running(id string) *models.Execution {
	return exec(id, models.ExecStatusRunning)
}

func list(execs ...*models.Execution) []*models.Execution {
	for i, e := range execs {
		e.Number = i + 1
		e.CreatedAt = epoch.Add(time.Duration(i) * time.Minute)
	}
	return execs
}
