package models

import "time"

type Replica struct {
	ID          string
	Name        string
	Description string
	SpecPath    string
	CreatedAt   time.Time
}
