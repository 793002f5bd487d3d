package models

import (
	"time"

	"github.com/dustin/go-humanize"
)

const createdLayout = "02 January 2006 15:04"

// FormatCreated renders a creation timestamp in local time for the
// execution info line.
func FormatCreated(t time.Time) string {
	return t.Local().Format(createdLayout)
}

func FormatAge(t time.Time) string {
	if time.Since(t) < time.Minute {
		return "just now"
	}
	return humanize.Time(t)
}

func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
