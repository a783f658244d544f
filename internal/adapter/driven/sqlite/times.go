package sqlite

import (
	"fmt"
	"time"
)

// scanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

// timeFormat is the canonical timestamp representation in TEXT columns.
const timeFormat = time.RFC3339Nano

// dateFormat is the canonical calendar-day representation in TEXT columns.
const dateFormat = "2006-01-02"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// parseTime accepts the formats that appear in TEXT timestamp columns,
// including SQLite's own strftime output used by column defaults.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
