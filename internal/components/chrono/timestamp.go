package chrono

import (
	"fmt"
	"time"
)

// naive ISO-8601 layouts without an offset, as produced by python's datetime.isoformat()
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses an RFC 3339 timestamp. Timestamps without an offset are
// accepted and interpreted in loc.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err == nil {
		return parsed, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range naiveLayouts {
		parsed, nerr := time.ParseInLocation(layout, value, loc)
		if nerr == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
}

// FormatTimestamp is the inverse of ParseTimestamp.
func FormatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}
