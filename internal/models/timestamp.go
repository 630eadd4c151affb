package models

import (
	"fmt"
	"strings"
	"time"
)

var slotLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseSlotTime parses an ISO-8601 slot timestamp. Timestamps without a zone
// offset are interpreted in loc (UTC when loc is nil).
func ParseSlotTime(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}

	s = strings.TrimSpace(s)
	for _, layout := range slotLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid slot timestamp %q", s)
}

// FormatSlotTime is the canonical wire form of a slot.
func FormatSlotTime(t time.Time) string {
	return t.Format(time.RFC3339)
}
