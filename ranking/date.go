package ranking

import (
	"strings"
	"time"
)

// DateLayout is the canonical observation date form. Zero padding makes
// lexical order equal chronological order.
const DateLayout = "2006/01/02"

var dateLayouts = []string{
	"2006/1/2",
	"2006-1-2",
}

var weekdayLabels = [7]string{"日", "月", "火", "水", "木", "金", "土"}

// DateKey parses a date written as YYYY/MM/DD (or with dashes, or without
// zero padding) and returns its canonical key. ok is false for anything
// that is not a calendar date.
func DateKey(s string) (key string, ok bool) {
	t, ok := ParseDate(s)
	if !ok {
		return "", false
	}
	return t.Format(DateLayout), true
}

// ParseDate returns midnight UTC of the given calendar date.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatDate renders the calendar date of t (in t's location) as a key.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// WeekdayLabel returns the Japanese single-character weekday of t.
func WeekdayLabel(t time.Time) string {
	return weekdayLabels[t.Weekday()]
}
