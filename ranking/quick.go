package ranking

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Preset is a quick date-window shorthand.
type Preset string

const (
	PresetToday Preset = "today"
	PresetWeek  Preset = "week"
	PresetMonth Preset = "month"
	PresetYear  Preset = "year"
)

var ErrUnknownPreset = errors.New("unknown quick range")

func ParsePreset(s string) (Preset, error) {
	p := Preset(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PresetToday, PresetWeek, PresetMonth, PresetYear:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPreset, s)
}

// Window returns the first and last calendar day of the preset around now,
// in now's location. Weeks run Sunday to Saturday.
func Window(p Preset, now time.Time) (start, end time.Time, err error) {
	y, m, d := now.Date()
	loc := now.Location()
	today := time.Date(y, m, d, 0, 0, 0, 0, loc)

	switch p {
	case PresetToday:
		return today, today, nil
	case PresetWeek:
		start = today.AddDate(0, 0, -int(today.Weekday()))
		return start, start.AddDate(0, 0, 6), nil
	case PresetMonth:
		start = time.Date(y, m, 1, 0, 0, 0, 0, loc)
		return start, time.Date(y, m+1, 0, 0, 0, 0, 0, loc), nil
	case PresetYear:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc), time.Date(y, time.December, 31, 0, 0, 0, 0, loc), nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrUnknownPreset, string(p))
}

// PresetCriteria expresses the preset window as a date-range Criteria, so
// quick ranges and field filters share one comparison.
func PresetCriteria(p Preset, now time.Time) (Criteria, error) {
	start, end, err := Window(p, now)
	if err != nil {
		return Criteria{}, err
	}
	return Criteria{StartDate: FormatDate(start), EndDate: FormatDate(end)}, nil
}

// QuickFilter keeps observations dated inside the preset window.
func QuickFilter(obs []Observation, p Preset, now time.Time) ([]Observation, error) {
	c, err := PresetCriteria(p, now)
	if err != nil {
		return nil, err
	}
	return ApplyFilters(obs, c), nil
}
