package ranking

import (
	"strings"
)

// Criteria narrows a view. Empty fields impose no constraint; set fields are
// ANDed. StartDate and EndDate are inclusive YYYY/MM/DD keys.
type Criteria struct {
	Year      string `json:"year,omitempty"`
	Month     string `json:"month,omitempty"`
	StartDate string `json:"start,omitempty"`
	EndDate   string `json:"end,omitempty"`
	Weekday   string `json:"weekday,omitempty"`
}

func (c Criteria) IsZero() bool {
	return c == Criteria{}
}

// Normalize cleans user input: trims the year, month and date fields, pads
// a one-digit month and rewrites parseable start/end dates (e.g. 2024-3-5)
// into canonical keys. Unparseable dates are kept so that they match
// nothing. Weekday is compared exactly and left as given.
func (c Criteria) Normalize() Criteria {
	c.Year = strings.TrimSpace(c.Year)
	c.Month = strings.TrimSpace(c.Month)
	c.StartDate = strings.TrimSpace(c.StartDate)
	c.EndDate = strings.TrimSpace(c.EndDate)

	if len(c.Month) == 1 && c.Month[0] >= '1' && c.Month[0] <= '9' {
		c.Month = "0" + c.Month
	}
	if k, ok := DateKey(c.StartDate); ok {
		c.StartDate = k
	}
	if k, ok := DateKey(c.EndDate); ok {
		c.EndDate = k
	}
	return c
}

// ApplyFilters returns the observations matching every set field of c, in
// their original order. The input slice is never modified.
func ApplyFilters(obs []Observation, c Criteria) []Observation {
	m := newMatcher(c)
	out := make([]Observation, 0, len(obs))
	for _, o := range obs {
		if m.match(o) {
			out = append(out, o)
		}
	}
	return out
}

type matcher struct {
	c        Criteria
	needDate bool
	start    string
	end      string
	// none is set when a criterion date is malformed.
	none bool
}

func newMatcher(c Criteria) matcher {
	m := matcher{c: c}
	m.needDate = c.Year != "" || c.Month != "" || c.StartDate != "" || c.EndDate != ""
	if c.StartDate != "" {
		k, ok := DateKey(c.StartDate)
		if !ok {
			m.none = true
		}
		m.start = k
	}
	if c.EndDate != "" {
		k, ok := DateKey(c.EndDate)
		if !ok {
			m.none = true
		}
		m.end = k
	}
	return m
}

func (m matcher) match(o Observation) bool {
	if m.none {
		return false
	}
	if m.c.Weekday != "" && o.Weekday != m.c.Weekday {
		return false
	}
	if !m.needDate {
		return true
	}

	key, ok := DateKey(o.Date)
	if !ok {
		return false
	}
	if m.c.Year != "" && key[0:4] != m.c.Year {
		return false
	}
	if m.c.Month != "" && key[5:7] != m.c.Month {
		return false
	}
	if m.start != "" && key < m.start {
		return false
	}
	if m.end != "" && key > m.end {
		return false
	}
	return true
}
