package ranking

import (
	"fmt"
	"sort"
)

// Options lists the distinct years and months present in a dataset, for
// populating filter selects.
type Options struct {
	Years  []string `json:"years"`
	Months []string `json:"months"`
}

// DateOptions returns years newest first and months ascending. Observations
// with malformed dates are ignored.
func DateOptions(obs []Observation) Options {
	years := make(map[string]struct{})
	months := make(map[string]struct{})
	for _, o := range obs {
		key, ok := DateKey(o.Date)
		if !ok {
			continue
		}
		years[key[0:4]] = struct{}{}
		months[key[5:7]] = struct{}{}
	}

	opt := Options{
		Years:  make([]string, 0, len(years)),
		Months: make([]string, 0, len(months)),
	}
	for y := range years {
		opt.Years = append(opt.Years, y)
	}
	for m := range months {
		opt.Months = append(opt.Months, m)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(opt.Years)))
	sort.Strings(opt.Months)
	return opt
}

// NewestFirst returns a copy ordered by date then hour, most recent first.
// Malformed dates sort last; ties keep input order.
func NewestFirst(obs []Observation) []Observation {
	type keyed struct {
		key string
		ok  bool
		o   Observation
	}
	ks := make([]keyed, len(obs))
	for i, o := range obs {
		k, ok := DateKey(o.Date)
		ks[i] = keyed{key: k, ok: ok, o: o}
	}
	sort.SliceStable(ks, func(i, j int) bool {
		a, b := ks[i], ks[j]
		if a.ok != b.ok {
			return a.ok
		}
		if a.key != b.key {
			return a.key > b.key
		}
		return a.o.Hour > b.o.Hour
	})

	out := make([]Observation, len(ks))
	for i := range ks {
		out[i] = ks[i].o
	}
	return out
}

// Point is one line-chart sample. Rank is nil for unknown ranks so the
// chart can leave a gap.
type Point struct {
	Label string `json:"label"`
	Rank  *int   `json:"rank"`
}

// Series projects observations into chart points in input order, labelled
// like "2024/03/15(金)17:00".
func Series(obs []Observation) []Point {
	out := make([]Point, 0, len(obs))
	for _, o := range obs {
		p := Point{Label: pointLabel(o)}
		if o.Rank.Valid() {
			v := o.Rank.Value
			p.Rank = &v
		}
		out = append(out, p)
	}
	return out
}

func pointLabel(o Observation) string {
	hour := "--"
	if o.Hour >= 0 {
		hour = fmt.Sprintf("%02d", o.Hour)
	}
	if t, ok := ParseDate(o.Date); ok {
		return fmt.Sprintf("%s(%s)%s:00", FormatDate(t), WeekdayLabel(t), hour)
	}
	return fmt.Sprintf("%s %s:00", o.Date, hour)
}
