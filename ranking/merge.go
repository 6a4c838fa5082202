package ranking

import "sort"

type slotKey struct {
	date string
	hour int
}

// Merge combines two observation sets keyed by (date, hour). When both
// carry the same slot the entry from base wins. Parseable dates are
// rewritten to canonical keys and the result is ordered by date then hour;
// entries whose date cannot be parsed are kept after the dated ones, in
// input order. added counts the incoming entries that made it in.
func Merge(base, incoming []Observation) (merged []Observation, added int) {
	seen := make(map[slotKey]struct{}, len(base)+len(incoming))
	dated := make([]Observation, 0, len(base)+len(incoming))
	var undated []Observation

	add := func(o Observation) bool {
		key, ok := DateKey(o.Date)
		if !ok {
			key = o.Date
		}
		k := slotKey{date: key, hour: o.Hour}
		if _, dup := seen[k]; dup {
			return false
		}
		seen[k] = struct{}{}
		if !ok {
			undated = append(undated, o)
			return true
		}
		o.Date = key
		dated = append(dated, o)
		return true
	}
	for _, o := range base {
		add(o)
	}
	for _, o := range incoming {
		if add(o) {
			added++
		}
	}

	sort.SliceStable(dated, func(i, j int) bool {
		if dated[i].Date != dated[j].Date {
			return dated[i].Date < dated[j].Date
		}
		return dated[i].Hour < dated[j].Hour
	})
	return append(dated, undated...), added
}

// PruneBefore drops observations dated before cutoff, and those on cutoff
// at or before hour. Observations whose date cannot be parsed are kept.
// ok is false when cutoff itself is malformed.
func PruneBefore(obs []Observation, cutoff string, hour int) (kept []Observation, removed int, ok bool) {
	ck, ok := DateKey(cutoff)
	if !ok {
		return nil, 0, false
	}
	kept = make([]Observation, 0, len(obs))
	for _, o := range obs {
		key, dated := DateKey(o.Date)
		if dated && (key < ck || (key == ck && o.Hour <= hour)) {
			removed++
			continue
		}
		kept = append(kept, o)
	}
	return kept, removed, true
}
