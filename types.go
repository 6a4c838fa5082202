package main

import (
	"time"

	"rankviewer/ranking"
)

// ObservationRecord is a newly seen observation as written to the archive
// and to ClickHouse.
type ObservationRecord struct {
	Source      string `json:"source"`
	Date        string `json:"date"`
	Weekday     string `json:"weekday"`
	Hour        int    `json:"hour"`
	Rank        *int   `json:"rank"`
	FetchedAtMs int64  `json:"fetched_at_ms"`
}

func newObservationRecord(source string, o ranking.Observation, fetchedAt time.Time) ObservationRecord {
	rec := ObservationRecord{
		Source:      source,
		Date:        o.Date,
		Weekday:     o.Weekday,
		Hour:        o.Hour,
		FetchedAtMs: fetchedAt.UnixMilli(),
	}
	if o.Rank.Valid() {
		v := o.Rank.Value
		rec.Rank = &v
	}
	return rec
}

// Dataset is the observation set of one source as of one successful load.
// It is never modified after construction.
type Dataset struct {
	Source       string
	Observations []ranking.Observation
	LoadedAt     time.Time
}

// ActiveFilter is either field criteria or a quick preset, never both.
type ActiveFilter struct {
	Criteria ranking.Criteria `json:"criteria"`
	Preset   ranking.Preset   `json:"range,omitempty"`
}

// View is everything a dashboard needs to render one source.
type View struct {
	Source    string                `json:"source"`
	Title     string                `json:"title"`
	LoadedAt  *time.Time            `json:"loaded_at"`
	LastError string                `json:"last_error,omitempty"`
	Filter    ActiveFilter          `json:"filter"`
	Total     int                   `json:"total"`
	Count     int                   `json:"count"`
	Rows      []ranking.Observation `json:"rows"`
	Table     []ranking.Observation `json:"table"`
	Series    []ranking.Point       `json:"series"`
	Breakdown BreakdownView         `json:"breakdown"`
	Options   ranking.Options       `json:"options"`
}

// BreakdownView adds the display-only unknown slice and legend shares to the
// bucket sequence.
type BreakdownView struct {
	Buckets      []BucketShare `json:"buckets"`
	Unknown      int           `json:"unknown"`
	UnknownLabel string        `json:"unknown_label"`
	Total        int           `json:"total"`
}

type BucketShare struct {
	ranking.Bucket
	Share string `json:"share"`
}

func newBreakdownView(d ranking.Distribution) BreakdownView {
	out := BreakdownView{
		Buckets:      make([]BucketShare, 0, len(d.Buckets)),
		Unknown:      d.Unknown,
		UnknownLabel: ranking.UnknownLabel,
		Total:        d.Total,
	}
	for _, b := range d.Buckets {
		out.Buckets = append(out.Buckets, BucketShare{Bucket: b, Share: d.Share(b.Count)})
	}
	return out
}
