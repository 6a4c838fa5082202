package main

import (
	"errors"
	"reflect"
	"strconv"
	"testing"
	"time"

	"rankviewer/ranking"
)

func newTestController(now time.Time) *Controller {
	return NewController([]Source{
		{Name: "apple1", Title: "Apple"},
		{Name: "spotify", Title: "Spotify"},
	}, func() time.Time { return now })
}

func TestControllerPresetAndCriteriaExclusive(t *testing.T) {
	c := newTestController(time.Date(2024, 3, 15, 12, 0, 0, 0, tokyo))

	if err := c.SetCriteria("apple1", ranking.Criteria{Year: "2024"}); err != nil {
		t.Fatal(err)
	}
	if err := c.SetPreset("apple1", ranking.PresetWeek); err != nil {
		t.Fatal(err)
	}
	f, _ := c.Filter("apple1")
	if !f.Criteria.IsZero() || f.Preset != ranking.PresetWeek {
		t.Errorf("preset did not replace criteria: %+v", f)
	}

	if err := c.SetCriteria("apple1", ranking.Criteria{Month: "03"}); err != nil {
		t.Fatal(err)
	}
	f, _ = c.Filter("apple1")
	if f.Preset != "" || f.Criteria.Month != "03" {
		t.Errorf("criteria did not clear preset: %+v", f)
	}

	if err := c.ResetFilter("apple1"); err != nil {
		t.Fatal(err)
	}
	if f, _ := c.Filter("apple1"); f != (ActiveFilter{}) {
		t.Errorf("reset left %+v", f)
	}

	if err := c.SetPreset("apple1", "fortnight"); !errors.Is(err, ranking.ErrUnknownPreset) {
		t.Errorf("bad preset: err = %v", err)
	}
	if err := c.SetPreset("nope", ranking.PresetToday); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("unknown source: err = %v", err)
	}
}

func TestControllerView(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, tokyo)
	c := newTestController(now)
	loaded := now.Add(-time.Minute)

	data := []ranking.Observation{
		obs("2024/03/10", 8, 25),
		obs("2024/03/15", 9, 3),
		obs("2024/03/15", 10, 15),
		{Date: "2024/03/16", Weekday: "土", Hour: 7},
		obs("2023/12/31", 23, 8),
	}
	if err := c.Replace("apple1", data, loaded); err != nil {
		t.Fatal(err)
	}
	data[0].Hour = 99 // the controller keeps its own copy

	v, err := c.View("apple1")
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	if v.Total != 5 || v.Count != 5 {
		t.Errorf("total/count = %d/%d", v.Total, v.Count)
	}
	if v.Rows[0].Hour != 8 {
		t.Errorf("dataset aliased the caller's slice")
	}
	if v.LoadedAt == nil || !v.LoadedAt.Equal(loaded) {
		t.Errorf("LoadedAt = %v", v.LoadedAt)
	}
	if got := dateHours(v.Table); !reflect.DeepEqual(got, []string{"2024/03/16 7", "2024/03/15 10", "2024/03/15 9", "2024/03/10 8", "2023/12/31 23"}) {
		t.Errorf("table order = %v", got)
	}
	if !reflect.DeepEqual(v.Options.Years, []string{"2024", "2023"}) {
		t.Errorf("years = %v", v.Options.Years)
	}
	if v.Breakdown.Unknown != 1 || len(v.Breakdown.Buckets) != 3 {
		t.Errorf("breakdown = %+v", v.Breakdown)
	}
	if v.Breakdown.Buckets[0].Share != "50.0%" {
		t.Errorf("share = %q, want 50.0%%", v.Breakdown.Buckets[0].Share)
	}

	if err := c.SetPreset("apple1", ranking.PresetToday); err != nil {
		t.Fatal(err)
	}
	v, _ = c.View("apple1")
	if v.Count != 2 || v.Total != 5 {
		t.Errorf("today: count/total = %d/%d, want 2/5", v.Count, v.Total)
	}

	// Ad-hoc views leave the active filter alone.
	v, _ = c.ViewWith("apple1", ActiveFilter{Criteria: ranking.Criteria{Year: "2023"}})
	if v.Count != 1 {
		t.Errorf("ad-hoc count = %d, want 1", v.Count)
	}
	if f, _ := c.Filter("apple1"); f.Preset != ranking.PresetToday {
		t.Errorf("active filter changed to %+v", f)
	}
}

func TestControllerFailKeepsDataset(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, tokyo)
	c := newTestController(now)

	v, err := c.View("spotify")
	if err != nil {
		t.Fatal(err)
	}
	if v.LoadedAt != nil || v.Count != 0 || v.Rows == nil {
		t.Errorf("empty view = %+v", v)
	}

	c.Replace("spotify", []ranking.Observation{obs("2024/03/15", 9, 3)}, now)
	c.Fail("spotify", errors.New("HTTP 503"), now.Add(time.Minute))

	v, _ = c.View("spotify")
	if v.Count != 1 || v.LastError != "HTTP 503" {
		t.Errorf("after failure: count=%d last_error=%q", v.Count, v.LastError)
	}

	st := c.Statuses()
	if len(st) != 2 || st[1].Name != "spotify" || st[1].ErrorAt == nil || st[1].Count != 1 {
		t.Errorf("statuses = %+v", st)
	}

	c.Replace("spotify", nil, now.Add(2*time.Minute))
	if v, _ := c.View("spotify"); v.LastError != "" {
		t.Errorf("successful load kept error %q", v.LastError)
	}

	if _, err := c.View("amazon"); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("unknown source: err = %v", err)
	}
	if err := c.Replace("amazon", nil, now); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("unknown source replace: err = %v", err)
	}
}

func dateHours(obs []ranking.Observation) []string {
	out := make([]string, 0, len(obs))
	for _, o := range obs {
		out = append(out, o.Date+" "+strconv.Itoa(o.Hour))
	}
	return out
}
