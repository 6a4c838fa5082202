package ranking

import (
	"reflect"
	"testing"
)

func sample() []Observation {
	return []Observation{
		{Date: "2024/03/15", Weekday: "金", Hour: 9, Rank: RankOf(4)},
		{Date: "2024/03/16", Weekday: "土", Hour: 9, Rank: RankOf(12)},
		{Date: "2023/12/31", Weekday: "日", Hour: 23, Rank: RankOf(40)},
		{Date: "2024/04/01", Weekday: "月", Hour: 0, Rank: Rank{}},
		{Date: "not a date", Weekday: "金", Hour: 5, Rank: RankOf(1)},
		{Date: "2024/03/14", Weekday: "木", Hour: 18, Rank: RankOf(7)},
	}
}

func dates(obs []Observation) []string {
	out := make([]string, 0, len(obs))
	for _, o := range obs {
		out = append(out, o.Date)
	}
	return out
}

func TestApplyFiltersEmptyCriteria(t *testing.T) {
	obs := sample()
	got := ApplyFilters(obs, Criteria{})
	if !reflect.DeepEqual(got, obs) {
		t.Fatalf("empty criteria changed the view: %v", dates(got))
	}
	if got := ApplyFilters(nil, Criteria{Year: "2024"}); len(got) != 0 {
		t.Errorf("nil input: got %v", got)
	}
}

func TestApplyFilters(t *testing.T) {
	tests := []struct {
		name string
		c    Criteria
		want []string
	}{
		{"year", Criteria{Year: "2024"}, []string{"2024/03/15", "2024/03/16", "2024/04/01", "2024/03/14"}},
		{"month", Criteria{Month: "03"}, []string{"2024/03/15", "2024/03/16", "2024/03/14"}},
		{"year and month", Criteria{Year: "2023", Month: "12"}, []string{"2023/12/31"}},
		{"start", Criteria{StartDate: "2024/03/15"}, []string{"2024/03/15", "2024/03/16", "2024/04/01"}},
		{"end", Criteria{EndDate: "2024/03/15"}, []string{"2024/03/15", "2023/12/31", "2024/03/14"}},
		{"range", Criteria{StartDate: "2024/03/14", EndDate: "2024/03/15"}, []string{"2024/03/15", "2024/03/14"}},
		{"weekday", Criteria{Weekday: "金"}, []string{"2024/03/15", "not a date"}},
		{"weekday and year", Criteria{Weekday: "金", Year: "2024"}, []string{"2024/03/15"}},
		{"no match", Criteria{Year: "2019"}, []string{}},
		{"short year", Criteria{Year: "20"}, []string{}},
		{"malformed start", Criteria{StartDate: "yesterday"}, []string{}},
		{"inverted range", Criteria{StartDate: "2024/03/16", EndDate: "2024/03/14"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dates(ApplyFilters(sample(), tt.c))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ApplyFilters(%+v) = %v, want %v", tt.c, got, tt.want)
			}
		})
	}
}

func TestApplyFiltersComposes(t *testing.T) {
	obs := sample()

	stepwise := ApplyFilters(ApplyFilters(obs, Criteria{Year: "2024"}), Criteria{Month: "03"})
	combined := ApplyFilters(obs, Criteria{Year: "2024", Month: "03"})
	if !reflect.DeepEqual(stepwise, combined) {
		t.Errorf("year then month = %v, combined = %v", dates(stepwise), dates(combined))
	}

	stepwise = ApplyFilters(ApplyFilters(obs, Criteria{Weekday: "金"}), Criteria{StartDate: "2024/01/01", EndDate: "2024/12/31"})
	combined = ApplyFilters(obs, Criteria{Weekday: "金", StartDate: "2024/01/01", EndDate: "2024/12/31"})
	if !reflect.DeepEqual(stepwise, combined) {
		t.Errorf("weekday then range = %v, combined = %v", dates(stepwise), dates(combined))
	}
}

func TestApplyFiltersDoesNotMutate(t *testing.T) {
	obs := sample()
	before := append([]Observation(nil), obs...)
	_ = ApplyFilters(obs, Criteria{Month: "03"})
	if !reflect.DeepEqual(obs, before) {
		t.Error("input was modified")
	}
}

func TestApplyFiltersUnpaddedObservationDates(t *testing.T) {
	obs := []Observation{
		{Date: "2024/3/5"},
		{Date: "2024-03-20"},
		{Date: "2024/11/02"},
	}
	got := dates(ApplyFilters(obs, Criteria{StartDate: "2024/03/01", EndDate: "2024/03/31"}))
	want := []string{"2024/3/5", "2024-03-20"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCriteriaNormalize(t *testing.T) {
	c := Criteria{Year: " 2024 ", Month: "3", StartDate: "2024-03-05", EndDate: "garbage", Weekday: " 金"}.Normalize()
	want := Criteria{Year: "2024", Month: "03", StartDate: "2024/03/05", EndDate: "garbage", Weekday: " 金"}
	if c != want {
		t.Errorf("Normalize = %+v, want %+v", c, want)
	}
	if got := ApplyFilters(sample(), Criteria{Weekday: " 金"}.Normalize()); len(got) != 0 {
		t.Errorf("padded weekday matched %v", dates(got))
	}
	if !(Criteria{}).IsZero() || c.IsZero() {
		t.Error("IsZero mismatch")
	}
}

func TestDateKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2024/03/15", "2024/03/15", true},
		{"2024/3/5", "2024/03/05", true},
		{"2024-03-15", "2024/03/15", true},
		{" 2024/03/15 ", "2024/03/15", true},
		{"2024/02/30", "", false},
		{"24/03/15", "", false},
		{"", "", false},
		{"2024/03/15 10:00", "", false},
	}
	for _, tt := range tests {
		got, ok := DateKey(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("DateKey(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
