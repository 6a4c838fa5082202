package ranking

import (
	"reflect"
	"testing"
)

func ranked(ranks ...int) []Observation {
	out := make([]Observation, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, Observation{Date: "2024/03/15", Weekday: "金", Hour: 12, Rank: RankOf(r)})
	}
	return out
}

func TestComputeBucketsExample(t *testing.T) {
	got := ComputeBuckets(ranked(3, 15, 27, 8))
	want := []Bucket{
		{Label: "1-10位", Start: 1, End: 10, Count: 2},
		{Label: "11-20位", Start: 11, End: 20, Count: 1},
		{Label: "21-27位", Start: 21, End: 27, Count: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ComputeBuckets = %+v, want %+v", got, want)
	}
}

func TestComputeBucketsEmpty(t *testing.T) {
	if got := ComputeBuckets(nil); got == nil || len(got) != 0 {
		t.Errorf("nil input: got %#v, want empty slice", got)
	}

	invalid := []Observation{
		{Date: "2024/03/15", Rank: Rank{}},
		{Date: "2024/03/15", Rank: RankOf(0)},
		{Date: "2024/03/15", Rank: RankOf(-4)},
	}
	if got := ComputeBuckets(invalid); len(got) != 0 {
		t.Errorf("all-invalid input: got %+v, want empty", got)
	}
}

func TestComputeBucketsOmitsEmptyRanges(t *testing.T) {
	got := ComputeBuckets(ranked(2, 45))
	if len(got) != 2 {
		t.Fatalf("expected 2 buckets, got %+v", got)
	}
	if got[0].Label != "1-10位" || got[1].Label != "41-45位" {
		t.Errorf("unexpected labels: %q, %q", got[0].Label, got[1].Label)
	}
}

func TestComputeBucketsBoundaries(t *testing.T) {
	got := ComputeBuckets(ranked(10, 11, 20, 21, 30))
	want := []Bucket{
		{Label: "1-10位", Start: 1, End: 10, Count: 1},
		{Label: "11-20位", Start: 11, End: 20, Count: 2},
		{Label: "21-30位", Start: 21, End: 30, Count: 2},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ComputeBuckets = %+v, want %+v", got, want)
	}
}

func TestComputeBucketsInvariants(t *testing.T) {
	inputs := [][]int{
		{1},
		{100},
		{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
		{57, 3, 99, 12, 12, 12, 64, 101},
		{200, 1, 150, 75, 33, 34, 35},
	}
	for _, ranks := range inputs {
		obs := ranked(ranks...)
		obs = append(obs, Observation{Date: "2024/03/15"}) // unknown rank

		buckets := ComputeBuckets(obs)
		maxRank := 0
		for _, r := range ranks {
			maxRank = max(maxRank, r)
		}

		sum := 0
		prevEnd := 0
		for i, b := range buckets {
			sum += b.Count
			if b.Count == 0 {
				t.Errorf("%v: zero-count bucket %+v emitted", ranks, b)
			}
			if (b.Start-1)%BucketWidth != 0 {
				t.Errorf("%v: bucket %+v not aligned", ranks, b)
			}
			if b.Start <= prevEnd {
				t.Errorf("%v: bucket %d not ascending", ranks, i)
			}
			if b.End-b.Start+1 != BucketWidth && b.End != maxRank {
				t.Errorf("%v: narrow bucket %+v is not the last range", ranks, b)
			}
			if b.End > maxRank {
				t.Errorf("%v: bucket %+v exceeds max rank %d", ranks, b, maxRank)
			}
			prevEnd = b.End
		}
		if sum != len(ranks) {
			t.Errorf("%v: bucket counts sum to %d, want %d", ranks, sum, len(ranks))
		}
	}
}

func TestComputeBucketsIdempotent(t *testing.T) {
	obs := ranked(5, 18, 18, 33)
	before := append([]Observation(nil), obs...)

	a := ComputeBuckets(obs)
	b := ComputeBuckets(obs)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("repeated calls differ: %+v vs %+v", a, b)
	}
	if !reflect.DeepEqual(obs, before) {
		t.Error("input was modified")
	}
}

func TestBucketsFromCounts(t *testing.T) {
	got := BucketsFromCounts(27, map[int]int{2: 1, 0: 2, 1: 1, 5: 9, 3: 0})
	want := ComputeBuckets(ranked(3, 15, 27, 8))
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("BucketsFromCounts = %+v, want %+v", got, want)
	}
	if got := BucketsFromCounts(0, map[int]int{0: 3}); len(got) != 0 {
		t.Errorf("maxRank 0: got %+v, want empty", got)
	}
}

func TestBreakdown(t *testing.T) {
	obs := ranked(3, 15, 27, 8)
	obs = append(obs, Observation{Date: "2024/03/16"}, Observation{Date: "2024/03/17", Rank: RankOf(0)})

	d := Breakdown(obs)
	if d.Total != 6 {
		t.Errorf("Total = %d, want 6", d.Total)
	}
	if d.Unknown != 2 {
		t.Errorf("Unknown = %d, want 2", d.Unknown)
	}
	if d.Ranked() != 4 {
		t.Errorf("Ranked = %d, want 4", d.Ranked())
	}
	if got := d.Share(d.Buckets[0].Count); got != "50.0%" {
		t.Errorf("Share = %q, want 50.0%%", got)
	}
	if got := (Distribution{}).Share(3); got != "0.0%" {
		t.Errorf("empty Share = %q, want 0.0%%", got)
	}
}
