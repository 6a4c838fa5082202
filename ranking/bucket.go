package ranking

import (
	"fmt"
	"sort"
)

const (
	BucketWidth = 10

	// UnknownLabel names the display-only slice of observations without a
	// usable rank.
	UnknownLabel = "不明"
)

type Bucket struct {
	Label string `json:"label"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Count int    `json:"count"`
}

func BucketLabel(start, end int) string {
	return fmt.Sprintf("%d-%d位", start, end)
}

// ComputeBuckets partitions [1, maxRank] into width-10 ranges and counts the
// observations with a valid rank in each. Ranges with no observations are
// omitted; the result is ascending by start and empty when nothing is ranked.
func ComputeBuckets(obs []Observation) []Bucket {
	maxRank := 0
	for _, o := range obs {
		if o.Rank.Valid() && o.Rank.Value > maxRank {
			maxRank = o.Rank.Value
		}
	}
	if maxRank == 0 {
		return []Bucket{}
	}

	counts := make([]int, (maxRank-1)/BucketWidth+1)
	for _, o := range obs {
		if o.Rank.Valid() {
			counts[(o.Rank.Value-1)/BucketWidth]++
		}
	}

	out := make([]Bucket, 0, len(counts))
	for i, n := range counts {
		if n == 0 {
			continue
		}
		out = append(out, newBucket(i, maxRank, n))
	}
	return out
}

// BucketsFromCounts builds the bucket sequence from counts keyed by bucket
// index ((rank-1)/10), for counts aggregated outside this package.
func BucketsFromCounts(maxRank int, counts map[int]int) []Bucket {
	out := make([]Bucket, 0, len(counts))
	if maxRank < 1 {
		return out
	}
	last := (maxRank - 1) / BucketWidth
	for i, n := range counts {
		if n <= 0 || i < 0 || i > last {
			continue
		}
		out = append(out, newBucket(i, maxRank, n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func newBucket(idx, maxRank, count int) Bucket {
	start := idx*BucketWidth + 1
	end := min(start+BucketWidth-1, maxRank)
	return Bucket{
		Label: BucketLabel(start, end),
		Start: start,
		End:   end,
		Count: count,
	}
}

// Distribution is the pie-chart breakdown of a view.
type Distribution struct {
	Buckets []Bucket `json:"buckets"`
	Unknown int      `json:"unknown"`
	Total   int      `json:"total"`
}

func Breakdown(obs []Observation) Distribution {
	d := Distribution{
		Buckets: ComputeBuckets(obs),
		Total:   len(obs),
	}
	for _, o := range obs {
		if !o.Rank.Valid() {
			d.Unknown++
		}
	}
	return d
}

// Ranked is the number of observations that landed in a bucket.
func (d Distribution) Ranked() int {
	n := 0
	for _, b := range d.Buckets {
		n += b.Count
	}
	return n
}

// Share formats count as a percentage of the ranked observations, e.g. "12.5%".
func (d Distribution) Share(count int) string {
	total := d.Ranked()
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(count)*100/float64(total))
}
