package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"rankviewer/ranking"
)

var (
	ErrChartNotObject = errors.New("chart is not a JSON object")
	ErrChartStatus    = errors.New("chart request failed")
)

// ChartEntry is one key/rank pair of a chart page, in document order.
type ChartEntry struct {
	Key  string
	Rank ranking.Rank
}

var (
	chartKeyRe      = regexp.MustCompile(`^(\d{2})/(\d{2})\([^)]*\)\s*(\d{2}):\d{2}`)
	chartKeyPlainRe = regexp.MustCompile(`^(\d{2})/(\d{2})\s*(\d{2}):\d{2}`)
)

// ParseChartKey reads a key like "03/15(金) 17:00". The weekday in
// parentheses is optional; minutes are ignored.
func ParseChartKey(key string) (month, day, hour int, ok bool) {
	m := chartKeyRe.FindStringSubmatch(key)
	if m == nil {
		m = chartKeyPlainRe.FindStringSubmatch(key)
	}
	if m == nil {
		return 0, 0, 0, false
	}
	month, _ = strconv.Atoi(m[1])
	day, _ = strconv.Atoi(m[2])
	hour, _ = strconv.Atoi(m[3])
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 {
		return 0, 0, 0, false
	}
	return month, day, hour, true
}

// DecodeChart reads a chart page. The API returns an object, and its key
// order is the time order, so the keys are streamed rather than decoded
// into a map.
func DecodeChart(data []byte) ([]ChartEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode chart: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, ErrChartNotObject
	}

	var out []ChartEntry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode chart key: %w", err)
		}
		key, _ := tok.(string)

		var r ranking.Rank
		if err := dec.Decode(&r); err != nil {
			return nil, fmt.Errorf("decode chart value %q: %w", key, err)
		}
		out = append(out, ChartEntry{Key: key, Rank: r})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode chart: %w", err)
	}
	return out, nil
}

// InferYear picks the year of a month/day that the chart prints without
// one. With a previous entry, the candidate year closest to it wins, which
// carries a run of entries across New Year in either direction. Without
// one, December seen in January belongs to last year and January seen in
// December to next year.
func InferYear(month, day int, latest *time.Time, now time.Time) int {
	if latest != nil {
		y := latest.Year()
		best, bestDist := y, time.Duration(-1)
		for _, cand := range []int{y - 1, y, y + 1} {
			t := time.Date(cand, time.Month(month), day, latest.Hour(), 0, 0, 0, latest.Location())
			dist := t.Sub(*latest)
			if dist < 0 {
				dist = -dist
			}
			if bestDist < 0 || dist < bestDist {
				best, bestDist = cand, dist
			}
		}
		return best
	}

	switch {
	case month == 12 && now.Month() == time.January:
		return now.Year() - 1
	case month == 1 && now.Month() == time.December:
		return now.Year() + 1
	}
	return now.Year()
}

// ConvertChart turns chart entries into observations, dating each from the
// one before it. Entries with an unreadable key, an impossible date or a
// non-integer rank are skipped and counted.
func ConvertChart(entries []ChartEntry, now time.Time) (obs []ranking.Observation, skipped int) {
	var latest *time.Time
	for _, e := range entries {
		month, day, hour, ok := ParseChartKey(e.Key)
		if !ok || !e.Rank.Valid() {
			skipped++
			continue
		}
		year := InferYear(month, day, latest, now)
		t := time.Date(year, time.Month(month), day, hour, 0, 0, 0, now.Location())
		if t.Month() != time.Month(month) {
			skipped++
			continue
		}
		obs = append(obs, ranking.Observation{
			Date:    ranking.FormatDate(t),
			Weekday: ranking.WeekdayLabel(t),
			Hour:    hour,
			Rank:    e.Rank,
		})
		latest = &t
	}
	return obs, skipped
}

// ChartClient pages through a podcastranking chart endpoint.
type ChartClient struct {
	client  *http.Client
	limiter *rate.Limiter
	cookie  string
}

func NewChartClient(timeout, every time.Duration, cookie string) *ChartClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if every <= 0 {
		every = time.Second
	}
	return &ChartClient{
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(every), 1),
		cookie:  cookie,
	}
}

// FetchPages requests pages 1..maxPages of chartURL and concatenates their
// entries. Paging stops early at an empty page or at a failed request after
// the first page; a failure on the first page is an error.
func (c *ChartClient) FetchPages(ctx context.Context, chartURL string, maxPages int) ([]ChartEntry, error) {
	if maxPages <= 0 {
		maxPages = 1
	}
	u, err := url.Parse(chartURL)
	if err != nil {
		return nil, fmt.Errorf("parse chart url: %w", err)
	}

	var out []ChartEntry
	for page := 1; page <= maxPages; page++ {
		q := u.Query()
		q.Set("page", strconv.Itoa(page))
		u.RawQuery = q.Encode()

		entries, err := c.fetchPage(ctx, u.String())
		if err != nil {
			if page > 1 && errors.Is(err, ErrChartStatus) {
				break
			}
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		if len(entries) == 0 {
			break
		}
		out = append(out, entries...)
	}
	return out, nil
}

func (c *ChartClient) fetchPage(ctx context.Context, pageURL string) ([]ChartEntry, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch chart: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %s", ErrChartStatus, resp.Status)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read chart: %w", err)
	}
	return DecodeChart(b)
}
