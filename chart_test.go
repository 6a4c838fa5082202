package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"rankviewer/ranking"
)

func TestParseChartKey(t *testing.T) {
	tests := []struct {
		key              string
		month, day, hour int
		ok               bool
	}{
		{"03/15(金) 17:00", 3, 15, 17, true},
		{"12/31(火)23:00", 12, 31, 23, true},
		{"01/02 07:30", 1, 2, 7, true},
		{"3/15(金) 17:00", 0, 0, 0, false},
		{"13/01(月) 10:00", 0, 0, 0, false},
		{"03/15(金) 24:00", 0, 0, 0, false},
		{"yesterday", 0, 0, 0, false},
	}
	for _, tt := range tests {
		m, d, h, ok := ParseChartKey(tt.key)
		if ok != tt.ok || m != tt.month || d != tt.day || h != tt.hour {
			t.Errorf("ParseChartKey(%q) = %d,%d,%d,%v want %d,%d,%d,%v", tt.key, m, d, h, ok, tt.month, tt.day, tt.hour, tt.ok)
		}
	}
}

func TestDecodeChartKeepsOrder(t *testing.T) {
	data := []byte(`{"03/16(土) 01:00": 9, "03/15(金) 23:00": "8", "03/15(金) 22:00": null, "03/15(金) 21:00": {"x": 1}}`)
	got, err := DecodeChart(data)
	if err != nil {
		t.Fatalf("DecodeChart failed: %v", err)
	}
	keys := make([]string, 0, len(got))
	for _, e := range got {
		keys = append(keys, e.Key)
	}
	want := []string{"03/16(土) 01:00", "03/15(金) 23:00", "03/15(金) 22:00", "03/15(金) 21:00"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("keys = %v, want %v", keys, want)
	}
	if got[1].Rank != ranking.RankOf(8) || got[2].Rank.Valid() || got[3].Rank.Valid() {
		t.Errorf("ranks = %+v", got)
	}

	if _, err := DecodeChart([]byte(`[1,2]`)); err != ErrChartNotObject {
		t.Errorf("array: err = %v", err)
	}
	if _, err := DecodeChart([]byte(`{"a": 1`)); err == nil {
		t.Error("truncated object accepted")
	}
}

func TestInferYear(t *testing.T) {
	at := func(y int, m time.Month, d, h int) *time.Time {
		t := time.Date(y, m, d, h, 0, 0, 0, tokyo)
		return &t
	}
	jan := time.Date(2025, 1, 3, 0, 0, 0, 0, tokyo)
	dec := time.Date(2024, 12, 30, 0, 0, 0, 0, tokyo)
	jun := time.Date(2024, 6, 1, 0, 0, 0, 0, tokyo)

	tests := []struct {
		name       string
		month, day int
		latest     *time.Time
		now        time.Time
		want       int
	}{
		{"no history december seen in january", 12, 31, nil, jan, 2024},
		{"no history january seen in december", 1, 1, nil, dec, 2025},
		{"no history same year", 5, 20, nil, jun, 2024},
		{"follows previous entry", 3, 15, at(2023, 3, 16, 1), jun, 2023},
		{"ascending across new year", 1, 1, at(2024, 12, 31, 23), jan, 2025},
		{"descending across new year", 12, 31, at(2025, 1, 1, 0), jan, 2024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferYear(tt.month, tt.day, tt.latest, tt.now); got != tt.want {
				t.Errorf("InferYear = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestConvertChart(t *testing.T) {
	entries := []ChartEntry{
		{Key: "01/01(水) 01:00", Rank: ranking.RankOf(5)},
		{Key: "01/01(水) 00:00", Rank: ranking.RankOf(6)},
		{Key: "12/31(火) 23:00", Rank: ranking.RankOf(7)},
		{Key: "garbage", Rank: ranking.RankOf(1)},
		{Key: "12/31(火) 22:00", Rank: ranking.Rank{}},
		{Key: "02/30 10:00", Rank: ranking.RankOf(2)},
	}
	now := time.Date(2025, 1, 1, 2, 0, 0, 0, tokyo)

	got, skipped := ConvertChart(entries, now)
	if skipped != 3 {
		t.Errorf("skipped = %d, want 3", skipped)
	}
	want := []ranking.Observation{
		{Date: "2025/01/01", Weekday: "水", Hour: 1, Rank: ranking.RankOf(5)},
		{Date: "2025/01/01", Weekday: "水", Hour: 0, Rank: ranking.RankOf(6)},
		{Date: "2024/12/31", Weekday: "火", Hour: 23, Rank: ranking.RankOf(7)},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ConvertChart =\n%+v\nwant\n%+v", got, want)
	}
}

func TestChartClientFetchPages(t *testing.T) {
	var (
		mu      sync.Mutex
		pages   []string
		cookies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		pages = append(pages, r.URL.Query().Get("page"))
		cookies = append(cookies, r.Header.Get("Cookie"))
		mu.Unlock()

		if r.URL.Query().Get("category") != "1321" {
			http.Error(w, "bad category", http.StatusBadRequest)
			return
		}
		switch r.URL.Query().Get("page") {
		case "1":
			w.Write([]byte(`{"03/15(金) 10:00": 3, "03/15(金) 09:00": 4}`))
		case "2":
			w.Write([]byte(`{"03/14(木) 23:00": 5}`))
		default:
			w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	c := NewChartClient(5*time.Second, time.Millisecond, "session=abc")
	c.limiter = rate.NewLimiter(rate.Inf, 1)

	got, err := c.FetchPages(context.Background(), srv.URL+"/chart.json?page=1&category=1321", 5)
	if err != nil {
		t.Fatalf("FetchPages failed: %v", err)
	}
	if len(got) != 3 || got[2].Key != "03/14(木) 23:00" {
		t.Errorf("entries = %+v", got)
	}
	if !reflect.DeepEqual(pages, []string{"1", "2", "3"}) {
		t.Errorf("pages requested = %v", pages)
	}
	if cookies[0] != "session=abc" {
		t.Errorf("cookie = %q", cookies[0])
	}

	if _, err := c.FetchPages(context.Background(), srv.URL+"/chart.json?category=26", 2); err == nil || !strings.Contains(err.Error(), "page 1") {
		t.Errorf("first page failure: err = %v", err)
	}
}
