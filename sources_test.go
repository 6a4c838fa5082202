package main

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadSources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	writeFile(t, path, `
sources:
  - name: apple1
    title: ApplePodcast 「ビジネス」カテゴリー
    chart: https://podcastranking.jp/1734101813/chart.json?category=1321
  - name: remote
    feed: https://example.com/remote.json
    fields:
      rank: position
  - name: apple1
    title: duplicate
  - name: "  "
`)

	got, err := LoadSources(path, "/data")
	if err != nil {
		t.Fatalf("LoadSources failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d sources, want 2", len(got))
	}

	a := got[0]
	if a.Title != "ApplePodcast 「ビジネス」カテゴリー" {
		t.Errorf("title = %q", a.Title)
	}
	if want := filepath.Join("/data", "apple1", "apple1.json"); a.Feed != want {
		t.Errorf("default feed = %q, want %q", a.Feed, want)
	}
	if a.Fields.Date != "日付" || a.Fields.Rank != "ランキング" {
		t.Errorf("default fields = %+v", a.Fields)
	}

	r := got[1]
	if r.Title != "remote" {
		t.Errorf("title should default to name, got %q", r.Title)
	}
	if r.Feed != "https://example.com/remote.json" {
		t.Errorf("feed = %q", r.Feed)
	}
	if r.Fields.Rank != "position" || r.Fields.Hour != "時刻" {
		t.Errorf("fields = %+v", r.Fields)
	}
}

func TestLoadSourcesErrors(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, "sources:\n  - name: ../etc\n")
	if _, err := LoadSources(bad, dir); err == nil || !strings.Contains(err.Error(), "name must match") {
		t.Errorf("unsafe name: err = %v", err)
	}

	empty := filepath.Join(dir, "empty.yaml")
	writeFile(t, empty, "sources: []\n")
	if _, err := LoadSources(empty, dir); err == nil {
		t.Error("empty sources file accepted")
	}

	if _, err := LoadSources(filepath.Join(dir, "missing.yaml"), dir); err == nil {
		t.Error("missing file accepted")
	}
}
