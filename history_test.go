package main

import (
	"os"
	"path/filepath"
	"testing"

	"rankviewer/ranking"
)

func TestOpenHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.db")
	h, err := OpenHistory(path)
	if err != nil {
		t.Fatalf("OpenHistory failed: %v", err)
	}
	defer h.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestHistorySaveReturnsOnlyNew(t *testing.T) {
	h := newTestHistory(t)

	first := []ranking.Observation{
		obs("2024/03/15", 9, 4),
		obs("2024-3-15", 10, 5),
		{Date: "bogus", Hour: 1, Rank: ranking.RankOf(1)},
	}
	fresh, err := h.Save("apple1", first)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if len(fresh) != 2 {
		t.Fatalf("first save: %d new, want 2", len(fresh))
	}
	if fresh[1].Date != "2024/03/15" {
		t.Errorf("date not canonicalised: %q", fresh[1].Date)
	}

	second := []ranking.Observation{
		obs("2024/03/15", 9, 40),
		obs("2024/03/15", 11, 6),
		{Date: "2024/03/15", Weekday: "金", Hour: 12},
	}
	fresh, err = h.Save("apple1", second)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if len(fresh) != 2 || fresh[0].Hour != 11 || fresh[1].Hour != 12 {
		t.Fatalf("second save fresh = %+v", fresh)
	}

	// Same slot under another source is independent.
	if fresh, _ := h.Save("apple2", first[:1]); len(fresh) != 1 {
		t.Errorf("other source: %d new, want 1", len(fresh))
	}

	got, err := h.Observations("apple1")
	if err != nil {
		t.Fatalf("Observations failed: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("stored %d, want 4", len(got))
	}
	for i, wantHour := range []int{9, 10, 11, 12} {
		if got[i].Hour != wantHour {
			t.Errorf("row %d hour = %d, want %d", i, got[i].Hour, wantHour)
		}
	}
	if got[0].Rank != ranking.RankOf(4) {
		t.Errorf("existing row overwritten: %+v", got[0])
	}
	if got[3].Rank.Valid() {
		t.Errorf("null rank read back as %+v", got[3].Rank)
	}
}

func TestHistoryPruneInclusive(t *testing.T) {
	h := newTestHistory(t)

	_, err := h.Save("apple3", []ranking.Observation{
		obs("2024/03/05", 23, 1),
		obs("2024/03/06", 17, 2),
		obs("2024/03/06", 18, 3),
		obs("2024/03/07", 0, 4),
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	n, err := h.Prune("apple3", "2024/03/06", 17)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned %d, want 2", n)
	}
	if c, _ := h.Count("apple3"); c != 2 {
		t.Errorf("Count = %d, want 2", c)
	}

	if _, err := h.Prune("apple3", "not-a-date", 0); err == nil {
		t.Error("bad cutoff accepted")
	}
}

func TestHistorySaveSkipsUnknownHour(t *testing.T) {
	h := newTestHistory(t)

	fresh, err := h.Save("apple1", []ranking.Observation{
		obs("2024/03/15", -1, 4),
		obs("2024/03/15", -1, 7),
		obs("2024/03/15", 9, 5),
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if len(fresh) != 1 || fresh[0].Hour != 9 {
		t.Fatalf("fresh = %+v, want only the 09:00 row", fresh)
	}
	if n, _ := h.Count("apple1"); n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
}
