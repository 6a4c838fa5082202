package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rankviewer/ranking"
)

func discardLogger() *Logger {
	return newLoggerTo(io.Discard, "error")
}

var tokyo = time.FixedZone("JST", 9*60*60)

func obs(date string, hour, rank int) ranking.Observation {
	o := ranking.Observation{Date: date, Hour: hour, Rank: ranking.RankOf(rank)}
	if t, ok := ranking.ParseDate(date); ok {
		o.Weekday = ranking.WeekdayLabel(t)
	}
	return o
}

func newTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("OpenHistory failed: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}
