package main

import (
	"context"
	"testing"
	"time"
)

func TestClickHouseWriterDropsAfterRetries(t *testing.T) {
	m := NewMetrics(time.Now(), "test", "", "")
	w := NewClickHouseWriter(ClickHouseWriterConfig{BatchSize: 10, BufferSize: 2}, nil, RunContext{ID: "run-1", Start: time.Now()}, m, discardLogger())

	rank := 3
	for i := 0; i < 3; i++ {
		ok := w.TryEnqueue(ObservationRecord{Source: "apple1", Date: "2024/03/15", Hour: i, Rank: &rank})
		if want := i < 2; ok != want {
			t.Fatalf("TryEnqueue #%d = %v, want %v", i, ok, want)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if got := m.chDropped.Load(); got != 2 {
		t.Errorf("dropped = %d, want 2", got)
	}
	if got := m.chInsertErrors.Load(); got != 3 {
		t.Errorf("insert errors = %d, want 3", got)
	}
	if got := m.chInsertedRows.Load(); got != 0 {
		t.Errorf("inserted = %d, want 0", got)
	}
}
