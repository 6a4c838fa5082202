package main

import (
	"sync/atomic"
	"time"
)

type Metrics struct {
	start time.Time

	version   string
	commit    string
	buildDate string

	fetchOK     atomic.Int64
	fetchFailed atomic.Int64
	lastFetchMs atomic.Int64

	observationsLoaded atomic.Int64
	observationsNew    atomic.Int64

	archived        atomic.Int64
	archiveDropped  atomic.Int64
	historyFailures atomic.Int64

	// ClickHouse writer metrics
	chInsertedRows        atomic.Int64
	chInsertErrors        atomic.Int64
	chDropped             atomic.Int64
	chLastInsertLatencyMs atomic.Int64
	chLastInsertAtMs      atomic.Int64
}

func NewMetrics(start time.Time, version, commit, buildDate string) *Metrics {
	return &Metrics{
		start:     start,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
	}
}

func (m *Metrics) FetchSucceeded(n int, latency time.Duration) {
	m.fetchOK.Add(1)
	m.observationsLoaded.Add(int64(n))
	m.lastFetchMs.Store(latency.Milliseconds())
}
func (m *Metrics) FetchFailed()          { m.fetchFailed.Add(1) }
func (m *Metrics) NewObservations(n int) { m.observationsNew.Add(int64(n)) }
func (m *Metrics) Archived(n int64)      { m.archived.Add(n) }
func (m *Metrics) ArchiveDropped()       { m.archiveDropped.Add(1) }
func (m *Metrics) HistoryFailed()        { m.historyFailures.Add(1) }

func (m *Metrics) CHInserted(n int64, latency time.Duration) {
	m.chInsertedRows.Add(n)
	m.chLastInsertLatencyMs.Store(latency.Milliseconds())
	m.chLastInsertAtMs.Store(time.Now().UnixMilli())
}
func (m *Metrics) CHInsertError()    { m.chInsertErrors.Add(1) }
func (m *Metrics) CHDropped(n int64) { m.chDropped.Add(n) }

func (m *Metrics) Snapshot() map[string]any {
	uptime := time.Since(m.start)

	return map[string]any{
		"ok": true,

		"uptime_ms": uptime.Milliseconds(),
		"uptime":    uptime.String(),

		"build": map[string]any{
			"version":    m.version,
			"commit":     m.commit,
			"build_date": m.buildDate,
		},

		"fetch": map[string]any{
			"success":             m.fetchOK.Load(),
			"failed":              m.fetchFailed.Load(),
			"last_latency_ms":     m.lastFetchMs.Load(),
			"observations_loaded": m.observationsLoaded.Load(),
			"observations_new":    m.observationsNew.Load(),
		},

		"archive": map[string]any{
			"written_total":    m.archived.Load(),
			"dropped_total":    m.archiveDropped.Load(),
			"history_failures": m.historyFailures.Load(),
		},

		"clickhouse": map[string]any{
			"inserted_rows_total":    m.chInsertedRows.Load(),
			"insert_errors_total":    m.chInsertErrors.Load(),
			"dropped_total":          m.chDropped.Load(),
			"last_insert_latency_ms": m.chLastInsertLatencyMs.Load(),
			"last_insert_at_unix_ms": m.chLastInsertAtMs.Load(),
		},
	}
}
