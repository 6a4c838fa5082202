package main

import (
	"context"
	"fmt"
	"time"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"

	"rankviewer/ranking"
)

type ClickHouseWriterConfig struct {
	BatchSize  int
	FlushEvery time.Duration
	BufferSize int
}

type ClickHouseWriter struct {
	cfg  ClickHouseWriterConfig
	conn clickhouse.Conn
	run  RunContext
	log  *Logger
	m    *Metrics

	in chan ObservationRecord
}

func NewClickHouseWriter(cfg ClickHouseWriterConfig, conn clickhouse.Conn, run RunContext, m *Metrics, log *Logger) *ClickHouseWriter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5000
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 50_000
	}
	return &ClickHouseWriter{
		cfg:  cfg,
		conn: conn,
		run:  run,
		log:  log,
		m:    m,
		in:   make(chan ObservationRecord, cfg.BufferSize),
	}
}

func (w *ClickHouseWriter) TryEnqueue(rec ObservationRecord) bool {
	select {
	case w.in <- rec:
		return true
	default:
		return false
	}
}

// Run batches records until ctx is cancelled, then drains the queue and
// makes one last bounded attempt to insert what is left.
func (w *ClickHouseWriter) Run(ctx context.Context) {
	t := time.NewTicker(w.cfg.FlushEvery)
	defer t.Stop()

	batch := make([]ObservationRecord, 0, w.cfg.BatchSize)
	take := func() []ObservationRecord {
		tmp := batch
		batch = make([]ObservationRecord, 0, w.cfg.BatchSize)
		return tmp
	}

	for {
		select {
		case <-ctx.Done():
			shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		Drain:
			for {
				select {
				case rec := <-w.in:
					batch = append(batch, rec)
					if len(batch) >= w.cfg.BatchSize {
						w.flush(shCtx, take())
					}
				default:
					break Drain
				}
			}
			w.flush(shCtx, take())
			cancel()
			return

		case rec := <-w.in:
			batch = append(batch, rec)
			if len(batch) >= w.cfg.BatchSize {
				w.flush(ctx, take())
			}

		case <-t.C:
			if len(batch) > 0 {
				w.flush(ctx, take())
			}
		}
	}
}

func (w *ClickHouseWriter) flush(ctx context.Context, buf []ObservationRecord) {
	if len(buf) == 0 {
		return
	}
	const maxAttempts = 3

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			break
		}

		ctxIns, cancel := context.WithTimeout(ctx, 5*time.Second)
		start := time.Now()
		err := w.insertBatch(ctxIns, buf)
		cancel()

		if err == nil {
			w.m.CHInserted(int64(len(buf)), time.Since(start))
			return
		}
		lastErr = err
		w.m.CHInsertError()

		backoff := min(time.Duration(100*(1<<attempt))*time.Millisecond, 1500*time.Millisecond)
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
	}

	w.m.CHDropped(int64(len(buf)))
	w.log.Errorf("clickhouse insert failed; dropped %d rows: %v", len(buf), lastErr)
}

func (w *ClickHouseWriter) insertBatch(ctx context.Context, buf []ObservationRecord) error {
	if w.conn == nil {
		return fmt.Errorf("no clickhouse conn")
	}

	const insertSQL = `
INSERT INTO rank_observations
(run_id, run_start, source, day, hour, weekday, rank, fetched_at)
`

	b, err := w.conn.PrepareBatch(ctx, insertSQL)
	if err != nil {
		return err
	}

	for _, rec := range buf {
		day, ok := ranking.ParseDate(rec.Date)
		if !ok || rec.Hour < 0 {
			continue
		}
		var rank *uint32
		if rec.Rank != nil && *rec.Rank > 0 {
			v := uint32(*rec.Rank)
			rank = &v
		}

		if err := b.Append(
			w.run.ID,
			w.run.Start,
			rec.Source,
			day,
			uint8(rec.Hour),
			rec.Weekday,
			rank,
			time.UnixMilli(rec.FetchedAtMs),
		); err != nil {
			return err
		}
	}

	return b.Send()
}
