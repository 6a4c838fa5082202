package main

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"rankviewer/ranking"
)

// History is the SQLite record of every observation ever seen, one row per
// (source, date, hour). It decides which loaded observations are new and
// therefore forwarded to the archive and ClickHouse.
type History struct {
	db *sql.DB
	mu sync.Mutex
}

func OpenHistory(path string) (*History, error) {
	connStr := path
	if path == ":memory:" {
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history: %w", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	h := &History{db: db}
	if err := h.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return h, nil
}

func (h *History) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS observations (
		source TEXT NOT NULL,
		date TEXT NOT NULL,
		hour INTEGER NOT NULL,
		weekday TEXT NOT NULL,
		rank INTEGER,
		PRIMARY KEY (source, date, hour)
	);
	`
	_, err := h.db.Exec(schema)
	return err
}

func (h *History) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.db.Close()
}

// Save inserts observations not yet recorded for source and returns those
// that were new, in input order. Dates are stored as canonical keys;
// observations with a malformed date or an unknown hour are ignored.
func (h *History) Save(source string, obs []ranking.Observation) ([]ranking.Observation, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tx, err := h.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO observations (source, date, hour, weekday, rank) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	var fresh []ranking.Observation
	for _, o := range obs {
		key, ok := ranking.DateKey(o.Date)
		if !ok || o.Hour < 0 {
			continue
		}
		var rank any
		if o.Rank.Valid() {
			rank = o.Rank.Value
		}
		res, err := stmt.Exec(source, key, o.Hour, o.Weekday, rank)
		if err != nil {
			return nil, fmt.Errorf("insert observation: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			o.Date = key
			fresh = append(fresh, o)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return fresh, nil
}

// Observations returns the recorded observations of source, oldest first.
func (h *History) Observations(source string) ([]ranking.Observation, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rows, err := h.db.Query(`SELECT date, weekday, hour, rank FROM observations WHERE source = ? ORDER BY date, hour`, source)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	out := make([]ranking.Observation, 0, 256)
	for rows.Next() {
		var (
			o    ranking.Observation
			rank sql.NullInt64
		)
		if err := rows.Scan(&o.Date, &o.Weekday, &o.Hour, &rank); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		if rank.Valid {
			o.Rank = ranking.RankOf(int(rank.Int64))
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Prune deletes observations dated before beforeDate, and those on
// beforeDate at or before beforeHour. It returns the number removed.
func (h *History) Prune(source, beforeDate string, beforeHour int) (int64, error) {
	key, ok := ranking.DateKey(beforeDate)
	if !ok {
		return 0, fmt.Errorf("bad cutoff date %q", beforeDate)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	res, err := h.db.Exec(`DELETE FROM observations WHERE source = ? AND (date < ? OR (date = ? AND hour <= ?))`,
		source, key, key, beforeHour)
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	return res.RowsAffected()
}

func (h *History) Count(source string) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var n int
	err := h.db.QueryRow(`SELECT COUNT(*) FROM observations WHERE source = ?`, source).Scan(&n)
	return n, err
}
