package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"

	"rankviewer/ranking"
)

type ClickHouseConfig struct {
	Enabled      bool
	Host         string
	Port         int
	User         string
	Pass         string
	DB           string
	Secure       bool
	AsyncInsert  bool
	BatchSize    int
	FlushEveryMS int
}

type ClickHouseClient struct {
	cfg  ClickHouseConfig
	conn clickhouse.Conn // native driver conn (batch insert)
	db   *sql.DB         // database/sql for ad-hoc queries & endpoints
	log  *Logger
}

func (c *ClickHouseClient) Addr() string { return fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port) }
func (c *ClickHouseClient) Database() string {
	if c == nil {
		return ""
	}
	return c.cfg.DB
}
func (c *ClickHouseClient) Secure() bool {
	if c == nil {
		return false
	}
	return c.cfg.Secure
}
func (c *ClickHouseClient) NativeConn() clickhouse.Conn { return c.conn }
func (c *ClickHouseClient) SQLDB() *sql.DB              { return c.db }

func (c *ClickHouseClient) Close() {
	if c == nil {
		return
	}
	if c.db != nil {
		_ = c.db.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

var safeIdentRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

func validateIdent(s string) error {
	if s == "" {
		return fmt.Errorf("empty identifier")
	}
	if !safeIdentRe.MatchString(s) {
		return fmt.Errorf("unsafe identifier %q (allowed: [a-zA-Z0-9_])", s)
	}
	return nil
}

func (cfg ClickHouseConfig) options(database string) *clickhouse.Options {
	opt := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: database,
			Username: cfg.User,
			Password: cfg.Pass,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		Settings: clickhouse.Settings{},
		// native conn pool; the SQL handle below has its own
		MaxOpenConns:    8,
		MaxIdleConns:    8,
		ConnMaxLifetime: 30 * time.Minute,
	}
	if cfg.Secure {
		opt.TLS = &tls.Config{}
	}
	if cfg.AsyncInsert {
		opt.Settings["async_insert"] = 1
		opt.Settings["wait_for_async_insert"] = 0
	} else {
		opt.Settings["async_insert"] = 0
	}
	return opt
}

func NewClickHouseClient(ctx context.Context, cfg ClickHouseConfig, log *Logger) (*ClickHouseClient, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if err := validateIdent(cfg.DB); err != nil {
		return nil, err
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port <= 0 {
		cfg.Port = 9000
	}
	if cfg.User == "" {
		cfg.User = "default"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5000
	}
	if cfg.FlushEveryMS <= 0 {
		cfg.FlushEveryMS = 200
	}

	// 1) Connect to "default" DB to ensure the target database exists.
	connDefault, err := clickhouse.Open(cfg.options("default"))
	if err != nil {
		return nil, fmt.Errorf("clickhouse open(default) failed: %w", err)
	}
	{
		ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := connDefault.Exec(ctxPing, "SELECT 1"); err != nil {
			_ = connDefault.Close()
			return nil, fmt.Errorf("clickhouse ping(default) failed: %w", err)
		}
		ddlDB := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", cfg.DB)
		if err := connDefault.Exec(ctxPing, ddlDB); err != nil {
			_ = connDefault.Close()
			return nil, fmt.Errorf("create database failed: %w", err)
		}
	}
	_ = connDefault.Close()

	// 2) Connect to target DB and ensure rank_observations exists.
	conn, err := clickhouse.Open(cfg.options(cfg.DB))
	if err != nil {
		return nil, fmt.Errorf("clickhouse open(%s) failed: %w", cfg.DB, err)
	}
	{
		ctxDDL, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := ensureClickHouseSchema(ctxDDL, conn); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	// 3) Open database/sql handle for ad-hoc queries & endpoints.
	db := clickhouse.OpenDB(cfg.options(cfg.DB))
	db.SetMaxOpenConns(6)
	db.SetMaxIdleConns(6)
	db.SetConnMaxLifetime(30 * time.Minute)

	{
		ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctxPing); err != nil {
			_ = db.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("clickhouse db.Ping failed: %w", err)
		}
	}

	log.Infof("clickhouse ready addr=%s db=%s async_insert=%v", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), cfg.DB, cfg.AsyncInsert)

	return &ClickHouseClient{
		cfg:  cfg,
		conn: conn,
		db:   db,
		log:  log,
	}, nil
}

func ensureClickHouseSchema(ctx context.Context, conn clickhouse.Conn) error {
	// One row per (source, day, hour); re-inserts of the same observation
	// collapse to the latest fetch.
	ddl := `
CREATE TABLE IF NOT EXISTS rank_observations
(
  run_id String,
  run_start DateTime64(3),
  source LowCardinality(String),
  day Date,
  hour UInt8,
  weekday LowCardinality(String),
  rank Nullable(UInt32),
  fetched_at DateTime64(3)
)
ENGINE = ReplacingMergeTree(fetched_at)
PARTITION BY toYYYYMM(day)
ORDER BY (source, day, hour)
`
	if err := conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("clickhouse ddl failed: %w", err)
	}
	return nil
}

// -------------------- ClickHouse-backed analytics --------------------

// BucketCounts runs the rank bucketing in ClickHouse over the whole stored
// history of source, narrowed by c. Buckets are labelled exactly like the
// in-memory ranking.ComputeBuckets.
func (c *ClickHouseClient) BucketCounts(ctx context.Context, source string, crit ranking.Criteria) ([]ranking.Bucket, error) {
	if c == nil || c.db == nil {
		return nil, fmt.Errorf("clickhouse not configured")
	}

	where, args, ok := criteriaSQL(crit)
	if !ok {
		return []ranking.Bucket{}, nil
	}

	q := `
SELECT
  toInt64(intDiv(assumeNotNull(rank) - 1, 10)) AS idx,
  toInt64(count()) AS n,
  toInt64(max(assumeNotNull(rank))) AS top
FROM rank_observations FINAL
WHERE source = ?
  AND rank IS NOT NULL
  AND assumeNotNull(rank) >= 1
` + where + `
GROUP BY idx
ORDER BY idx`

	rows, err := c.db.QueryContext(ctx, q, append([]any{source}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int)
	maxRank := 0
	for rows.Next() {
		var idx, n, top int64
		if err := rows.Scan(&idx, &n, &top); err != nil {
			return nil, err
		}
		counts[int(idx)] = int(n)
		if int(top) > maxRank {
			maxRank = int(top)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ranking.BucketsFromCounts(maxRank, counts), nil
}

// criteriaSQL translates filter criteria into extra WHERE clauses. ok is
// false when a criterion is malformed and therefore matches nothing.
func criteriaSQL(c ranking.Criteria) (where string, args []any, ok bool) {
	var b strings.Builder
	if c.Year != "" {
		y, err := strconv.Atoi(c.Year)
		if err != nil || len(c.Year) != 4 {
			return "", nil, false
		}
		b.WriteString("  AND toYear(day) = ?\n")
		args = append(args, y)
	}
	if c.Month != "" {
		m, err := strconv.Atoi(c.Month)
		if err != nil || len(c.Month) != 2 {
			return "", nil, false
		}
		b.WriteString("  AND toMonth(day) = ?\n")
		args = append(args, m)
	}
	if c.StartDate != "" {
		t, ok := ranking.ParseDate(c.StartDate)
		if !ok {
			return "", nil, false
		}
		b.WriteString("  AND day >= toDate(?)\n")
		args = append(args, t.Format("2006-01-02"))
	}
	if c.EndDate != "" {
		t, ok := ranking.ParseDate(c.EndDate)
		if !ok {
			return "", nil, false
		}
		b.WriteString("  AND day <= toDate(?)\n")
		args = append(args, t.Format("2006-01-02"))
	}
	if c.Weekday != "" {
		b.WriteString("  AND weekday = ?\n")
		args = append(args, c.Weekday)
	}
	return b.String(), args, true
}
