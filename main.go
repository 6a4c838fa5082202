package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/joho/godotenv"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

type CLIConfig struct {
	Port      int
	Sources   string
	DataDir   string
	History   string
	Refresh   time.Duration
	TZ        string
	FlushMS   int
	FeedTO    time.Duration
	LogLevel  string
	NoArchive bool

	ClickHouseEnabled bool
	CHHost            string
	CHPort            int
	CHUser            string
	CHPass            string
	CHDB              string
	CHSecure          bool
	CHAsyncInsert     int
	CHBatchSize       int
	CHFlushMS         int
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "ingest":
			os.Exit(runIngest(os.Args[2:]))
		case "prune":
			os.Exit(runPrune(os.Args[2:]))
		case "serve":
			os.Args = append(os.Args[:1], os.Args[2:]...)
		}
	}

	cfg := CLIConfig{}

	flag.IntVar(&cfg.Port, "port", envInt("RANKVIEWER_PORT", 8092), "HTTP port")
	flag.StringVar(&cfg.Sources, "sources", envString("RANKVIEWER_SOURCES", "./sources.yaml"), "Path to sources.yaml")
	flag.StringVar(&cfg.DataDir, "data-dir", envString("RANKVIEWER_DATA_DIR", "./data"), "Base data directory")
	flag.StringVar(&cfg.History, "history", envString("RANKVIEWER_HISTORY", ""), "SQLite history path (default <data-dir>/history.db; \"off\" disables)")
	flag.DurationVar(&cfg.Refresh, "refresh", envDuration("RANKVIEWER_REFRESH", 5*time.Minute), "Feed refresh interval")
	flag.StringVar(&cfg.TZ, "tz", envString("RANKVIEWER_TZ", "Asia/Tokyo"), "Time zone for quick ranges and archive partitions")
	flag.IntVar(&cfg.FlushMS, "flush-ms", 1000, "Archive writer flush cadence (ms)")
	flag.DurationVar(&cfg.FeedTO, "feed-timeout", 30*time.Second, "Feed request timeout")
	flag.StringVar(&cfg.LogLevel, "log-level", envString("LOG_LEVEL", "info"), "Log level: debug|info|warn|error")
	flag.BoolVar(&cfg.NoArchive, "no-archive", envBool("RANKVIEWER_NO_ARCHIVE", false), "Disable the NDJSON archive")

	// ClickHouse flags (env-backed defaults)
	flag.BoolVar(&cfg.ClickHouseEnabled, "clickhouse", envBool("CLICKHOUSE_ENABLED", false), "Enable ClickHouse ingest+analytics")
	flag.StringVar(&cfg.CHHost, "ch-host", envString("CLICKHOUSE_HOST", "localhost"), "ClickHouse host")
	flag.IntVar(&cfg.CHPort, "ch-port", envInt("CLICKHOUSE_PORT", 9000), "ClickHouse native port")
	flag.StringVar(&cfg.CHUser, "ch-user", envString("CLICKHOUSE_USER", "default"), "ClickHouse user")
	flag.StringVar(&cfg.CHPass, "ch-pass", envString("CLICKHOUSE_PASS", ""), "ClickHouse password")
	flag.StringVar(&cfg.CHDB, "ch-db", envString("CLICKHOUSE_DB", "rankviewer"), "ClickHouse database")
	flag.BoolVar(&cfg.CHSecure, "ch-secure", envBool("CLICKHOUSE_SECURE", false), "Use TLS to ClickHouse")
	flag.IntVar(&cfg.CHAsyncInsert, "ch-async-insert", envInt("CLICKHOUSE_ASYNC_INSERT", 1), "ClickHouse async_insert setting (0/1)")
	flag.IntVar(&cfg.CHBatchSize, "ch-batch-size", envInt("CLICKHOUSE_BATCH_SIZE", 5000), "ClickHouse insert batch size")
	flag.IntVar(&cfg.CHFlushMS, "ch-flush-ms", envInt("CLICKHOUSE_FLUSH_MS", 1000), "ClickHouse flush cadence (ms)")

	flag.Parse()

	log := NewLogger(cfg.LogLevel)

	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		log.Errorf("failed to load time zone %s: %v", cfg.TZ, err)
		os.Exit(1)
	}

	sources, err := LoadSources(cfg.Sources, cfg.DataDir)
	if err != nil {
		log.Errorf("failed to load sources: %v", err)
		os.Exit(1)
	}
	log.Infof("loaded sources=%d (%s)", len(sources), filepath.Base(cfg.Sources))

	now := func() time.Time { return time.Now().In(loc) }

	// ms precision, no monotonic
	runStart := time.UnixMilli(now().UnixMilli()).In(loc)
	run := RunContext{
		ID:    newRunID(),
		Start: runStart,
	}

	metrics := NewMetrics(runStart, version, commit, buildDate)

	var history *History
	if cfg.History != "off" {
		path := cfg.History
		if path == "" {
			path = filepath.Join(cfg.DataDir, "history.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			log.Errorf("failed to create history dir: %v", err)
			os.Exit(1)
		}
		history, err = OpenHistory(path)
		if err != nil {
			log.Errorf("failed to open history %s: %v", path, err)
			os.Exit(1)
		}
	} else {
		log.Infof("history disabled; archive and clickhouse receive nothing")
	}

	var storage *Storage
	if !cfg.NoArchive && history != nil {
		storage = NewStorage(StorageConfig{
			DataDir: cfg.DataDir,
			Flush:   time.Duration(cfg.FlushMS) * time.Millisecond,
			MaxOpen: 32,
			Loc:     loc,
			Log:     log.Named("archive"),
		}, metrics)
	}

	// ClickHouse init (schema + connections)
	var chClient *ClickHouseClient
	var chw *ClickHouseWriter

	if cfg.ClickHouseEnabled {
		chCfg := ClickHouseConfig{
			Enabled:      true,
			Host:         cfg.CHHost,
			Port:         cfg.CHPort,
			User:         cfg.CHUser,
			Pass:         cfg.CHPass,
			DB:           cfg.CHDB,
			Secure:       cfg.CHSecure,
			AsyncInsert:  cfg.CHAsyncInsert != 0,
			BatchSize:    cfg.CHBatchSize,
			FlushEveryMS: cfg.CHFlushMS,
		}

		ctxInit, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		chClient, err = NewClickHouseClient(ctxInit, chCfg, log.Named("clickhouse"))
		cancel()

		if err != nil {
			log.Errorf("clickhouse init failed (continuing without CH): %v", err)
			chClient = nil
		} else if history != nil {
			chw = NewClickHouseWriter(ClickHouseWriterConfig{
				BatchSize:  chCfg.BatchSize,
				FlushEvery: time.Duration(chCfg.FlushEveryMS) * time.Millisecond,
				BufferSize: 50_000,
			}, chClient.NativeConn(), run, metrics, log.Named("clickhouse"))
		}
	} else {
		log.Infof("clickhouse disabled")
	}

	ctrl := NewController(sources, now)
	broker := NewBroker(ctrl, history, storage, chw, metrics, log.Named("broker"))
	broker.Warm(sources, runStart)

	refresher := NewRefresher(RefresherConfig{
		Interval: cfg.Refresh,
		Sources:  sources,
		Log:      log.Named("refresh"),
	}, NewFeedLoader(cfg.FeedTO), broker, metrics)
	refresher.now = now

	httpSrv := NewHTTPServer(HTTPConfig{
		Addr:      fmt.Sprintf(":%d", cfg.Port),
		Log:       log.Named("http"),
		Ctrl:      ctrl,
		Refresher: refresher,
		History:   history,
		CH:        chClient,
		RunID:     run.ID,
		RunStart:  run.Start,
		M:         metrics,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Sinks outlive the refresher: they are cancelled only after the last
	// snapshot has been handed to the broker.
	sinkCtx, stopSinks := context.WithCancel(context.Background())
	defer stopSinks()

	// start background components
	bg := make(chan struct{})
	workers := 0
	if storage != nil {
		workers++
		go func() { storage.Run(sinkCtx); bg <- struct{}{} }()
	}
	if chw != nil {
		workers++
		go func() { chw.Run(sinkCtx); bg <- struct{}{} }()
	}
	refresh := refresher.Start(ctx)

	// run HTTP server
	go func() {
		log.Infof("http listening on http://localhost:%d", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("http server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()

	// graceful shutdown
	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Infof("shutting down...")
	_ = httpSrv.Shutdown(shCtx)
	refresh.Stop()
	stopSinks()
	for i := 0; i < workers; i++ {
		<-bg
	}
	if chClient != nil {
		chClient.Close()
	}
	if history != nil {
		_ = history.Close()
	}
	log.Infof("bye")
}

func getenvAny(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func envString(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func envDuration(k string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func envBool(k string, def bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(k)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func newRunID() string {
	// UUID v4 without external deps.
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
