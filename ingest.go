package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"rankviewer/ranking"
)

type ingestConfig struct {
	Sources  string
	DataDir  string
	History  string
	Source   string
	Pages    int
	Every    time.Duration
	TZ       string
	LogLevel string
}

func (c *ingestConfig) bind(fs *flag.FlagSet) {
	fs.StringVar(&c.Sources, "sources", envString("RANKVIEWER_SOURCES", "./sources.yaml"), "Path to sources.yaml")
	fs.StringVar(&c.DataDir, "data-dir", envString("RANKVIEWER_DATA_DIR", "./data"), "Base data directory")
	fs.StringVar(&c.History, "history", envString("RANKVIEWER_HISTORY", ""), "SQLite history path (default <data-dir>/history.db)")
	fs.StringVar(&c.Source, "source", "", "Only this source (default: all)")
	fs.StringVar(&c.TZ, "tz", envString("RANKVIEWER_TZ", "Asia/Tokyo"), "Time zone of chart keys")
	fs.StringVar(&c.LogLevel, "log-level", envString("LOG_LEVEL", "info"), "Log level: debug|info|warn|error")
}

func (c *ingestConfig) selected(sources []Source) ([]Source, error) {
	if c.Source == "" {
		return sources, nil
	}
	for _, s := range sources {
		if s.Name == c.Source {
			return []Source{s}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSource, c.Source)
}

func (c *ingestConfig) historyPath() string {
	if c.History != "" {
		return c.History
	}
	return filepath.Join(c.DataDir, "history.db")
}

// runIngest pulls every source's chart pages and merges them into its
// feed file.
func runIngest(args []string) int {
	cfg := ingestConfig{}
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	cfg.bind(fs)
	fs.IntVar(&cfg.Pages, "pages", 1, "Chart pages to fetch per source")
	fs.DurationVar(&cfg.Every, "every", time.Second, "Minimum spacing between chart requests")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	log := NewLogger(cfg.LogLevel).Named("ingest")

	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		log.Errorf("failed to load time zone %s: %v", cfg.TZ, err)
		return 1
	}
	sources, err := LoadSources(cfg.Sources, cfg.DataDir)
	if err != nil {
		log.Errorf("failed to load sources: %v", err)
		return 1
	}
	sources, err = cfg.selected(sources)
	if err != nil {
		log.Errorf("%v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := NewChartClient(30*time.Second, cfg.Every, getenvAny("PODCAST_COOKIE", "RANKVIEWER_COOKIE"))

	failed := 0
	for _, src := range sources {
		if src.Chart == "" {
			log.Debugf("source %s has no chart url; skipping", src.Name)
			continue
		}
		added, skipped, err := ingestSource(ctx, client, src, cfg.Pages, time.Now().In(loc))
		if err != nil {
			failed++
			log.Errorf("source %s: %v", src.Name, err)
			continue
		}
		log.Infof("source %s: %d new observations (%d entries skipped) -> %s", src.Name, added, skipped, src.Feed)
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func ingestSource(ctx context.Context, client *ChartClient, src Source, pages int, now time.Time) (added, skipped int, err error) {
	entries, err := client.FetchPages(ctx, src.Chart, pages)
	if err != nil {
		return 0, 0, err
	}
	obs, skipped := ConvertChart(entries, now)

	old, err := readFeedFile(src)
	if err != nil {
		return 0, skipped, err
	}
	merged, added := ranking.Merge(old, obs)
	if err := writeFeedFile(src, merged); err != nil {
		return 0, skipped, err
	}
	return added, skipped, nil
}

// runPrune deletes observations at or before a cutoff from a source's feed
// file and from the history store.
func runPrune(args []string) int {
	cfg := ingestConfig{}
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	cfg.bind(fs)
	before := fs.String("before", "", "Cutoff date YYYY/MM/DD (required)")
	hour := fs.Int("hour", 23, "Cutoff hour on the cutoff date, inclusive")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	log := NewLogger(cfg.LogLevel).Named("prune")

	if cfg.Source == "" || *before == "" {
		log.Errorf("prune needs -source and -before")
		return 2
	}
	sources, err := LoadSources(cfg.Sources, cfg.DataDir)
	if err != nil {
		log.Errorf("failed to load sources: %v", err)
		return 1
	}
	sources, err = cfg.selected(sources)
	if err != nil {
		log.Errorf("%v", err)
		return 1
	}
	src := sources[0]

	removed, err := pruneFeed(src, *before, *hour)
	if err != nil {
		log.Errorf("source %s: %v", src.Name, err)
		return 1
	}
	log.Infof("source %s: removed %d observations from %s", src.Name, removed, src.Feed)

	h, err := OpenHistory(cfg.historyPath())
	if err != nil {
		log.Warnf("history not pruned: %v", err)
		return 0
	}
	defer h.Close()
	n, err := h.Prune(src.Name, *before, *hour)
	if err != nil {
		log.Errorf("history prune %s: %v", src.Name, err)
		return 1
	}
	log.Infof("source %s: removed %d history rows", src.Name, n)
	return 0
}

func pruneFeed(src Source, before string, hour int) (int, error) {
	obs, err := readFeedFile(src)
	if err != nil {
		return 0, err
	}
	kept, removed, ok := ranking.PruneBefore(obs, before, hour)
	if !ok {
		return 0, fmt.Errorf("bad cutoff date %q", before)
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, writeFeedFile(src, kept)
}

var errRemoteFeed = errors.New("feed is a remote url")

// readFeedFile returns the observations stored in the source's local feed
// file; a missing file reads as empty.
func readFeedFile(src Source) ([]ranking.Observation, error) {
	if isHTTP(src.Feed) {
		return nil, fmt.Errorf("%w: %s", errRemoteFeed, src.Feed)
	}
	b, err := os.ReadFile(src.Feed)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ranking.DecodeFeed(b, src.Fields)
}

// writeFeedFile replaces the feed file atomically so a concurrent refresh
// never reads a partial document.
func writeFeedFile(src Source, obs []ranking.Observation) error {
	if isHTTP(src.Feed) {
		return fmt.Errorf("%w: %s", errRemoteFeed, src.Feed)
	}
	b, err := ranking.EncodeFeed(obs, src.Fields)
	if err != nil {
		return err
	}
	dir := filepath.Dir(src.Feed)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(src.Feed)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), src.Feed)
}
