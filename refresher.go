package main

import (
	"context"
	"sync"
	"time"

	"rankviewer/ranking"
)

// Loader is satisfied by FeedLoader; tests swap in stubs.
type Loader interface {
	Load(ctx context.Context, src Source) ([]ranking.Observation, error)
}

type RefresherConfig struct {
	Interval time.Duration
	Sources  []Source
	Log      *Logger
}

// Refresher reloads every source on a fixed interval.
type Refresher struct {
	cfg     RefresherConfig
	loader  Loader
	broker  *Broker
	metrics *Metrics
	now     func() time.Time

	mu sync.Mutex // one cycle at a time
}

func NewRefresher(cfg RefresherConfig, loader Loader, b *Broker, m *Metrics) *Refresher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Refresher{cfg: cfg, loader: loader, broker: b, metrics: m, now: time.Now}
}

// RefreshHandle stops a running refresher.
type RefreshHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop cancels the schedule, aborts an in-flight load and waits for the
// loop to exit. Safe to call more than once.
func (h *RefreshHandle) Stop() {
	h.once.Do(h.cancel)
	<-h.done
}

// Done is closed once the loop has exited.
func (h *RefreshHandle) Done() <-chan struct{} { return h.done }

// Start loads all sources immediately, then every Interval, until ctx is
// cancelled or the handle is stopped.
func (r *Refresher) Start(ctx context.Context) *RefreshHandle {
	ctx, cancel := context.WithCancel(ctx)
	h := &RefreshHandle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)

		t := time.NewTicker(r.cfg.Interval)
		defer t.Stop()

		r.RefreshNow(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				r.RefreshNow(ctx)
			}
		}
	}()
	return h
}

// RefreshNow loads every source once, sequentially. A failing source keeps
// its previous dataset and is retried on the next cycle. Concurrent calls
// run one after another.
func (r *Refresher) RefreshNow(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, src := range r.cfg.Sources {
		if ctx.Err() != nil {
			return
		}
		r.refreshSource(ctx, src)
	}
}

func (r *Refresher) refreshSource(ctx context.Context, src Source) {
	start := time.Now()
	obs, err := r.loader.Load(ctx, src)
	at := r.now()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.metrics.FetchFailed()
		r.broker.HandleFailure(src.Name, err, at)
		r.cfg.Log.Warnf("load %s failed: %v", src.Name, err)
		return
	}
	r.metrics.FetchSucceeded(len(obs), time.Since(start))

	// File loads ignore ctx. After cancellation the snapshot is dropped
	// before History can mark it as seen.
	if ctx.Err() != nil {
		return
	}

	if err := r.broker.HandleSnapshot(src.Name, obs, at); err != nil {
		r.cfg.Log.Errorf("apply %s: %v", src.Name, err)
		return
	}
	r.cfg.Log.Debugf("loaded %s observations=%d", src.Name, len(obs))
}
