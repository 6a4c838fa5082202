package main

import (
	"bufio"
	"container/list"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

type StorageConfig struct {
	DataDir string
	Flush   time.Duration
	MaxOpen int
	Loc     *time.Location
	Log     *Logger
}

// Storage appends newly seen observations to
// <DataDir>/raw/<fetch date>/<source>.ndjson.
type Storage struct {
	cfg     StorageConfig
	metrics *Metrics

	in chan ObservationRecord

	rawLRU *rawFileLRU
}

func NewStorage(cfg StorageConfig, m *Metrics) *Storage {
	if cfg.MaxOpen <= 0 {
		cfg.MaxOpen = 32
	}
	if cfg.Flush <= 0 {
		cfg.Flush = time.Second
	}
	if cfg.Loc == nil {
		cfg.Loc = time.Local
	}
	return &Storage{
		cfg:     cfg,
		metrics: m,
		in:      make(chan ObservationRecord, 50_000),
		rawLRU:  newRawFileLRU(cfg.MaxOpen),
	}
}

func (s *Storage) TryEnqueue(rec ObservationRecord) bool {
	select {
	case s.in <- rec:
		return true
	default:
		return false
	}
}

func (s *Storage) Run(ctx context.Context) {
	_ = os.MkdirAll(filepath.Join(s.cfg.DataDir, "raw"), 0755)

	t := time.NewTicker(s.cfg.Flush)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flushAll()
			return

		case rec := <-s.in:
			s.write(rec)

		case <-t.C:
			s.rawLRU.flushAll()
			s.rawLRU.closeIdle(time.Minute)
		}
	}
}

func (s *Storage) flushAll() {
Drain:
	for {
		select {
		case rec := <-s.in:
			s.write(rec)
		default:
			break Drain
		}
	}
	s.rawLRU.flushAll()
	s.rawLRU.closeAll()
}

func (s *Storage) write(rec ObservationRecord) {
	date := time.UnixMilli(rec.FetchedAtMs).In(s.cfg.Loc).Format("2006-01-02")

	dir := filepath.Join(s.cfg.DataDir, "raw", date)
	_ = os.MkdirAll(dir, 0755)

	key := rawFileKey{Date: date, Source: rec.Source}
	ent, err := s.rawLRU.getOrOpen(key, filepath.Join(dir, rec.Source+".ndjson"))
	if err != nil {
		s.cfg.Log.Errorf("archive open %s %s: %v", date, rec.Source, err)
		return
	}

	b, err := json.Marshal(rec)
	if err != nil {
		s.cfg.Log.Errorf("archive marshal %s: %v", rec.Source, err)
		return
	}
	b = append(b, '\n')
	if _, err := ent.bw.Write(b); err != nil {
		s.cfg.Log.Errorf("archive write %s: %v", rec.Source, err)
		return
	}
	s.metrics.Archived(1)
	ent.lastUsed = time.Now()
	s.rawLRU.touch(ent)
}

// ---------- file LRU ----------

type rawFileKey struct {
	Date   string
	Source string
}

type rawFileEntry struct {
	key      rawFileKey
	f        *os.File
	bw       *bufio.Writer
	lastUsed time.Time
	elem     *list.Element
}

type rawFileLRU struct {
	maxOpen int
	ll      *list.List
	m       map[rawFileKey]*rawFileEntry
}

func newRawFileLRU(maxOpen int) *rawFileLRU {
	return &rawFileLRU{
		maxOpen: maxOpen,
		ll:      list.New(),
		m:       make(map[rawFileKey]*rawFileEntry, maxOpen*2),
	}
}

func (l *rawFileLRU) getOrOpen(key rawFileKey, path string) (*rawFileEntry, error) {
	if e := l.m[key]; e != nil {
		return e, nil
	}

	for l.ll.Len() >= l.maxOpen {
		l.evictOne()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	ent := &rawFileEntry{
		key:      key,
		f:        f,
		bw:       bufio.NewWriterSize(f, 64<<10),
		lastUsed: time.Now(),
	}
	ent.elem = l.ll.PushFront(ent)
	l.m[key] = ent
	return ent, nil
}

func (l *rawFileLRU) touch(ent *rawFileEntry) {
	if ent.elem != nil {
		l.ll.MoveToFront(ent.elem)
	}
}

func (l *rawFileLRU) evictOne() {
	back := l.ll.Back()
	if back == nil {
		return
	}
	ent, _ := back.Value.(*rawFileEntry)
	if ent != nil {
		_ = ent.bw.Flush()
		_ = ent.f.Close()
		delete(l.m, ent.key)
	}
	l.ll.Remove(back)
}

func (l *rawFileLRU) flushAll() {
	for e := l.ll.Front(); e != nil; e = e.Next() {
		if ent, _ := e.Value.(*rawFileEntry); ent != nil {
			_ = ent.bw.Flush()
		}
	}
}

func (l *rawFileLRU) closeIdle(maxIdle time.Duration) {
	cut := time.Now().Add(-maxIdle)
	for e := l.ll.Back(); e != nil; {
		prev := e.Prev()
		ent, _ := e.Value.(*rawFileEntry)
		if ent != nil && ent.lastUsed.Before(cut) {
			_ = ent.bw.Flush()
			_ = ent.f.Close()
			delete(l.m, ent.key)
			l.ll.Remove(e)
		}
		e = prev
	}
}

func (l *rawFileLRU) closeAll() {
	for e := l.ll.Front(); e != nil; e = e.Next() {
		if ent, _ := e.Value.(*rawFileEntry); ent != nil {
			_ = ent.bw.Flush()
			_ = ent.f.Close()
		}
	}
	l.ll.Init()
	l.m = make(map[rawFileKey]*rawFileEntry, l.maxOpen*2)
}
