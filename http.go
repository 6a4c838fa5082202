package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rankviewer/ranking"
)

type HTTPConfig struct {
	Addr      string
	Log       *Logger
	Ctrl      *Controller
	Refresher *Refresher // optional
	History   *History   // optional
	CH        *ClickHouseClient
	RunID     string
	RunStart  time.Time
	M         *Metrics
}

type HTTPServer struct {
	cfg HTTPConfig
	srv *http.Server
}

func NewHTTPServer(cfg HTTPConfig) *http.Server {
	mux := http.NewServeMux()
	hs := &HTTPServer{cfg: cfg}

	// ad-hoc SQL UI (ClickHouse)
	mux.HandleFunc("/", hs.handleQueryUI)
	mux.HandleFunc("/query", hs.handleQuery)
	mux.HandleFunc("/run", hs.handleRun)

	mux.HandleFunc("/dashboard", hs.handleDashboard)
	mux.HandleFunc("/health", hs.handleHealth)

	mux.HandleFunc("/api/sources", hs.handleSources)
	mux.HandleFunc("/api/view", hs.handleView)
	mux.HandleFunc("/api/filters", hs.handleFilters)
	mux.HandleFunc("/api/refresh", hs.handleRefresh)

	// Prefers ClickHouse when asked to, falls back to the in-memory dataset.
	mux.HandleFunc("/api/buckets", hs.handleBuckets)

	hs.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return hs.srv
}

func (hs *HTTPServer) handleRun(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"run_id":        hs.cfg.RunID,
		"run_start":     hs.cfg.RunStart.Format(time.RFC3339Nano),
		"run_start_ms":  hs.cfg.RunStart.UnixMilli(),
		"clickhouse_on": hs.cfg.CH != nil,
	})
}

func (hs *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := hs.cfg.M.Snapshot()

	snap["run"] = map[string]any{
		"run_id":       hs.cfg.RunID,
		"run_start":    hs.cfg.RunStart.Format(time.RFC3339Nano),
		"run_start_ms": hs.cfg.RunStart.UnixMilli(),
	}

	if hs.cfg.CH != nil {
		snap["clickhouse_conn"] = map[string]any{
			"enabled": true,
			"addr":    hs.cfg.CH.Addr(),
			"db":      hs.cfg.CH.Database(),
			"secure":  hs.cfg.CH.Secure(),
		}
	} else {
		snap["clickhouse_conn"] = map[string]any{"enabled": false}
	}

	snap["sources"] = hs.cfg.Ctrl.Statuses()
	writeJSON(w, snap)
}

type sourceRow struct {
	SourceStatus
	Stored *int `json:"stored,omitempty"`
}

func (hs *HTTPServer) handleSources(w http.ResponseWriter, r *http.Request) {
	statuses := hs.cfg.Ctrl.Statuses()
	out := make([]sourceRow, 0, len(statuses))
	for _, st := range statuses {
		row := sourceRow{SourceStatus: st}
		if hs.cfg.History != nil {
			if n, err := hs.cfg.History.Count(st.Name); err == nil {
				row.Stored = &n
			} else {
				hs.cfg.Log.Warnf("history count %s: %v", st.Name, err)
			}
		}
		out = append(out, row)
	}
	writeJSON(w, map[string]any{
		"count":   len(out),
		"sources": out,
	})
}

// filterFromQuery reads an ad-hoc filter from URL parameters. present is
// false when no filter parameter was given at all.
func filterFromQuery(q url.Values) (f ActiveFilter, present bool, err error) {
	if raw := q.Get("range"); raw != "" {
		p, err := ranking.ParsePreset(raw)
		if err != nil {
			return ActiveFilter{}, true, err
		}
		return ActiveFilter{Preset: p}, true, nil
	}
	c := ranking.Criteria{
		Year:      q.Get("year"),
		Month:     q.Get("month"),
		StartDate: q.Get("start"),
		EndDate:   q.Get("end"),
		Weekday:   q.Get("weekday"),
	}.Normalize()
	if c.IsZero() {
		return ActiveFilter{}, false, nil
	}
	return ActiveFilter{Criteria: c}, true, nil
}

func (hs *HTTPServer) sourceParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := strings.TrimSpace(r.URL.Query().Get("source"))
	if name != "" {
		return name, true
	}
	srcs := hs.cfg.Ctrl.Sources()
	if len(srcs) == 1 {
		return srcs[0].Name, true
	}
	http.Error(w, "missing source", http.StatusBadRequest)
	return "", false
}

func (hs *HTTPServer) handleView(w http.ResponseWriter, r *http.Request) {
	name, ok := hs.sourceParam(w, r)
	if !ok {
		return
	}
	f, adhoc, err := filterFromQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var v View
	if adhoc {
		v, err = hs.cfg.Ctrl.ViewWith(name, f)
	} else {
		v, err = hs.cfg.Ctrl.View(name)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, v)
}

type filterReq struct {
	ranking.Criteria
	Range string `json:"range"`
}

func (hs *HTTPServer) handleFilters(w http.ResponseWriter, r *http.Request) {
	name, ok := hs.sourceParam(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
	case http.MethodDelete:
		if err := hs.cfg.Ctrl.ResetFilter(name); err != nil {
			writeError(w, err)
			return
		}
	case http.MethodPost:
		r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
		var req filterReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		var err error
		if strings.TrimSpace(req.Range) != "" {
			var p ranking.Preset
			if p, err = ranking.ParsePreset(req.Range); err == nil {
				err = hs.cfg.Ctrl.SetPreset(name, p)
			}
		} else {
			err = hs.cfg.Ctrl.SetCriteria(name, req.Criteria.Normalize())
		}
		if err != nil {
			writeError(w, err)
			return
		}
	default:
		http.Error(w, "GET, POST or DELETE", http.StatusMethodNotAllowed)
		return
	}

	f, err := hs.cfg.Ctrl.Filter(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"source": name, "filter": f})
}

func (hs *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	if hs.cfg.Refresher == nil {
		http.Error(w, "refresher not configured", http.StatusServiceUnavailable)
		return
	}
	hs.cfg.Refresher.RefreshNow(r.Context())
	writeJSON(w, map[string]any{"sources": hs.cfg.Ctrl.Statuses()})
}

func (hs *HTTPServer) handleBuckets(w http.ResponseWriter, r *http.Request) {
	name, ok := hs.sourceParam(w, r)
	if !ok {
		return
	}
	f, adhoc, err := filterFromQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !adhoc {
		if f, err = hs.cfg.Ctrl.Filter(name); err != nil {
			writeError(w, err)
			return
		}
	}

	// Preferred: ClickHouse over the whole stored history
	if r.URL.Query().Get("engine") == "clickhouse" && hs.cfg.CH != nil {
		crit, err := hs.cfg.Ctrl.Criteria(f)
		if err == nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			buckets, qerr := hs.cfg.CH.BucketCounts(ctx, name, crit)
			if qerr == nil {
				writeJSON(w, map[string]any{
					"engine":  "clickhouse",
					"source":  name,
					"filter":  f,
					"buckets": buckets,
				})
				return
			}
			hs.cfg.Log.Warnf("clickhouse /api/buckets failed, falling back to in-mem: %v", qerr)
		}
	}

	// Fallback: the currently loaded dataset
	v, err := hs.cfg.Ctrl.ViewWith(name, f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"engine":  "inmem",
		"source":  name,
		"filter":  f,
		"buckets": ranking.ComputeBuckets(v.Rows),
	})
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownSource):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ranking.ErrUnknownPreset):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}

// -------------------- dashboard --------------------

func (hs *HTTPServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	fmt.Fprint(w, dashboardHTML)
}

const dashboardHTML = `<!doctype html>
<html>
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>rankviewer</title>
  <style>
    body { font-family: ui-sans-serif, system-ui, -apple-system, Segoe UI, Roboto, Arial; background:#0c0c0f; color:#eaeaea; margin:0; }
    header { display:flex; justify-content:space-between; align-items:center; padding:12px 16px; border-bottom:1px solid #1c1f25; background:#0d0d12; gap:12px; flex-wrap:wrap; }
    .pill { padding:6px 10px; border-radius:999px; background:#2a2f3a; font-size:12px; }
    main { max-width: 1100px; margin: 16px auto; padding: 0 16px; }
    .row { display:flex; gap:8px; align-items:center; margin: 10px 0; flex-wrap:wrap; }
    select, input, button { background:#0d0d12; color:#eaeaea; border:1px solid #2a2f3a; border-radius:8px; padding:6px 8px; }
    button { cursor:pointer; }
    table { width:100%; border-collapse: collapse; font-variant-numeric: tabular-nums; }
    th, td { padding:6px 10px; border-bottom:1px solid #1c1f25; text-align:right; }
    th:first-child, td:first-child { text-align:left; }
    .muted { color:#8a8f98; }
    .err { color:#f87171; }
    a { color:#93c5fd; text-decoration:none; }
    .cols { display:grid; grid-template-columns: 2fr 1fr; gap:16px; }
  </style>
</head>
<body>
<header>
  <div><b>rankviewer</b> <span class="muted" id="title"></span></div>
  <div class="pill"><a href="/">SQL UI</a></div>
  <div class="pill" id="status">loading…</div>
</header>
<main>
  <div class="row">
    <select id="source"></select>
    <select id="year"><option value="">年</option></select>
    <select id="month"><option value="">月</option></select>
    <input id="start" placeholder="開始 YYYY/MM/DD" size="14"/>
    <input id="end" placeholder="終了 YYYY/MM/DD" size="14"/>
    <select id="weekday"><option value="">曜日</option><option>日</option><option>月</option><option>火</option><option>水</option><option>木</option><option>金</option><option>土</option></select>
    <button id="apply">適用</button>
    <button id="reset">リセット</button>
  </div>
  <div class="row">
    <button data-range="today">今日</button>
    <button data-range="week">今週</button>
    <button data-range="month">今月</button>
    <button data-range="year">今年</button>
  </div>
  <div class="muted" id="meta"></div>
  <div class="cols">
    <table>
      <thead><tr><th>日付</th><th>曜日</th><th>時刻</th><th>ランキング</th></tr></thead>
      <tbody id="rows"></tbody>
    </table>
    <table>
      <thead><tr><th>順位帯</th><th>件数</th><th>割合</th></tr></thead>
      <tbody id="buckets"></tbody>
    </table>
  </div>
</main>
<script>
const $ = (id) => document.getElementById(id);
let source = '';

function fillSelect(el, values, label) {
  const cur = el.value;
  el.innerHTML = '<option value="">' + label + '</option>';
  for (const v of values || []) {
    const o = document.createElement('option');
    o.value = v; o.textContent = v;
    el.appendChild(o);
  }
  el.value = cur;
}

async function post(body) {
  await fetch('/api/filters?source=' + encodeURIComponent(source), {
    method: 'POST', headers: {'Content-Type': 'application/json'}, body: JSON.stringify(body)
  });
  await load();
}

async function load() {
  try {
    const v = await fetch('/api/view?source=' + encodeURIComponent(source), {cache:'no-store'}).then(r=>r.json());
    $('title').textContent = v.title || '';
    fillSelect($('year'), v.options.years, '年');
    fillSelect($('month'), v.options.months, '月');
    const loaded = v.loaded_at ? new Date(v.loaded_at).toLocaleString() : 'never';
    $('status').textContent = v.last_error ? 'error' : 'ok';
    $('status').className = 'pill' + (v.last_error ? ' err' : '');
    $('meta').textContent = 'loaded=' + loaded + ', showing ' + v.count + ' / ' + v.total +
      (v.filter.range ? ', range=' + v.filter.range : '') + (v.last_error ? ', last error: ' + v.last_error : '');

    const tbody = $('rows');
    tbody.innerHTML = '';
    for (const r of (v.table || [])) {
      const tr = document.createElement('tr');
      tr.innerHTML = '<td>' + r.date + '</td><td>' + r.weekday + '</td><td>' +
        (r.hour >= 0 ? r.hour + ':00' : '--') + '</td><td>' + (r.rank === null ? '-' : r.rank + '位') + '</td>';
      tbody.appendChild(tr);
    }

    const bb = $('buckets');
    bb.innerHTML = '';
    const b = v.breakdown;
    for (const x of (b.buckets || [])) {
      const tr = document.createElement('tr');
      tr.innerHTML = '<td>' + x.label + '</td><td>' + x.count + '</td><td>' + x.share + '</td>';
      bb.appendChild(tr);
    }
    if (b.unknown > 0) {
      const tr = document.createElement('tr');
      tr.innerHTML = '<td>' + b.unknown_label + '</td><td>' + b.unknown + '</td><td></td>';
      bb.appendChild(tr);
    }
  } catch (e) {
    $('status').textContent = 'error';
  }
}

async function init() {
  const s = await fetch('/api/sources', {cache:'no-store'}).then(r=>r.json());
  for (const x of s.sources || []) {
    const o = document.createElement('option');
    o.value = x.name; o.textContent = x.title;
    $('source').appendChild(o);
  }
  source = $('source').value;
  $('source').addEventListener('change', () => { source = $('source').value; load(); });
  $('apply').addEventListener('click', () => post({
    year: $('year').value, month: $('month').value, start: $('start').value,
    end: $('end').value, weekday: $('weekday').value
  }));
  $('reset').addEventListener('click', async () => {
    for (const id of ['year','month','start','end','weekday']) $(id).value = '';
    await fetch('/api/filters?source=' + encodeURIComponent(source), {method: 'DELETE'});
    await load();
  });
  for (const b of document.querySelectorAll('button[data-range]')) {
    b.addEventListener('click', () => post({range: b.dataset.range}));
  }
  await load();
  setInterval(load, 300000);
}
init();
</script>
</body>
</html>`
