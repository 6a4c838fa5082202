package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"

	"rankviewer/ranking"
)

// consoleQuery is a canned query offered by the SQL console. $source stands
// for the source picked in the page.
type consoleQuery struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	SQL   string `json:"sql"`
}

var consoleQueries = []consoleQuery{
	{
		Name:  "buckets",
		Title: "10位刻みの分布 (直近30日)",
		SQL: `SELECT
  concat(toString(intDiv(assumeNotNull(rank) - 1, 10) * 10 + 1), '-', toString(intDiv(assumeNotNull(rank) - 1, 10) * 10 + 10), '位') AS bucket,
  count() AS n
FROM rank_observations FINAL
WHERE source = $source AND rank IS NOT NULL AND day >= today() - 30
GROUP BY intDiv(assumeNotNull(rank) - 1, 10), bucket
ORDER BY intDiv(assumeNotNull(rank) - 1, 10)`,
	},
	{
		Name:  "daily",
		Title: "日別の最高・最低順位",
		SQL: `SELECT day, any(weekday) AS weekday, min(rank) AS best, max(rank) AS worst, count() AS n
FROM rank_observations FINAL
WHERE source = $source AND rank IS NOT NULL
GROUP BY day
ORDER BY day DESC
LIMIT 90`,
	},
	{
		Name:  "hourly",
		Title: "時刻別の平均順位",
		SQL: `SELECT hour, round(avg(rank), 1) AS avg_rank, min(rank) AS best, count() AS n
FROM rank_observations FINAL
WHERE source = $source AND rank IS NOT NULL
GROUP BY hour
ORDER BY hour`,
	},
	{
		Name:  "weekday",
		Title: "曜日別の平均順位",
		SQL: `SELECT weekday, round(avg(rank), 1) AS avg_rank, count() AS n
FROM rank_observations FINAL
WHERE source = $source AND rank IS NOT NULL
GROUP BY weekday
ORDER BY avg_rank`,
	},
	{
		Name:  "unknown",
		Title: "順位不明の件数 (全ソース)",
		SQL: `SELECT source, countIf(rank IS NULL) AS unknown, count() AS n, max(day) AS latest
FROM rank_observations FINAL
GROUP BY source
ORDER BY source`,
	},
}

const consoleMaxRows = 5000

type queryReq struct {
	SQL    string `json:"sql"`
	Source string `json:"source"`
}

type queryResp struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	ElapsedMS int64    `json:"elapsed_ms"`
	Truncated bool     `json:"truncated,omitempty"`
	Error     string   `json:"error,omitempty"`
}

func (hs *HTTPServer) handleQueryUI(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")

	msg := ""
	if hs.cfg.CH == nil {
		msg = "ClickHouse is not connected; start rankviewer with -clickhouse to query rank_observations."
	}
	fmt.Fprint(w, consolePage(hs.cfg.RunID, msg))
}

func (hs *HTTPServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	if hs.cfg.CH == nil || hs.cfg.CH.SQLDB() == nil {
		http.Error(w, "ClickHouse not configured", http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req queryReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	clean, ok, reason := validateQuery(req.SQL, os.Getenv("ALLOW_DDL") == "1")
	if !ok {
		http.Error(w, reason, http.StatusBadRequest)
		return
	}
	clean, err := expandSource(clean, strings.TrimSpace(req.Source), hs.cfg.Ctrl.Sources())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	start := time.Now()
	resp, err := runConsoleQuery(ctx, hs.cfg.CH.SQLDB(), clean, consoleMaxRows)
	resp.ElapsedMS = time.Since(start).Milliseconds()
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, resp)
}

var errNoSource = errors.New("query uses $source but no source was picked")

// expandSource replaces $source with the quoted name of a configured source.
// Source names are restricted to [a-zA-Z0-9_-], so quoting is enough.
func expandSource(sqlText, source string, sources []Source) (string, error) {
	if !strings.Contains(sqlText, "$source") {
		return sqlText, nil
	}
	if source == "" {
		return "", errNoSource
	}
	for _, s := range sources {
		if s.Name == source {
			return strings.ReplaceAll(sqlText, "$source", "'"+s.Name+"'"), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownSource, source)
}

func runConsoleQuery(ctx context.Context, db *sql.DB, q string, maxRows int) (queryResp, error) {
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return queryResp{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return queryResp{}, err
	}

	out := queryResp{Columns: cols, Rows: make([][]any, 0, 64)}
	for rows.Next() {
		if len(out.Rows) == maxRows {
			out.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return out, err
		}
		for i := range vals {
			vals[i] = consoleValue(vals[i])
		}
		out.Rows = append(out.Rows, vals)
	}
	return out, rows.Err()
}

// consoleValue makes a scanned ClickHouse value JSON friendly. Nullable
// columns arrive as pointers; Date columns are shown as date keys.
func consoleValue(v any) any {
	if v == nil {
		return nil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		return consoleValue(rv.Elem().Interface())
	}
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return ranking.FormatDate(x)
		}
		return x.Format(time.RFC3339Nano)
	}
	return v
}

var (
	leadingCommentsRe = regexp.MustCompile(`^(?:\s*(?:--[^\n]*(?:\n|$)|/\*(?s:.*?)\*/))*`)
	writeKeywordRe    = regexp.MustCompile(`(?i)\b(?:insert|alter|drop|create|truncate|optimize|attach|detach|system|grant|revoke|delete|rename|kill)\b`)
)

// validateQuery admits a single SELECT or WITH statement after dropping
// leading comments and one trailing semicolon. allowDDL lifts the
// read-only check but still refuses multiple statements.
func validateQuery(sqlText string, allowDDL bool) (clean string, ok bool, reason string) {
	s := strings.TrimSpace(leadingCommentsRe.ReplaceAllString(sqlText, ""))
	s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	if s == "" {
		return "", false, "empty sql"
	}
	if strings.Contains(s, ";") {
		return "", false, "multi-statement queries are not allowed"
	}
	if allowDDL {
		return s, true, ""
	}

	l := strings.ToLower(s)
	if !strings.HasPrefix(l, "select") && !strings.HasPrefix(l, "with") {
		return "", false, "only SELECT queries are allowed (set ALLOW_DDL=1 to override)"
	}
	if kw := writeKeywordRe.FindString(s); kw != "" {
		return "", false, fmt.Sprintf("query rejected: %s is not allowed (set ALLOW_DDL=1 to override)", strings.ToUpper(kw))
	}
	return s, true, ""
}

func consolePage(runID, banner string) string {
	bannerHTML := ""
	if banner != "" {
		bannerHTML = `<div class="banner">` + html.EscapeString(banner) + `</div>`
	}
	queries, _ := json.Marshal(consoleQueries)

	return fmt.Sprintf(`<!doctype html>
<html>
<head>
  <meta charset="utf-8"/>
  <title>rankviewer | rank_observations</title>
  <style>
    body { font-family: ui-sans-serif, system-ui, Arial; background:#0c0c0f; color:#eaeaea; margin:0; }
    header { padding:12px 16px; border-bottom:1px solid #1c1f25; display:flex; justify-content:space-between; }
    .banner { margin:12px 16px; padding:10px 12px; border:1px solid #2a2f3a; border-radius:10px; color:#cbd5e1; }
    main { max-width:1100px; margin:16px auto; padding:0 16px; }
    select, button, textarea { background:#0d0d12; color:#eaeaea; border:1px solid #2a2f3a; border-radius:8px; padding:6px 8px; }
    textarea { width:100%%; height:180px; font-family: ui-monospace, Menlo, monospace; font-size:13px; }
    table { width:100%%; border-collapse:collapse; font-variant-numeric: tabular-nums; margin-top:12px; }
    th, td { padding:6px 10px; border-bottom:1px solid #1c1f25; text-align:left; }
    .muted { color:#8a8f98; } .err { color:#f87171; }
    a { color:#93c5fd; text-decoration:none; }
  </style>
</head>
<body>
<header>
  <div><b>rankviewer</b> <span class="muted">rank_observations</span></div>
  <div class="muted">run %s · <a href="/dashboard">dashboard</a></div>
</header>
%s
<main>
  <p>
    <select id="source"></select>
    <select id="preset"></select>
    <button id="run">実行</button>
    <span class="muted" id="meta"></span>
  </p>
  <textarea id="sql"></textarea>
  <div class="err" id="err"></div>
  <table><thead id="thead"></thead><tbody id="tbody"></tbody></table>
</main>
<script>
const QUERIES = %s;
const $ = (id) => document.getElementById(id);

function cell(tag, text) {
  const el = document.createElement(tag);
  el.textContent = text === null || text === undefined ? '' : text;
  return el;
}

async function loadSources() {
  const data = await (await fetch('/api/sources')).json();
  for (const s of data.sources || []) {
    const o = document.createElement('option');
    o.value = s.name; o.textContent = s.title || s.name;
    $('source').appendChild(o);
  }
}

async function run() {
  $('run').disabled = true;
  $('err').textContent = '';
  $('thead').innerHTML = '';
  $('tbody').innerHTML = '';
  try {
    const resp = await fetch('/query', {
      method: 'POST',
      headers: {'Content-Type': 'application/json'},
      body: JSON.stringify({sql: $('sql').value, source: $('source').value})
    });
    if (!resp.ok) { $('err').textContent = await resp.text(); return; }
    const data = await resp.json();
    if (data.error) { $('err').textContent = data.error; return; }
    $('meta').textContent = data.elapsed_ms + 'ms' + (data.truncated ? ' (truncated)' : '');
    const tr = document.createElement('tr');
    for (const c of data.columns || []) tr.appendChild(cell('th', c));
    $('thead').appendChild(tr);
    for (const row of data.rows || []) {
      const r = document.createElement('tr');
      for (const v of row) r.appendChild(cell('td', v));
      $('tbody').appendChild(r);
    }
  } catch (e) {
    $('err').textContent = '' + e;
  } finally {
    $('run').disabled = false;
  }
}

for (const q of QUERIES) {
  const o = document.createElement('option');
  o.value = q.name; o.textContent = q.title;
  $('preset').appendChild(o);
}
$('preset').addEventListener('change', () => {
  $('sql').value = QUERIES.find((q) => q.name === $('preset').value).sql;
});
$('sql').value = QUERIES[0].sql;
$('run').addEventListener('click', run);
loadSources().then(run);
</script>
</body>
</html>`, html.EscapeString(runID), bannerHTML, queries)
}
