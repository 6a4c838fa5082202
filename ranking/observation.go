// Package ranking holds the rank-bucketing and filtering pipeline shared by
// every chart source. All functions are pure: they never modify their input
// and always return freshly allocated slices.
package ranking

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Observation is one scraped rank record.
type Observation struct {
	Date    string `json:"date"`
	Weekday string `json:"weekday"`
	Hour    int    `json:"hour"`
	Rank    Rank   `json:"rank"`
}

// Rank is a chart position. A zero Rank is "unknown".
type Rank struct {
	Value int
	OK    bool
}

func RankOf(v int) Rank {
	if v < 1 {
		return Rank{}
	}
	return Rank{Value: v, OK: true}
}

// Valid reports whether the rank is a positive integer.
func (r Rank) Valid() bool { return r.OK && r.Value >= 1 }

func (r Rank) MarshalJSON() ([]byte, error) {
	if !r.Valid() {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(r.Value)), nil
}

// UnmarshalJSON never fails: anything that is not a positive integer
// (number or numeric string) becomes an unknown rank.
func (r *Rank) UnmarshalJSON(b []byte) error {
	*r = parseRank(b)
	return nil
}

func parseRank(raw json.RawMessage) Rank {
	n, ok := parseInt(raw)
	if !ok {
		return Rank{}
	}
	return RankOf(n)
}

func parseInt(raw json.RawMessage) (int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		s = strings.TrimSpace(s)
	} else {
		s = string(raw)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

// FieldNames maps feed record keys onto Observation fields.
type FieldNames struct {
	Date    string `yaml:"date" json:"date"`
	Weekday string `yaml:"weekday" json:"weekday"`
	Hour    string `yaml:"hour" json:"hour"`
	Rank    string `yaml:"rank" json:"rank"`
}

// DefaultFieldNames are the keys used by the podcast ranking feeds.
func DefaultFieldNames() FieldNames {
	return FieldNames{
		Date:    "日付",
		Weekday: "曜日",
		Hour:    "時刻",
		Rank:    "ランキング",
	}
}

// WithDefaults fills empty names from DefaultFieldNames.
func (f FieldNames) WithDefaults() FieldNames {
	d := DefaultFieldNames()
	if f.Date == "" {
		f.Date = d.Date
	}
	if f.Weekday == "" {
		f.Weekday = d.Weekday
	}
	if f.Hour == "" {
		f.Hour = d.Hour
	}
	if f.Rank == "" {
		f.Rank = d.Rank
	}
	return f
}

var ErrNotArray = errors.New("feed is not a JSON array")

// DecodeFeed parses a feed document. Elements that are not JSON objects are
// skipped; bad field values are tolerated (invalid rank, hour -1).
func DecodeFeed(data []byte, fields FieldNames) ([]Observation, error) {
	fields = fields.WithDefaults()

	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		return nil, ErrNotArray
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}

	out := make([]Observation, 0, len(elems))
	for _, el := range elems {
		var rec map[string]json.RawMessage
		if err := json.Unmarshal(el, &rec); err != nil || rec == nil {
			continue
		}
		o := Observation{
			Date:    jsonString(rec[fields.Date]),
			Weekday: jsonString(rec[fields.Weekday]),
			Hour:    -1,
			Rank:    parseRank(rec[fields.Rank]),
		}
		if h, ok := parseInt(rec[fields.Hour]); ok && h >= 0 && h <= 23 {
			o.Hour = h
		}
		out = append(out, o)
	}
	return out, nil
}

func jsonString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// EncodeFeed writes observations back in feed form, keyed by fields.
func EncodeFeed(obs []Observation, fields FieldNames) ([]byte, error) {
	fields = fields.WithDefaults()

	var buf bytes.Buffer
	buf.WriteString("[")
	for i, o := range obs {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n  {")
		if err := writeField(&buf, fields.Date, o.Date, false); err != nil {
			return nil, err
		}
		if err := writeField(&buf, fields.Weekday, o.Weekday, true); err != nil {
			return nil, err
		}
		if err := writeField(&buf, fields.Hour, o.Hour, true); err != nil {
			return nil, err
		}
		if err := writeField(&buf, fields.Rank, o.Rank, true); err != nil {
			return nil, err
		}
		buf.WriteString("}")
	}
	if len(obs) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("]\n")
	return buf.Bytes(), nil
}

// writeField keeps the configured key order, which a map would lose.
func writeField(buf *bytes.Buffer, key string, v any, comma bool) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	val, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if comma {
		buf.WriteString(", ")
	}
	buf.Write(k)
	buf.WriteString(": ")
	buf.Write(val)
	return nil
}
