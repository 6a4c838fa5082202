package main

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"rankviewer/ranking"
)

var ErrUnknownSource = errors.New("unknown source")

type sourceState struct {
	src Source

	data    *Dataset
	lastErr error
	errAt   time.Time
	filter  ActiveFilter
}

// Controller owns the application state of every source: the current
// dataset and the active filter. Views are computed from it on demand.
type Controller struct {
	now func() time.Time

	mu      sync.RWMutex
	order   []string
	sources map[string]*sourceState
}

func NewController(sources []Source, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	c := &Controller{
		now:     now,
		order:   make([]string, 0, len(sources)),
		sources: make(map[string]*sourceState, len(sources)),
	}
	for _, s := range sources {
		c.order = append(c.order, s.Name)
		c.sources[s.Name] = &sourceState{src: s}
	}
	return c
}

func (c *Controller) Sources() []Source {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Source, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.sources[name].src)
	}
	return out
}

// Replace swaps in a freshly loaded observation set. Readers see either the
// old set or the new one.
func (c *Controller) Replace(name string, obs []ranking.Observation, at time.Time) error {
	ds := &Dataset{
		Source:       name,
		Observations: append([]ranking.Observation(nil), obs...),
		LoadedAt:     at,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.sources[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	st.data = ds
	st.lastErr = nil
	return nil
}

// Fail records a load failure; the previous dataset stays visible.
func (c *Controller) Fail(name string, err error, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.sources[name]; ok {
		st.lastErr = err
		st.errAt = at
	}
}

func (c *Controller) Dataset(name string) (*Dataset, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	return st.data, nil
}

// SetCriteria activates field filters and clears any quick preset.
func (c *Controller) SetCriteria(name string, crit ranking.Criteria) error {
	return c.setFilter(name, ActiveFilter{Criteria: crit})
}

// SetPreset activates a quick preset and clears field filters.
func (c *Controller) SetPreset(name string, p ranking.Preset) error {
	if _, err := ranking.ParsePreset(string(p)); err != nil {
		return err
	}
	return c.setFilter(name, ActiveFilter{Preset: p})
}

func (c *Controller) ResetFilter(name string) error {
	return c.setFilter(name, ActiveFilter{})
}

func (c *Controller) setFilter(name string, f ActiveFilter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.sources[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	st.filter = f
	return nil
}

// Filter returns the active filter of a source.
func (c *Controller) Filter(name string) (ActiveFilter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.sources[name]
	if !ok {
		return ActiveFilter{}, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	return st.filter, nil
}

// Criteria resolves f to plain criteria, expanding a preset around the
// controller's current time.
func (c *Controller) Criteria(f ActiveFilter) (ranking.Criteria, error) {
	if f.Preset != "" {
		return ranking.PresetCriteria(f.Preset, c.now())
	}
	return f.Criteria, nil
}

// View projects the source through its active filter.
func (c *Controller) View(name string) (View, error) {
	c.mu.RLock()
	st, ok := c.sources[name]
	if !ok {
		c.mu.RUnlock()
		return View{}, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	f := st.filter
	c.mu.RUnlock()
	return c.ViewWith(name, f)
}

// ViewWith projects the source through an ad-hoc filter without changing the
// active one.
func (c *Controller) ViewWith(name string, f ActiveFilter) (View, error) {
	c.mu.RLock()
	st, ok := c.sources[name]
	if !ok {
		c.mu.RUnlock()
		return View{}, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	src, ds, lastErr := st.src, st.data, st.lastErr
	c.mu.RUnlock()

	var all []ranking.Observation
	v := View{
		Source: src.Name,
		Title:  src.Title,
		Filter: f,
	}
	if ds != nil {
		all = ds.Observations
		at := ds.LoadedAt
		v.LoadedAt = &at
	}
	if lastErr != nil {
		v.LastError = lastErr.Error()
	}

	rows, err := applyActiveFilter(all, f, c.now())
	if err != nil {
		return View{}, err
	}

	v.Total = len(all)
	v.Count = len(rows)
	v.Rows = rows
	v.Table = ranking.NewestFirst(rows)
	v.Series = ranking.Series(rows)
	v.Breakdown = newBreakdownView(ranking.Breakdown(rows))
	v.Options = ranking.DateOptions(all)
	return v, nil
}

func applyActiveFilter(obs []ranking.Observation, f ActiveFilter, now time.Time) ([]ranking.Observation, error) {
	if f.Preset != "" {
		return ranking.QuickFilter(obs, f.Preset, now)
	}
	return ranking.ApplyFilters(obs, f.Criteria), nil
}

// SourceStatus is the per-source summary served by /api/sources.
type SourceStatus struct {
	Name      string     `json:"name"`
	Title     string     `json:"title"`
	LoadedAt  *time.Time `json:"loaded_at"`
	Count     int        `json:"count"`
	LastError string     `json:"last_error,omitempty"`
	ErrorAt   *time.Time `json:"error_at,omitempty"`
}

func (c *Controller) Statuses() []SourceStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]SourceStatus, 0, len(c.order))
	for _, name := range c.order {
		st := c.sources[name]
		s := SourceStatus{Name: name, Title: st.src.Title}
		if st.data != nil {
			at := st.data.LoadedAt
			s.LoadedAt = &at
			s.Count = len(st.data.Observations)
		}
		if st.lastErr != nil {
			at := st.errAt
			s.LastError = st.lastErr.Error()
			s.ErrorAt = &at
		}
		out = append(out, s)
	}
	return out
}
