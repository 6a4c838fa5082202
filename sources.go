package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"rankviewer/ranking"
)

// Source is one chart whose observations the service tracks.
type Source struct {
	Name   string             `yaml:"name"`
	Title  string             `yaml:"title"`
	Feed   string             `yaml:"feed"`  // http(s) URL or local path of the JSON feed
	Chart  string             `yaml:"chart"` // optional podcastranking chart.json URL for ingest
	Fields ranking.FieldNames `yaml:"fields"`
}

type sourcesFile struct {
	Sources []Source `yaml:"sources"`
}

var sourceNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// LoadSources reads sources.yaml. Names must be unique and path-safe since
// they become file and table keys; a source without a feed defaults to
// <dataDir>/<name>/<name>.json, which is where ingest writes it.
func LoadSources(path, dataDir string) ([]Source, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sf sourcesFile
	if err := yaml.Unmarshal(b, &sf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(sf.Sources))
	out := make([]Source, 0, len(sf.Sources))
	for _, s := range sf.Sources {
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			continue
		}
		if !sourceNameRe.MatchString(s.Name) {
			return nil, fmt.Errorf("source %q: name must match [a-zA-Z0-9_-]", s.Name)
		}
		if _, ok := seen[s.Name]; ok {
			continue
		}
		seen[s.Name] = struct{}{}

		s.Title = strings.TrimSpace(s.Title)
		if s.Title == "" {
			s.Title = s.Name
		}
		s.Feed = strings.TrimSpace(s.Feed)
		if s.Feed == "" {
			s.Feed = defaultFeedPath(dataDir, s.Name)
		}
		s.Chart = strings.TrimSpace(s.Chart)
		s.Fields = s.Fields.WithDefaults()
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no sources found in %s", path)
	}
	return out, nil
}

func defaultFeedPath(dataDir, name string) string {
	return filepath.Join(dataDir, name, name+".json")
}
