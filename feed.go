package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"rankviewer/ranking"
)

const maxFeedBytes = 64 << 20

// FeedLoader fetches a source's observation feed, either over HTTP or from
// a local file written by ingest.
type FeedLoader struct {
	client *http.Client
}

func NewFeedLoader(timeout time.Duration) *FeedLoader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FeedLoader{client: &http.Client{Timeout: timeout}}
}

func (f *FeedLoader) Load(ctx context.Context, src Source) ([]ranking.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		body []byte
		err  error
	)
	if isHTTP(src.Feed) {
		body, err = f.fetch(ctx, src.Feed)
	} else {
		body, err = os.ReadFile(src.Feed)
	}
	if err != nil {
		return nil, err
	}

	obs, err := ranking.DecodeFeed(body, src.Fields)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", src.Name, err)
	}
	return obs, nil
}

func (f *FeedLoader) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch feed: HTTP %s", resp.Status)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	return b, nil
}

func isHTTP(loc string) bool {
	l := strings.ToLower(loc)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}
